//go:build !linux

package media

// The platform codec library only exists on webOS.
func registerPlatformDevices(r *DeviceRegistry) {}
