package media

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Provider identifies a codec device implementation.
type Provider uint8

const (
	ProviderAuto Provider = iota // Let the registry choose the best available
	ProviderMCIL                 // webOS media codec interface library
	ProviderCustom               // Host supplied device, registered at runtime
	providerCount
)

// Features is a bitmask of provider capabilities.
type Features uint32

const (
	FeatureImportMode     Features = 1 << iota // Host-imported DMABUF outputs
	FeatureDynamicBitrate                      // Runtime bitrate changes
	FeatureEncoderFlush                        // Encoder supports Flush
	FeatureMediaLayer                          // Routes pictures to an overlay plane
)

// Has returns true if all specified features are supported.
func (f Features) Has(feature Features) bool { return f&feature == feature }

// providerMeta contains static metadata about a provider.
type providerMeta struct {
	Name     string
	Encoder  bool
	Decoder  bool
	Features Features
}

// Static metadata table - indexed by Provider, zero allocations.
var providerInfo = [providerCount]providerMeta{
	ProviderAuto:   {"auto", false, false, 0},
	ProviderMCIL:   {"mcil", true, true, FeatureImportMode | FeatureDynamicBitrate | FeatureEncoderFlush | FeatureMediaLayer},
	ProviderCustom: {"custom", true, true, FeatureImportMode | FeatureDynamicBitrate | FeatureEncoderFlush},
}

// String returns the provider name.
func (p Provider) String() string {
	if p >= providerCount {
		return "unknown"
	}
	return providerInfo[p].Name
}

// Features returns the provider's feature bitmask.
func (p Provider) Features() Features {
	if p >= providerCount {
		return 0
	}
	return providerInfo[p].Features
}

// CanEncode returns true if the provider supports encoding.
func (p Provider) CanEncode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Encoder
}

// CanDecode returns true if the provider supports decoding.
func (p Provider) CanDecode() bool {
	if p >= providerCount {
		return false
	}
	return providerInfo[p].Decoder
}

// DecoderDeviceFactory creates decoder devices for one provider.
type DecoderDeviceFactory struct {
	New       func() (DecoderDevice, error)
	Profiles  func() []SupportedProfile
	Available func() bool
}

// EncoderDeviceFactory creates encoder devices for one provider.
type EncoderDeviceFactory struct {
	New       func() (EncoderDevice, error)
	Profiles  func() []SupportedProfile
	Available func() bool
}

// DeviceRegistry maps providers to device factories. One registry is owned
// by each PlatformContext.
type DeviceRegistry struct {
	mu sync.RWMutex

	decoders map[Provider]DecoderDeviceFactory
	encoders map[Provider]EncoderDeviceFactory

	// Registration order doubles as preference order for ProviderAuto.
	decoderOrder []Provider
	encoderOrder []Provider

	created atomic.Uint64
}

// NewDeviceRegistry returns an empty registry.
func NewDeviceRegistry() *DeviceRegistry {
	return &DeviceRegistry{
		decoders: make(map[Provider]DecoderDeviceFactory),
		encoders: make(map[Provider]EncoderDeviceFactory),
	}
}

// RegisterDecoder adds or replaces the decoder factory for p.
func (r *DeviceRegistry) RegisterDecoder(p Provider, f DecoderDeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decoders[p]; !ok {
		r.decoderOrder = append(r.decoderOrder, p)
	}
	r.decoders[p] = f
}

// RegisterEncoder adds or replaces the encoder factory for p.
func (r *DeviceRegistry) RegisterEncoder(p Provider, f EncoderDeviceFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.encoders[p]; !ok {
		r.encoderOrder = append(r.encoderOrder, p)
	}
	r.encoders[p] = f
}

func factoryAvailable(available func() bool) bool {
	return available == nil || available()
}

// NewDecoderDevice creates a decoder device. ProviderAuto picks the first
// available registered provider.
func (r *DeviceRegistry) NewDecoderDevice(p Provider) (DecoderDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p == ProviderAuto {
		for _, candidate := range r.decoderOrder {
			if factoryAvailable(r.decoders[candidate].Available) {
				p = candidate
				break
			}
		}
	}
	f, ok := r.decoders[p]
	if !ok || f.New == nil || !factoryAvailable(f.Available) {
		return nil, fmt.Errorf("%w: decoder %s", ErrDeviceNotFound, p)
	}
	r.created.Add(1)
	return f.New()
}

// NewEncoderDevice creates an encoder device.
func (r *DeviceRegistry) NewEncoderDevice(p Provider) (EncoderDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p == ProviderAuto {
		for _, candidate := range r.encoderOrder {
			if factoryAvailable(r.encoders[candidate].Available) {
				p = candidate
				break
			}
		}
	}
	f, ok := r.encoders[p]
	if !ok || f.New == nil || !factoryAvailable(f.Available) {
		return nil, fmt.Errorf("%w: encoder %s", ErrDeviceNotFound, p)
	}
	r.created.Add(1)
	return f.New()
}

// SupportedDecodeProfiles merges the profiles of every available provider.
func (r *DeviceRegistry) SupportedDecodeProfiles() []SupportedProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SupportedProfile
	for _, p := range r.decoderOrder {
		f := r.decoders[p]
		if f.Profiles != nil && factoryAvailable(f.Available) {
			out = append(out, f.Profiles()...)
		}
	}
	return out
}

// SupportedEncodeProfiles merges the profiles of every available provider.
func (r *DeviceRegistry) SupportedEncodeProfiles() []SupportedProfile {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SupportedProfile
	for _, p := range r.encoderOrder {
		f := r.encoders[p]
		if f.Profiles != nil && factoryAvailable(f.Available) {
			out = append(out, f.Profiles()...)
		}
	}
	return out
}

// DevicesCreated returns how many devices the registry has handed out.
func (r *DeviceRegistry) DevicesCreated() uint64 { return r.created.Load() }
