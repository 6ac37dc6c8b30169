//go:build linux

// Compositor binding over libstream_foreign, a thin C shim around the
// wayland webos_foreign protocol, using purego.

package media

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/purego"
)

var (
	streamForeignOnce    sync.Once
	streamForeignInitErr error

	// Exported handle listeners, keyed by the user data handed to the shim.
	streamForeignListeners  sync.Map // uintptr -> func(string)
	streamForeignNextUser   atomic.Uintptr
	streamForeignNativeIDCB uintptr
)

// libstream_foreign function pointers
var (
	streamForeignConnect           func(display string) uintptr
	streamForeignDisconnect        func(ctx uintptr)
	streamForeignDispatch          func(ctx uintptr) int32
	streamForeignExportElement     func(ctx, surface uintptr, typ uint32, cb, user uintptr) uintptr
	streamForeignSetExportedWindow func(exported uintptr, sx, sy, sw, sh, dx, dy, dw, dh int32) int32
	streamForeignSetCropRegion     func(exported uintptr, ox, oy, ow, oh, sx, sy, sw, sh, dx, dy, dw, dh int32) int32
	streamForeignSetProperty       func(exported uintptr, key, value string) int32
	streamForeignDestroy           func(exported uintptr)
)

func loadStreamForeign() error {
	streamForeignOnce.Do(func() {
		streamForeignInitErr = loadStreamForeignLib()
	})
	return streamForeignInitErr
}

func loadStreamForeignLib() error {
	const libName = "libstream_foreign.so"
	handle, err := dlopenFirst(libName, nativeLibPaths(libName, "STREAM_FOREIGN_LIB_PATH"))
	if err != nil {
		return err
	}

	purego.RegisterLibFunc(&streamForeignConnect, handle, "stream_foreign_connect")
	purego.RegisterLibFunc(&streamForeignDisconnect, handle, "stream_foreign_disconnect")
	purego.RegisterLibFunc(&streamForeignDispatch, handle, "stream_foreign_dispatch")
	purego.RegisterLibFunc(&streamForeignExportElement, handle, "stream_foreign_export_element")
	purego.RegisterLibFunc(&streamForeignSetExportedWindow, handle, "stream_foreign_set_exported_window")
	purego.RegisterLibFunc(&streamForeignSetCropRegion, handle, "stream_foreign_set_crop_region")
	purego.RegisterLibFunc(&streamForeignSetProperty, handle, "stream_foreign_set_property")
	purego.RegisterLibFunc(&streamForeignDestroy, handle, "stream_foreign_destroy")

	// purego callbacks are a finite resource, so every export shares one
	// trampoline and is told apart by its user data.
	streamForeignNativeIDCB = purego.NewCallback(func(user, nativeID uintptr) uintptr {
		if fn, ok := streamForeignListeners.Load(user); ok {
			fn.(func(string))(goStringFromPtr(nativeID))
		}
		return 0
	})
	return nil
}

// IsForeignCompositorAvailable reports whether libstream_foreign loads.
func IsForeignCompositorAvailable() bool {
	return loadStreamForeign() == nil
}

// ForeignCompositor talks to the system compositor through libstream_foreign.
type ForeignCompositor struct {
	ctx uintptr

	mu    sync.Mutex
	users map[ExportedHandle]uintptr
}

// NewForeignCompositor connects to the wayland display (empty for the
// default one).
func NewForeignCompositor(display string) (*ForeignCompositor, error) {
	if err := loadStreamForeign(); err != nil {
		return nil, err
	}
	ctx := streamForeignConnect(display)
	if ctx == 0 {
		return nil, fmt.Errorf("%w: cannot connect to wayland display %q", ErrDeviceNotFound, display)
	}
	return &ForeignCompositor{ctx: ctx, users: make(map[ExportedHandle]uintptr)}, nil
}

// Dispatch delivers pending compositor events, native window ids included.
// The host calls it from its wayland event loop.
func (c *ForeignCompositor) Dispatch() error {
	if streamForeignDispatch(c.ctx) < 0 {
		return errors.New("wayland dispatch failed")
	}
	return nil
}

func (c *ForeignCompositor) ExportElement(surface SurfaceHandle, typ ExportType, onNativeID func(nativeID string)) (ExportedHandle, error) {
	user := streamForeignNextUser.Add(1)
	streamForeignListeners.Store(user, onNativeID)
	h := streamForeignExportElement(c.ctx, uintptr(surface), uint32(typ), streamForeignNativeIDCB, user)
	if h == 0 {
		streamForeignListeners.Delete(user)
		return 0, fmt.Errorf("%w: %s element of surface %#x", ErrExportFailed, typ, surface)
	}
	c.mu.Lock()
	c.users[ExportedHandle(h)] = user
	c.mu.Unlock()
	return ExportedHandle(h), nil
}

func (c *ForeignCompositor) SetExportedWindow(h ExportedHandle, src, dst Rect) error {
	if streamForeignSetExportedWindow(uintptr(h),
		int32(src.X), int32(src.Y), int32(src.Width), int32(src.Height),
		int32(dst.X), int32(dst.Y), int32(dst.Width), int32(dst.Height)) != 0 {
		return fmt.Errorf("set_exported_window %s -> %s failed", src, dst)
	}
	return nil
}

func (c *ForeignCompositor) SetCropRegion(h ExportedHandle, original, src, dst Rect) error {
	if streamForeignSetCropRegion(uintptr(h),
		int32(original.X), int32(original.Y), int32(original.Width), int32(original.Height),
		int32(src.X), int32(src.Y), int32(src.Width), int32(src.Height),
		int32(dst.X), int32(dst.Y), int32(dst.Width), int32(dst.Height)) != 0 {
		return fmt.Errorf("set_crop_region %s %s -> %s failed", original, src, dst)
	}
	return nil
}

func (c *ForeignCompositor) SetProperty(h ExportedHandle, key, value string) error {
	if streamForeignSetProperty(uintptr(h), key, value) != 0 {
		return fmt.Errorf("set_property %s=%s failed", key, value)
	}
	return nil
}

func (c *ForeignCompositor) DestroyExported(h ExportedHandle) {
	c.mu.Lock()
	user, ok := c.users[h]
	delete(c.users, h)
	c.mu.Unlock()
	if ok {
		streamForeignListeners.Delete(user)
	}
	streamForeignDestroy(uintptr(h))
}

// Close destroys remaining exports and disconnects.
func (c *ForeignCompositor) Close() {
	c.mu.Lock()
	handles := make([]ExportedHandle, 0, len(c.users))
	for h := range c.users {
		handles = append(handles, h)
	}
	c.mu.Unlock()
	for _, h := range handles {
		c.DestroyExported(h)
	}
	if c.ctx != 0 {
		streamForeignDisconnect(c.ctx)
		c.ctx = 0
	}
}
