//go:build unix

package media

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// NativePixmapPlane is one plane of a DMABUF backed buffer.
type NativePixmapPlane struct {
	FD     int
	Offset uint32
	Stride uint32
	Size   uint64
}

// NativePixmapHandle describes a DMABUF backed picture. The handle owns its
// file descriptors; transfer it by value of the pointer and Close it exactly
// once.
type NativePixmapHandle struct {
	Planes   []NativePixmapPlane
	Modifier uint64
}

// GpuMemoryBufferHandle is what the host passes to ImportBufferForPicture.
type GpuMemoryBufferHandle struct {
	ID     int32
	Pixmap *NativePixmapHandle
}

// Dup returns a handle with duplicated descriptors so the receiver owns an
// independent copy.
func (h *NativePixmapHandle) Dup() (*NativePixmapHandle, error) {
	if h == nil {
		return nil, nil
	}
	out := &NativePixmapHandle{Modifier: h.Modifier}
	for _, p := range h.Planes {
		fd, err := unix.Dup(p.FD)
		if err != nil {
			out.Close()
			return nil, fmt.Errorf("dup plane fd %d: %w", p.FD, err)
		}
		p.FD = fd
		out.Planes = append(out.Planes, p)
	}
	return out, nil
}

// Close closes every plane descriptor. It is safe to call on a nil handle
// and more than once.
func (h *NativePixmapHandle) Close() error {
	if h == nil {
		return nil
	}
	var errs []error
	for i := range h.Planes {
		if h.Planes[i].FD < 0 {
			continue
		}
		if err := unix.Close(h.Planes[i].FD); err != nil {
			errs = append(errs, err)
		}
		h.Planes[i].FD = -1
	}
	return errors.Join(errs...)
}

// Valid reports whether the handle has at least one open plane.
func (h *NativePixmapHandle) Valid() bool {
	if h == nil || len(h.Planes) == 0 {
		return false
	}
	for _, p := range h.Planes {
		if p.FD < 0 {
			return false
		}
	}
	return true
}
