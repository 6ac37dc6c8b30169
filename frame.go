// Core frame types used across the media package.
package media

import "time"

// PixelFormat represents video pixel formats.
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatI420                // YUV 4:2:0 planar (Y + U + V)
	PixelFormatYV12                // YUV 4:2:0 planar (Y + V + U)
	PixelFormatNV12                // YUV 4:2:0 semi-planar (Y + interleaved UV)
	PixelFormatBGRA                // Packed BGRA, 4 bytes per pixel
)

// DRM fourcc codes from drm_fourcc.h.
const (
	DRMFormatNV12     uint32 = 0x3231564e // 'N','V','1','2'
	DRMFormatYUV420   uint32 = 0x32315559 // 'Y','U','1','2'
	DRMFormatYVU420   uint32 = 0x32315659 // 'Y','V','1','2'
	DRMFormatARGB8888 uint32 = 0x34325241 // 'A','R','2','4'
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatI420:
		return "I420"
	case PixelFormatYV12:
		return "YV12"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatBGRA:
		return "BGRA"
	default:
		return "Unknown"
	}
}

// PlaneCount returns the number of planes for this pixel format.
func (p PixelFormat) PlaneCount() int {
	switch p {
	case PixelFormatI420, PixelFormatYV12:
		return 3
	case PixelFormatNV12:
		return 2 // Y, UV
	case PixelFormatBGRA:
		return 1 // Packed
	default:
		return 0
	}
}

// DRMFourCC maps the format to its DRM fourcc. The second result is false
// for formats the platform cannot import.
func (p PixelFormat) DRMFourCC() (uint32, bool) {
	switch p {
	case PixelFormatNV12:
		return DRMFormatNV12, true
	case PixelFormatI420:
		return DRMFormatYUV420, true
	case PixelFormatYV12:
		return DRMFormatYVU420, true
	case PixelFormatBGRA:
		// DRM names formats by little-endian word order; BGRA bytes are ARGB8888.
		return DRMFormatARGB8888, true
	default:
		return 0, false
	}
}

// PixelFormatFromDRMFourCC is the inverse of DRMFourCC.
func PixelFormatFromDRMFourCC(fourcc uint32) PixelFormat {
	switch fourcc {
	case DRMFormatNV12:
		return PixelFormatNV12
	case DRMFormatYUV420:
		return PixelFormatI420
	case DRMFormatYVU420:
		return PixelFormatYV12
	case DRMFormatARGB8888:
		return PixelFormatBGRA
	default:
		return PixelFormatUnknown
	}
}

// planeSize returns the stride and height of plane i for a frame of the given
// coded size.
func (p PixelFormat) planeSize(i int, size Size) (stride, rows int) {
	cw := (size.Width + 1) / 2
	ch := (size.Height + 1) / 2
	switch p {
	case PixelFormatI420, PixelFormatYV12:
		if i == 0 {
			return size.Width, size.Height
		}
		return cw, ch
	case PixelFormatNV12:
		if i == 0 {
			return size.Width, size.Height
		}
		return cw * 2, ch
	case PixelFormatBGRA:
		return size.Width * 4, size.Height
	default:
		return 0, 0
	}
}

// FrameAllocationSize returns the bytes needed to hold a tightly packed frame.
func FrameAllocationSize(format PixelFormat, size Size) int {
	total := 0
	for i := 0; i < format.PlaneCount(); i++ {
		stride, rows := format.planeSize(i, size)
		total += stride * rows
	}
	return total
}

// VideoFrame represents a raw video frame.
// The Data slices may point to external memory (e.g., C memory via FFI).
// Callers must ensure the data remains valid for the lifetime of the frame.
type VideoFrame struct {
	Data      [][]byte      // Plane data (1-3 planes depending on format)
	Stride    []int         // Stride for each plane in bytes
	Width     int           // Coded width in pixels
	Height    int           // Coded height in pixels
	Visible   Rect          // Visible sub-rectangle of the coded area
	Format    PixelFormat   // Pixel format
	Timestamp time.Duration // Presentation timestamp

	// Pixmap is set when the planes live in a DMABUF rather than Data.
	Pixmap *NativePixmapHandle
}

// NewVideoFrame allocates a tightly packed frame.
func NewVideoFrame(format PixelFormat, size Size) *VideoFrame {
	f := &VideoFrame{
		Width:   size.Width,
		Height:  size.Height,
		Visible: Rect{Width: size.Width, Height: size.Height},
		Format:  format,
	}
	for i := 0; i < format.PlaneCount(); i++ {
		stride, rows := format.planeSize(i, size)
		f.Data = append(f.Data, make([]byte, stride*rows))
		f.Stride = append(f.Stride, stride)
	}
	return f
}

// CodedSize returns the frame's coded size.
func (f *VideoFrame) CodedSize() Size {
	return Size{Width: f.Width, Height: f.Height}
}

// Clone creates a deep copy of the video frame.
// Use this when you need to keep the frame data beyond its original lifetime.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := &VideoFrame{
		Data:      make([][]byte, len(f.Data)),
		Stride:    make([]int, len(f.Stride)),
		Width:     f.Width,
		Height:    f.Height,
		Visible:   f.Visible,
		Format:    f.Format,
		Timestamp: f.Timestamp,
	}
	copy(clone.Stride, f.Stride)
	for i, plane := range f.Data {
		if plane != nil {
			clone.Data[i] = make([]byte, len(plane))
			copy(clone.Data[i], plane)
		}
	}
	return clone
}

// FrameType indicates whether a frame is a keyframe or delta frame.
type FrameType int

const (
	FrameTypeUnknown FrameType = iota
	FrameTypeKey               // IDR, can be decoded independently
	FrameTypeDelta             // P/B-frame, requires previous frames
)

func (f FrameType) String() string {
	switch f {
	case FrameTypeKey:
		return "Key"
	case FrameTypeDelta:
		return "Delta"
	default:
		return "Unknown"
	}
}

// EncodedFrame holds one encoded access unit on its way to a sink.
type EncodedFrame struct {
	Data      []byte        // Annex-B bitstream
	FrameType FrameType     // Key or delta frame
	Timestamp time.Duration // Presentation timestamp of the source frame
	Duration  time.Duration // Frame duration, zero if unknown
}

// IsKeyframe returns true if this is a keyframe.
func (f *EncodedFrame) IsKeyframe() bool {
	return f.FrameType == FrameTypeKey
}
