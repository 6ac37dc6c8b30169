package media

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEGLImageFactoryCreate(t *testing.T) {
	egl := newFakeEGL()
	f := NewEGLImageFactory(egl, testLoggerFactory())

	pixmap := &NativePixmapHandle{Planes: []NativePixmapPlane{
		{FD: 40, Offset: 0, Stride: 1280},
		{FD: 41, Offset: 921600, Stride: 1280},
	}}
	image, err := f.Create(1, 7, Size{1280, 720}, 0, PixelFormatNV12, pixmap)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if image == EGLNoImage {
		t.Fatal("Create returned EGLNoImage")
	}

	want := []int32{
		eglWidth, 1280,
		eglHeight, 720,
		eglLinuxDRMFourCCExt, int32(DRMFormatNV12),
		0x3272, 40, 0x3273, 0, 0x3274, 1280,
		0x3275, 41, 0x3276, 921600, 0x3277, 1280,
		eglNone,
	}
	if diff := cmp.Diff(want, egl.created[0]); diff != "" {
		t.Errorf("attribs mismatch (-want +got):\n%s", diff)
	}
	if egl.bound[7] != image {
		t.Errorf("texture 7 bound to %#x, want %#x", egl.bound[7], image)
	}
	if f.LiveImages() != 1 {
		t.Errorf("LiveImages = %d, want 1", f.LiveImages())
	}
}

func TestEGLImageFactoryPlaneLimit(t *testing.T) {
	egl := newFakeEGL()
	f := NewEGLImageFactory(egl, testLoggerFactory())
	pixmap := &NativePixmapHandle{Planes: make([]NativePixmapPlane, 4)}
	for i := range pixmap.Planes {
		pixmap.Planes[i].FD = 50 + i
	}
	if _, err := f.Create(1, 1, Size{64, 64}, 0, PixelFormatI420, pixmap); err != nil {
		t.Fatal(err)
	}
	// 6 header values, 3 planes of 3 pairs, EGL_NONE.
	if got := len(egl.created[0]); got != 6+3*6+1 {
		t.Errorf("attrib count = %d, want %d", got, 6+3*6+1)
	}
}

func TestEGLImageFactoryFailures(t *testing.T) {
	valid := &NativePixmapHandle{Planes: []NativePixmapPlane{{FD: 3, Stride: 64}}}

	tests := []struct {
		name   string
		setup  func(*fakeEGL)
		format PixelFormat
		pixmap *NativePixmapHandle
	}{
		{"unsupported format", nil, PixelFormatUnknown, valid},
		{"no planes", nil, PixelFormatBGRA, &NativePixmapHandle{}},
		{"EGL_NO_IMAGE", func(e *fakeEGL) { e.noImage = true }, PixelFormatBGRA, valid},
		{"egl error", func(e *fakeEGL) { e.failNext = errors.New("EGL_BAD_MATCH") }, PixelFormatBGRA, valid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			egl := newFakeEGL()
			if tt.setup != nil {
				tt.setup(egl)
			}
			f := NewEGLImageFactory(egl, testLoggerFactory())
			image, err := f.Create(1, 1, Size{64, 64}, 2, tt.format, tt.pixmap)
			if !errors.Is(err, ErrPlatformFailure) {
				t.Errorf("err = %v, want ErrPlatformFailure", err)
			}
			if image != EGLNoImage {
				t.Errorf("image = %#x, want EGLNoImage", image)
			}
		})
	}
}

func TestEGLImageFactoryDestroyIdempotent(t *testing.T) {
	egl := newFakeEGL()
	f := NewEGLImageFactory(egl, testLoggerFactory())
	pixmap := &NativePixmapHandle{Planes: []NativePixmapPlane{{FD: 3, Stride: 256}}}
	image, err := f.Create(1, 1, Size{64, 64}, 0, PixelFormatBGRA, pixmap)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := f.Destroy(1, image); err != nil {
			t.Fatalf("Destroy #%d: %v", i, err)
		}
	}
	if err := f.Destroy(1, EGLNoImage); err != nil {
		t.Fatal(err)
	}
	if len(egl.destroyed) != 1 {
		t.Errorf("eglDestroyImage called %d times, want 1", len(egl.destroyed))
	}
	if f.LiveImages() != 0 {
		t.Errorf("LiveImages = %d, want 0", f.LiveImages())
	}
}
