package media

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// EGLDisplay is an opaque EGLDisplay handle.
type EGLDisplay uintptr

// EGLImage is an opaque EGLImageKHR handle.
type EGLImage uintptr

// EGLNoImage is EGL_NO_IMAGE_KHR.
const EGLNoImage EGLImage = 0

// EGL and GL enums used to import DMABUFs.
const (
	eglNone                   = 0x3038
	eglHeight                 = 0x3056
	eglWidth                  = 0x3057
	eglLinuxDMABufExt         = 0x3270
	eglLinuxDRMFourCCExt      = 0x3271
	eglDMABufPlane0FDExt      = 0x3272
	eglDMABufPlane0OffsetExt  = 0x3273
	eglDMABufPlane0PitchExt   = 0x3274
	eglDMABufPlaneAttribCount = 3 // fd, offset, pitch per plane

	GLTextureExternalOES uint32 = 0x8D65

	maxEGLImagePlanes = 3
)

// EGL is the subset of EGL/GLES the decoder needs. It is implemented over
// libEGL with purego and faked in tests.
type EGL interface {
	// CreateImage calls eglCreateImageKHR with EGL_LINUX_DMA_BUF_EXT and no
	// context.
	CreateImage(display EGLDisplay, attribs []int32) (EGLImage, error)
	DestroyImage(display EGLDisplay, image EGLImage) error
	// BindTexture binds image to texture on target with
	// glEGLImageTargetTexture2DOES.
	BindTexture(target, texture uint32, image EGLImage) error
	// CreateFence inserts a fence into the GL command stream.
	CreateFence(display EGLDisplay) (GLFence, error)
}

// GLFence reports when the GL commands issued before it have completed.
type GLFence interface {
	Signaled() bool
	Close()
}

// EGLImageFactory creates EGLImages from DMABUF backed picture buffers and
// binds them to external-OES textures.
type EGLImageFactory struct {
	egl EGL
	log logging.LeveledLogger

	mu   sync.Mutex
	live map[EGLImage]EGLDisplay
}

// NewEGLImageFactory returns a factory over egl.
func NewEGLImageFactory(egl EGL, loggerFactory logging.LoggerFactory) *EGLImageFactory {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &EGLImageFactory{
		egl:  egl,
		log:  loggerFactory.NewLogger("egl"),
		live: make(map[EGLImage]EGLDisplay),
	}
}

// dmabufAttribs builds the eglCreateImageKHR attribute list for a pixmap.
func dmabufAttribs(size Size, fourcc uint32, pixmap *NativePixmapHandle) []int32 {
	planes := min(len(pixmap.Planes), maxEGLImagePlanes)
	attribs := make([]int32, 0, 7+planes*eglDMABufPlaneAttribCount)
	attribs = append(attribs,
		eglWidth, int32(size.Width),
		eglHeight, int32(size.Height),
		eglLinuxDRMFourCCExt, int32(fourcc),
	)
	for i := 0; i < planes; i++ {
		base := int32(eglDMABufPlane0FDExt + i*eglDMABufPlaneAttribCount)
		p := pixmap.Planes[i]
		attribs = append(attribs,
			base, int32(p.FD),
			base+1, int32(p.Offset),
			base+2, int32(p.Stride),
		)
	}
	return append(attribs, eglNone)
}

// Create imports pixmap as an EGLImage of the given size and binds it to
// texture. bufferIndex is only used for logging.
func (f *EGLImageFactory) Create(display EGLDisplay, texture uint32, size Size, bufferIndex int, format PixelFormat, pixmap *NativePixmapHandle) (EGLImage, error) {
	fourcc, ok := format.DRMFourCC()
	if !ok {
		return EGLNoImage, fmt.Errorf("%w: pixel format %s has no DRM fourcc", ErrPlatformFailure, format)
	}
	if !pixmap.Valid() {
		return EGLNoImage, fmt.Errorf("%w: buffer %d has no DMABUF planes", ErrPlatformFailure, bufferIndex)
	}

	image, err := f.egl.CreateImage(display, dmabufAttribs(size, fourcc, pixmap))
	if err != nil {
		return EGLNoImage, fmt.Errorf("%w: eglCreateImageKHR buffer %d: %v", ErrPlatformFailure, bufferIndex, err)
	}
	if image == EGLNoImage {
		return EGLNoImage, fmt.Errorf("%w: eglCreateImageKHR returned EGL_NO_IMAGE for buffer %d", ErrPlatformFailure, bufferIndex)
	}
	if err := f.egl.BindTexture(GLTextureExternalOES, texture, image); err != nil {
		_ = f.egl.DestroyImage(display, image)
		return EGLNoImage, fmt.Errorf("%w: bind texture %d: %v", ErrPlatformFailure, texture, err)
	}

	f.mu.Lock()
	f.live[image] = display
	f.mu.Unlock()

	f.log.Tracef("created image %#x buffer=%d texture=%d size=%s format=%s", image, bufferIndex, texture, size, format)
	return image, nil
}

// Destroy releases image. Destroying EGLNoImage or an image that was
// already destroyed is a no-op.
func (f *EGLImageFactory) Destroy(display EGLDisplay, image EGLImage) error {
	if image == EGLNoImage {
		return nil
	}
	f.mu.Lock()
	_, ok := f.live[image]
	delete(f.live, image)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.egl.DestroyImage(display, image); err != nil {
		return fmt.Errorf("%w: eglDestroyImageKHR: %v", ErrPlatformFailure, err)
	}
	return nil
}

// LiveImages returns how many images are currently alive.
func (f *EGLImageFactory) LiveImages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// CreateFence inserts a GL fence when the platform needs one before a
// picture is handed back to the codec.
func (f *EGLImageFactory) CreateFence(display EGLDisplay) (GLFence, error) {
	fence, err := f.egl.CreateFence(display)
	if err != nil {
		return nil, fmt.Errorf("%w: create fence: %v", ErrPlatformFailure, err)
	}
	return fence, nil
}
