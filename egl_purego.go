//go:build linux

package media

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/ebitengine/purego"
)

var (
	eglLibOnce    sync.Once
	eglLibInitErr error

	eglGetProcAddress    func(name string) uintptr
	eglGetCurrentDisplay func() uintptr
	eglGetError          func() int32

	eglCreateImageKHR    func(dpy, ctx uintptr, target uint32, buffer uintptr, attribs *int32) uintptr
	eglDestroyImageKHR   func(dpy, image uintptr) uint32
	eglCreateSyncKHR     func(dpy uintptr, typ uint32, attribs *int32) uintptr
	eglClientWaitSyncKHR func(dpy, sync uintptr, flags int32, timeout uint64) int32
	eglDestroySyncKHR    func(dpy, sync uintptr) uint32

	glBindTexture                func(target, texture uint32)
	glEGLImageTargetTexture2DOES func(target uint32, image uintptr)
	glGetError                   func() uint32
)

const (
	eglSyncFenceKHR          = 0x30F9
	eglConditionSatisfiedKHR = 0x30F6
	eglTimeoutExpiredKHR     = 0x30F5
	glNoError                = 0
)

func loadEGL() error {
	eglLibOnce.Do(func() {
		eglLibInitErr = loadEGLLibs()
	})
	return eglLibInitErr
}

func loadEGLLibs() error {
	egl, err := dlopenFirst("libEGL.so.1", nativeLibPaths("libEGL.so.1", "MEDIA_EGL_LIB_PATH"))
	if err != nil {
		return err
	}
	gles, err := dlopenFirst("libGLESv2.so.2", nativeLibPaths("libGLESv2.so.2", "MEDIA_GLES_LIB_PATH"))
	if err != nil {
		purego.Dlclose(egl)
		return err
	}

	purego.RegisterLibFunc(&eglGetProcAddress, egl, "eglGetProcAddress")
	purego.RegisterLibFunc(&eglGetCurrentDisplay, egl, "eglGetCurrentDisplay")
	purego.RegisterLibFunc(&eglGetError, egl, "eglGetError")
	purego.RegisterLibFunc(&glBindTexture, gles, "glBindTexture")
	purego.RegisterLibFunc(&glGetError, gles, "glGetError")

	// Extension entry points are only reachable through eglGetProcAddress.
	ext := []struct {
		fn   any
		name string
	}{
		{&eglCreateImageKHR, "eglCreateImageKHR"},
		{&eglDestroyImageKHR, "eglDestroyImageKHR"},
		{&eglCreateSyncKHR, "eglCreateSyncKHR"},
		{&eglClientWaitSyncKHR, "eglClientWaitSyncKHR"},
		{&eglDestroySyncKHR, "eglDestroySyncKHR"},
		{&glEGLImageTargetTexture2DOES, "glEGLImageTargetTexture2DOES"},
	}
	for _, e := range ext {
		addr := eglGetProcAddress(e.name)
		if addr == 0 {
			return fmt.Errorf("egl: missing extension entry point %s", e.name)
		}
		purego.RegisterFunc(e.fn, addr)
	}
	return nil
}

// IsEGLAvailable reports whether libEGL and libGLESv2 could be loaded.
func IsEGLAvailable() bool {
	return loadEGL() == nil
}

// PuregoEGL implements EGL over the system libEGL/libGLESv2. Calls must be
// made from the goroutine that owns the current GL context.
type PuregoEGL struct{}

// NewPuregoEGL loads the EGL libraries.
func NewPuregoEGL() (*PuregoEGL, error) {
	if err := loadEGL(); err != nil {
		return nil, err
	}
	return &PuregoEGL{}, nil
}

// CurrentDisplay returns eglGetCurrentDisplay().
func (PuregoEGL) CurrentDisplay() EGLDisplay {
	return EGLDisplay(eglGetCurrentDisplay())
}

func (PuregoEGL) CreateImage(display EGLDisplay, attribs []int32) (EGLImage, error) {
	if len(attribs) == 0 || attribs[len(attribs)-1] != eglNone {
		return EGLNoImage, errors.New("attribute list not terminated with EGL_NONE")
	}
	image := eglCreateImageKHR(uintptr(display), 0, eglLinuxDMABufExt, 0, &attribs[0])
	runtime.KeepAlive(attribs)
	if image == 0 {
		return EGLNoImage, fmt.Errorf("egl error %#x", eglGetError())
	}
	return EGLImage(image), nil
}

func (PuregoEGL) DestroyImage(display EGLDisplay, image EGLImage) error {
	if eglDestroyImageKHR(uintptr(display), uintptr(image)) == 0 {
		return fmt.Errorf("egl error %#x", eglGetError())
	}
	return nil
}

func (PuregoEGL) BindTexture(target, texture uint32, image EGLImage) error {
	glBindTexture(target, texture)
	glEGLImageTargetTexture2DOES(target, uintptr(image))
	if e := glGetError(); e != glNoError {
		return fmt.Errorf("gl error %#x", e)
	}
	return nil
}

func (PuregoEGL) CreateFence(display EGLDisplay) (GLFence, error) {
	s := eglCreateSyncKHR(uintptr(display), eglSyncFenceKHR, nil)
	if s == 0 {
		return nil, fmt.Errorf("egl error %#x", eglGetError())
	}
	return &eglFence{display: uintptr(display), sync: s}, nil
}

type eglFence struct {
	display uintptr
	sync    uintptr
}

// Signaled polls the fence without blocking.
func (f *eglFence) Signaled() bool {
	if f.sync == 0 {
		return true
	}
	switch eglClientWaitSyncKHR(f.display, f.sync, 0, 0) {
	case eglConditionSatisfiedKHR:
		return true
	case eglTimeoutExpiredKHR:
		return false
	default:
		// EGL_FALSE: the sync is unusable, never block reuse on it.
		return true
	}
}

func (f *eglFence) Close() {
	if f.sync != 0 {
		eglDestroySyncKHR(f.display, f.sync)
		f.sync = 0
	}
}
