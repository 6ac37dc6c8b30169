package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// PlatformConfig configures a PlatformContext.
type PlatformConfig struct {
	// CommitInterval spaces geometry commits of one window.
	CommitInterval time.Duration
	// CropSupported enables set_crop_region; without it windows are placed
	// with set_exported_window only.
	CropSupported bool
	PrimaryScreen Rect

	// EGL imports decoded pictures. Nil leaves pictures without EGL images.
	EGL EGL

	Clock         Clock
	LoggerFactory logging.LoggerFactory
}

// DefaultPlatformConfig returns the webOS defaults for a 1080p panel.
func DefaultPlatformConfig() PlatformConfig {
	return PlatformConfig{
		CommitInterval: DefaultGeometryCommitInterval,
		CropSupported:  true,
		PrimaryScreen:  Rect{Width: 1920, Height: 1080},
		Clock:          SystemClock{},
	}
}

// PlatformContext owns the services shared by the media elements of one
// browser process: the device registry, the video window provider and
// controller, and one window manager per widget.
type PlatformContext struct {
	cfg           PlatformConfig
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger

	compositor Compositor
	registry   *DeviceRegistry
	images     *EGLImageFactory

	providerRunner *TaskRunner
	ui             *TaskRunner

	provider   *VideoWindowProvider
	controller *VideoWindowController

	mu       sync.Mutex
	managers map[WidgetID]*ForeignVideoWindowManager
	closed   bool
}

// NewPlatformContext builds a context. A nil registry gets the platform
// codec devices.
func NewPlatformContext(cfg PlatformConfig, compositor Compositor, registry *DeviceRegistry) *PlatformContext {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if registry == nil {
		registry = NewDeviceRegistry()
		registerPlatformDevices(registry)
	}
	pc := &PlatformContext{
		cfg:            cfg,
		loggerFactory:  cfg.LoggerFactory,
		log:            cfg.LoggerFactory.NewLogger("platform"),
		compositor:     compositor,
		registry:       registry,
		providerRunner: NewTaskRunner("video-window-provider", cfg.Clock, cfg.LoggerFactory),
		ui:             NewTaskRunner("ui", cfg.Clock, cfg.LoggerFactory),
		managers:       make(map[WidgetID]*ForeignVideoWindowManager),
	}
	if cfg.EGL != nil {
		pc.images = NewEGLImageFactory(cfg.EGL, cfg.LoggerFactory)
	}
	pc.provider = NewVideoWindowProvider(pc.providerRunner, pc.ui, cfg.CommitInterval, cfg.LoggerFactory)
	pc.controller = NewVideoWindowController(pc.provider, cfg.LoggerFactory)
	return pc
}

// Provider returns the video window provider.
func (pc *PlatformContext) Provider() *VideoWindowProvider { return pc.provider }

// Controller returns the video window controller.
func (pc *PlatformContext) Controller() *VideoWindowController { return pc.controller }

// Registry returns the codec device registry.
func (pc *PlatformContext) Registry() *DeviceRegistry { return pc.registry }

// RegisterWidget creates the window manager for a widget whose surface
// video elements are exported from.
func (pc *PlatformContext) RegisterWidget(id WidgetID, surface SurfaceHandle, bounds Rect) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.closed {
		return fmt.Errorf("%w: platform context closed", ErrIllegalState)
	}
	if _, ok := pc.managers[id]; ok {
		return fmt.Errorf("%w: widget %s already registered", ErrInvalidArgument, id)
	}
	m := NewForeignVideoWindowManager(ForeignWindowManagerConfig{
		Widget:        id,
		Surface:       surface,
		WidgetBounds:  bounds,
		PrimaryScreen: pc.cfg.PrimaryScreen,
		CropSupported: pc.cfg.CropSupported,
	}, pc.compositor, pc.ui, pc.loggerFactory)
	pc.managers[id] = m
	pc.provider.AttachWidget(id, m)
	pc.log.Infof("widget %s registered, bounds %s", id, bounds)
	return nil
}

// SetPrimaryScreen updates the screen every window is clipped against.
func (pc *PlatformContext) SetPrimaryScreen(screen Rect) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.cfg.PrimaryScreen = screen
	for _, m := range pc.managers {
		pc.ui.PostTask(func() { m.SetPrimaryScreen(screen) })
	}
}

// OnWidgetStateChanged forwards a window-manager state change.
func (pc *PlatformContext) OnWidgetStateChanged(id WidgetID, state WidgetState) {
	pc.provider.OnWidgetStateChanged(id, state)
}

// OnWidgetBoundsChanged updates the bounds used for fullscreen detection.
func (pc *PlatformContext) OnWidgetBoundsChanged(id WidgetID, bounds Rect) {
	pc.mu.Lock()
	m, ok := pc.managers[id]
	pc.mu.Unlock()
	if !ok {
		pc.log.Warnf("bounds for unknown widget %s", id)
		return
	}
	pc.ui.PostTask(func() { m.SetWidgetBounds(bounds) })
}

// OnWidgetClosed destroys the widget's windows and its manager.
func (pc *PlatformContext) OnWidgetClosed(id WidgetID) {
	pc.mu.Lock()
	m, ok := pc.managers[id]
	delete(pc.managers, id)
	pc.mu.Unlock()
	if !ok {
		return
	}
	pc.provider.OnWidgetClosed(id)
	// Runs after the per-window destroys the provider posts.
	pc.providerRunner.PostTask(func() {
		pc.ui.PostTask(m.DestroyAll)
	})
}

// NewDecodeAccelerator creates a decoder on a device from the registry.
// Client callbacks run on clientRunner.
func (pc *PlatformContext) NewDecodeAccelerator(p Provider, clientRunner *TaskRunner) (*VideoDecodeAccelerator, error) {
	device, err := pc.registry.NewDecoderDevice(p)
	if err != nil {
		return nil, err
	}
	return NewVideoDecodeAccelerator(device, pc.images, clientRunner, pc.loggerFactory), nil
}

// NewEncodeAccelerator creates an encoder on a device from the registry.
func (pc *PlatformContext) NewEncodeAccelerator(p Provider, clientRunner *TaskRunner) (*VideoEncodeAccelerator, error) {
	device, err := pc.registry.NewEncoderDevice(p)
	if err != nil {
		return nil, err
	}
	return NewVideoEncodeAccelerator(device, clientRunner, pc.loggerFactory), nil
}

// GetSupportedDecodeProfiles lists what the registered decoders handle.
func (pc *PlatformContext) GetSupportedDecodeProfiles() []SupportedProfile {
	return pc.registry.SupportedDecodeProfiles()
}

// GetSupportedEncodeProfiles lists what the registered encoders handle.
func (pc *PlatformContext) GetSupportedEncodeProfiles() []SupportedProfile {
	return pc.registry.SupportedEncodeProfiles()
}

// Close destroys every widget's windows and stops the runners.
func (pc *PlatformContext) Close() {
	pc.mu.Lock()
	if pc.closed {
		pc.mu.Unlock()
		return
	}
	pc.closed = true
	ids := make([]WidgetID, 0, len(pc.managers))
	for id := range pc.managers {
		ids = append(ids, id)
	}
	pc.mu.Unlock()

	for _, id := range ids {
		pc.OnWidgetClosed(id)
	}
	pc.providerRunner.Sync(func() {})
	pc.providerRunner.Stop()
	pc.ui.Sync(func() {})
	pc.ui.Stop()
}
