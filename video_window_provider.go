package media

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultGeometryCommitInterval is the minimum spacing of geometry commits
// for one window.
const DefaultGeometryCommitInterval = 200 * time.Millisecond

// WindowID is the unguessable token naming a video window.
type WindowID string

func newWindowID() WindowID { return WindowID(uuid.NewString()) }

// WidgetID names a top-level host window.
type WidgetID string

// WidgetState is the window-manager state of a widget.
type WidgetState int

const (
	WidgetStateUnknown WidgetState = iota
	WidgetStateNormal
	WidgetStateMinimized
	WidgetStateMaximized
	WidgetStateFullscreen
)

func (s WidgetState) String() string {
	switch s {
	case WidgetStateNormal:
		return "normal"
	case WidgetStateMinimized:
		return "minimized"
	case WidgetStateMaximized:
		return "maximized"
	case WidgetStateFullscreen:
		return "fullscreen"
	default:
		return "unknown"
	}
}

// VideoWindowParams are the per-window options chosen by the host.
type VideoWindowParams struct {
	// UseCodedSizeForOriginalRect makes the coded size, not the natural
	// size, the picture extent the source rectangle refers to.
	UseCodedSizeForOriginalRect bool
	// UseOverlayProcessorLayout places the window where the overlay
	// processor reports it.
	UseOverlayProcessorLayout bool
	// UseVideoMuteOnAppMinimized mutes the overlay while the owner widget
	// is minimized.
	UseVideoMuteOnAppMinimized bool
}

// DefaultVideoWindowParams returns the params used by media elements.
func DefaultVideoWindowParams() VideoWindowParams {
	return VideoWindowParams{
		UseOverlayProcessorLayout:  true,
		UseVideoMuteOnAppMinimized: true,
	}
}

// VideoWindowInfo describes a created window.
type VideoWindowInfo struct {
	ID       WindowID
	NativeID string
}

// VideoWindowClient is the host side of a video window. Callbacks run on
// the provider runner.
type VideoWindowClient interface {
	OnVideoWindowCreated(info VideoWindowInfo)
	OnVideoWindowDestroyed(id WindowID)
}

// videoWindow is the provider's record of one window.
type videoWindow struct {
	id     WindowID
	widget WidgetID
	client VideoWindowClient
	params VideoWindowParams

	nativeID string
	src      Rect
	dst      Rect
	natural  Size
	coded    Size

	visible      bool
	visibleKnown bool
	ownerShown   bool

	lastUpdated time.Time
	commit      cancelableTask
	committed   VideoWindowGeometry
	stopWatch   func() bool
}

func (w *videoWindow) geometry() VideoWindowGeometry {
	original := w.natural
	if w.params.UseCodedSizeForOriginalRect && !w.coded.IsEmpty() {
		original = w.coded
	}
	return VideoWindowGeometry{Src: w.src, Dst: w.dst, Original: RectFromSize(original), Natural: w.natural}
}

// VideoWindowProvider keeps the state of every video window and paces
// what reaches the window managers. Public methods may be called from any
// goroutine; the work runs on the provider runner.
type VideoWindowProvider struct {
	runner   *TaskRunner
	ui       *TaskRunner
	clock    Clock
	log      logging.LeveledLogger
	interval time.Duration

	controller *VideoWindowController

	// Owned by the provider runner.
	managers    map[WidgetID]*ForeignVideoWindowManager
	widgetShown map[WidgetID]bool
	windows     map[WindowID]*videoWindow
}

// NewVideoWindowProvider creates a provider running on runner that drives
// managers on ui. A non-positive interval selects
// DefaultGeometryCommitInterval.
func NewVideoWindowProvider(runner, ui *TaskRunner, interval time.Duration, loggerFactory logging.LoggerFactory) *VideoWindowProvider {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	if interval <= 0 {
		interval = DefaultGeometryCommitInterval
	}
	return &VideoWindowProvider{
		runner:      runner,
		ui:          ui,
		clock:       runner.Clock(),
		log:         loggerFactory.NewLogger("videowindow"),
		interval:    interval,
		managers:    make(map[WidgetID]*ForeignVideoWindowManager),
		widgetShown: make(map[WidgetID]bool),
		windows:     make(map[WindowID]*videoWindow),
	}
}

// AttachWidget makes windows of widget go to m.
func (p *VideoWindowProvider) AttachWidget(widget WidgetID, m *ForeignVideoWindowManager) {
	p.runner.PostTask(func() {
		p.managers[widget] = m
		if _, ok := p.widgetShown[widget]; !ok {
			p.widgetShown[widget] = true
		}
		m.onNativeID = func(id WindowID, nativeID string) {
			p.runner.PostTask(func() { p.nativeIDTask(id, nativeID) })
		}
	})
}

// CreateVideoWindow creates a window owned by widget and returns its id
// at once. client hears OnVideoWindowCreated when the compositor has
// assigned the native id. Cancelling ctx counts as the host disconnecting
// and destroys the window.
func (p *VideoWindowProvider) CreateVideoWindow(ctx context.Context, widget WidgetID, client VideoWindowClient, params VideoWindowParams) WindowID {
	id := newWindowID()
	p.runner.PostTask(func() { p.createTask(ctx, id, widget, client, params) })
	return id
}

func (p *VideoWindowProvider) createTask(ctx context.Context, id WindowID, widget WidgetID, client VideoWindowClient, params VideoWindowParams) {
	m, ok := p.managers[widget]
	if !ok {
		p.log.Errorf("window %s: unknown widget %s", id, widget)
		if client != nil {
			client.OnVideoWindowDestroyed(id)
		}
		return
	}
	w := &videoWindow{
		id:          id,
		widget:      widget,
		client:      client,
		params:      params,
		ownerShown:  p.widgetShown[widget],
		lastUpdated: p.clock.Now(),
	}
	p.windows[id] = w
	if p.controller != nil {
		p.controller.RegisterWindow(widget, id)
	}
	if ctx != nil {
		w.stopWatch = context.AfterFunc(ctx, func() {
			p.log.Debugf("window %s: client disconnected", id)
			p.DestroyVideoWindow(id)
		})
	}
	p.log.Infof("window %s: created for widget %s %+v", id, widget, params)

	p.ui.PostTask(func() {
		if err := m.CreateVideoWindow(id); err != nil {
			p.log.Errorf("window %s: %v", id, err)
			p.DestroyVideoWindow(id)
		}
	})
}

func (p *VideoWindowProvider) nativeIDTask(id WindowID, nativeID string) {
	w, ok := p.windows[id]
	if !ok {
		return
	}
	w.nativeID = nativeID
	if w.client != nil {
		w.client.OnVideoWindowCreated(VideoWindowInfo{ID: id, NativeID: nativeID})
	}
}

// DestroyVideoWindow destroys id and tells its client.
func (p *VideoWindowProvider) DestroyVideoWindow(id WindowID) {
	p.runner.PostTask(func() { p.destroyTask(id) })
}

func (p *VideoWindowProvider) destroyTask(id WindowID) {
	w, ok := p.windows[id]
	if !ok {
		p.log.Debugf("destroy of unknown window %s", id)
		return
	}
	w.commit.Cancel()
	if w.stopWatch != nil {
		w.stopWatch()
	}
	delete(p.windows, id)
	if p.controller != nil {
		p.controller.UnregisterWindow(id)
	}
	if m, ok := p.managers[w.widget]; ok {
		p.ui.PostTask(func() { m.DestroyVideoWindow(id) })
	}
	p.log.Infof("window %s: destroyed", id)
	if w.client != nil {
		w.client.OnVideoWindowDestroyed(id)
	}
}

// UpdateVideoWindowGeometry sets the source and destination of id.
func (p *VideoWindowProvider) UpdateVideoWindowGeometry(id WindowID, src, dst Rect) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "geometry")
		if w == nil {
			return
		}
		w.src, w.dst = src, dst
		p.geometryChanged(w)
	})
}

// overlayGeometry is the destination reported by the overlay processor.
func (p *VideoWindowProvider) overlayGeometry(id WindowID, dst Rect) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "overlay geometry")
		if w == nil || !w.params.UseOverlayProcessorLayout {
			return
		}
		w.dst = dst
		p.geometryChanged(w)
	})
}

// SetNaturalVideoSize records the video's natural size.
func (p *VideoWindowProvider) SetNaturalVideoSize(id WindowID, size Size) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "natural size")
		if w == nil || w.natural == size {
			return
		}
		w.natural = size
		p.geometryChanged(w)
	})
}

// SetCodedVideoSize records the video's coded size.
func (p *VideoWindowProvider) SetCodedVideoSize(id WindowID, size Size) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "coded size")
		if w == nil || w.coded == size {
			return
		}
		w.coded = size
		p.geometryChanged(w)
	})
}

// SetVideoWindowProperty passes a compositor property through to id.
func (p *VideoWindowProvider) SetVideoWindowProperty(id WindowID, key, value string) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "property")
		if w == nil {
			return
		}
		if m, ok := p.managers[w.widget]; ok {
			p.ui.PostTask(func() { m.SetVideoWindowProperty(id, key, value) })
		}
	})
}

// SetVideoWindowVisibility records whether the overlay processor drew id.
func (p *VideoWindowProvider) SetVideoWindowVisibility(id WindowID, visible bool) {
	p.runner.PostTask(func() {
		w := p.lookup(id, "visibility")
		if w == nil {
			return
		}
		if w.visibleKnown && w.visible == visible {
			return
		}
		w.visible, w.visibleKnown = visible, true
		if w.commit.Pending() {
			p.commit(w)
		}
		p.log.Debugf("window %s: visible=%v", id, visible)
		p.sendMute(w, muteHidden, !visible)
	})
}

// OnWidgetStateChanged follows the owner widget being minimized and
// restored.
func (p *VideoWindowProvider) OnWidgetStateChanged(widget WidgetID, state WidgetState) {
	p.runner.PostTask(func() {
		shown, ok := p.widgetShown[widget]
		if !ok {
			shown = true
		}
		switch state {
		case WidgetStateMaximized, WidgetStateFullscreen:
			shown = true
		case WidgetStateMinimized:
			shown = false
		}
		p.widgetShown[widget] = shown
		for _, w := range p.windows {
			if w.widget != widget || w.ownerShown == shown {
				continue
			}
			w.ownerShown = shown
			if !w.params.UseVideoMuteOnAppMinimized {
				continue
			}
			p.log.Debugf("window %s: owner %s, on screen=%v", w.id, state, w.visible)
			p.sendMute(w, muteMinimized, !shown)
		}
	})
}

// OnWidgetClosed destroys every window of widget.
func (p *VideoWindowProvider) OnWidgetClosed(widget WidgetID) {
	p.runner.PostTask(func() {
		for id, w := range p.windows {
			if w.widget == widget {
				p.destroyTask(id)
			}
		}
		delete(p.managers, widget)
		delete(p.widgetShown, widget)
	})
}

// Window returns a copy of the provider's view of id, for diagnostics.
func (p *VideoWindowProvider) Window(id WindowID) (info VideoWindowInfo, geometry VideoWindowGeometry, ok bool) {
	p.runner.Sync(func() {
		w, found := p.windows[id]
		if !found {
			return
		}
		info = VideoWindowInfo{ID: id, NativeID: w.nativeID}
		geometry, ok = w.committed, true
	})
	return info, geometry, ok
}

func (p *VideoWindowProvider) lookup(id WindowID, what string) *videoWindow {
	w, ok := p.windows[id]
	if !ok {
		p.log.Warnf("%s for unknown window %s", what, id)
		return nil
	}
	return w
}

// geometryChanged commits now, or once the interval since the last commit
// has passed. A commit already scheduled picks up the latest state.
func (p *VideoWindowProvider) geometryChanged(w *videoWindow) {
	if w.commit.Pending() || w.dst.IsEmpty() {
		return
	}
	if w.geometry() == w.committed {
		return
	}
	elapsed := p.clock.Now().Sub(w.lastUpdated)
	if elapsed >= p.interval {
		p.commit(w)
		return
	}
	w.commit.Schedule(p.runner, p.interval-elapsed, func() { p.commit(w) })
}

func (p *VideoWindowProvider) commit(w *videoWindow) {
	w.commit.Cancel()
	g := w.geometry()
	if g == w.committed || g.Dst.IsEmpty() {
		return
	}
	w.committed = g
	w.lastUpdated = p.clock.Now()
	m, ok := p.managers[w.widget]
	if !ok {
		return
	}
	id := w.id
	p.ui.PostTask(func() { m.UpdateVideoWindowGeometry(id, g) })
}

func (p *VideoWindowProvider) sendMute(w *videoWindow, r muteReason, on bool) {
	m, ok := p.managers[w.widget]
	if !ok {
		return
	}
	id := w.id
	p.ui.PostTask(func() { m.setMuteReason(id, r, on) })
}
