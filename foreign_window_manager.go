package media

import (
	"fmt"

	"github.com/pion/logging"
)

// VideoWindowGeometry is the placement of a video window as committed by
// the provider.
type VideoWindowGeometry struct {
	Src      Rect // visible part of the picture; empty for all of it
	Dst      Rect // on-screen destination
	Original Rect // picture extent the source is relative to
	Natural  Size
}

// ForeignWindowManagerConfig configures the manager of one widget.
type ForeignWindowManagerConfig struct {
	Widget        WidgetID
	Surface       SurfaceHandle
	WidgetBounds  Rect
	PrimaryScreen Rect
	CropSupported bool
}

// ForeignVideoWindowManager owns the video windows exported from one
// widget's surface. Every method must run on the UI runner.
type ForeignVideoWindowManager struct {
	cfg        ForeignWindowManagerConfig
	compositor Compositor
	ui         *TaskRunner
	log        logging.LeveledLogger
	weak       weakFactory

	windows  map[WindowID]*ForeignVideoWindow
	geometry map[WindowID]VideoWindowGeometry

	// onNativeID runs on the UI runner when a window leaves the pending
	// state.
	onNativeID func(id WindowID, nativeID string)
}

// NewForeignVideoWindowManager creates the manager for cfg.Widget.
func NewForeignVideoWindowManager(cfg ForeignWindowManagerConfig, compositor Compositor, ui *TaskRunner, loggerFactory logging.LoggerFactory) *ForeignVideoWindowManager {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &ForeignVideoWindowManager{
		cfg:        cfg,
		compositor: compositor,
		ui:         ui,
		log:        loggerFactory.NewLogger("foreignwindow"),
		windows:    make(map[WindowID]*ForeignVideoWindow),
		geometry:   make(map[WindowID]VideoWindowGeometry),
	}
}

// Widget returns the owning widget.
func (m *ForeignVideoWindowManager) Widget() WidgetID { return m.cfg.Widget }

// CreateVideoWindow exports a video element for id. The window stays
// pending until the compositor reports its native id.
func (m *ForeignVideoWindowManager) CreateVideoWindow(id WindowID) error {
	if _, ok := m.windows[id]; ok {
		return fmt.Errorf("%w: window %s exists", ErrInvalidArgument, id)
	}
	token := m.weak.Token()
	handle, err := m.compositor.ExportElement(m.cfg.Surface, ExportTypeVideo, func(nativeID string) {
		m.ui.PostTask(token.Bind(func() { m.nativeIDTask(id, nativeID) }))
	})
	if err != nil {
		return fmt.Errorf("widget %s window %s: %w", m.cfg.Widget, id, err)
	}
	m.windows[id] = newForeignVideoWindow(id, handle, m.compositor, m.log)
	m.log.Debugf("widget %s: exported window %s", m.cfg.Widget, id)
	return nil
}

func (m *ForeignVideoWindowManager) nativeIDTask(id WindowID, nativeID string) {
	w, ok := m.windows[id]
	if !ok {
		m.log.Debugf("native id %s for destroyed window %s", nativeID, id)
		return
	}
	if w.setNativeID(nativeID) && m.onNativeID != nil {
		m.onNativeID(id, nativeID)
	}
}

// DestroyVideoWindow removes the export of id.
func (m *ForeignVideoWindowManager) DestroyVideoWindow(id WindowID) {
	w, ok := m.windows[id]
	if !ok {
		m.log.Warnf("destroy of unknown window %s", id)
		return
	}
	w.destroy()
	delete(m.windows, id)
	delete(m.geometry, id)
}

// DestroyAll removes every window; used when the widget closes.
func (m *ForeignVideoWindowManager) DestroyAll() {
	for id, w := range m.windows {
		w.destroy()
		delete(m.windows, id)
	}
	clear(m.geometry)
	m.weak.Invalidate()
}

// Window returns the window for id, or nil.
func (m *ForeignVideoWindowManager) Window(id WindowID) *ForeignVideoWindow { return m.windows[id] }

// WindowCount returns how many windows are live.
func (m *ForeignVideoWindowManager) WindowCount() int { return len(m.windows) }

// UpdateVideoWindowGeometry places id on screen.
func (m *ForeignVideoWindowManager) UpdateVideoWindowGeometry(id WindowID, g VideoWindowGeometry) {
	if _, ok := m.windows[id]; !ok {
		m.log.Warnf("geometry for unknown window %s", id)
		return
	}
	m.geometry[id] = g
	m.place(id)
}

func (m *ForeignVideoWindowManager) place(id WindowID) {
	w := m.windows[id]
	g := m.geometry[id]
	res := ComputeCropRegion(CropInput{
		Src:           g.Src,
		Dst:           g.Dst,
		Original:      g.Original,
		Natural:       g.Natural,
		Screen:        m.cfg.PrimaryScreen,
		WidgetBounds:  m.cfg.WidgetBounds,
		CropSupported: m.cfg.CropSupported,
	})
	if res.Clipped {
		original, src, _ := res.Regions()
		m.log.Infof("window %s: source clipped to %s (original %s)", id, src, original)
	}
	if res.Offscreen {
		m.log.Debugf("window %s: %s is off screen", id, g.Dst)
		w.setMuteReason(muteOffscreen, true)
		return
	}
	w.setGeometry(res.command)
	if w.reasons&muteOffscreen != 0 {
		w.setMuteReason(muteOffscreen, false)
	}
}

// setMuteReason sets or clears one reason for muting id.
func (m *ForeignVideoWindowManager) setMuteReason(id WindowID, r muteReason, on bool) {
	w, ok := m.windows[id]
	if !ok {
		m.log.Warnf("mute for unknown window %s", id)
		return
	}
	w.setMuteReason(r, on)
}

// SetVideoWindowProperty forwards a compositor property of id.
func (m *ForeignVideoWindowManager) SetVideoWindowProperty(id WindowID, key, value string) {
	w, ok := m.windows[id]
	if !ok {
		m.log.Warnf("property %s for unknown window %s", key, id)
		return
	}
	w.setProperty(key, value)
}

// SetPrimaryScreen changes the screen windows are clipped against.
func (m *ForeignVideoWindowManager) SetPrimaryScreen(screen Rect) {
	if m.cfg.PrimaryScreen == screen {
		return
	}
	m.cfg.PrimaryScreen = screen
	m.placeAll()
}

// SetWidgetBounds changes the bounds used for fullscreen detection.
func (m *ForeignVideoWindowManager) SetWidgetBounds(bounds Rect) {
	if m.cfg.WidgetBounds == bounds {
		return
	}
	m.cfg.WidgetBounds = bounds
	m.placeAll()
}

func (m *ForeignVideoWindowManager) placeAll() {
	for id := range m.geometry {
		m.place(id)
	}
}
