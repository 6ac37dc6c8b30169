package media

import (
	"slices"
	"sync"

	"github.com/pion/logging"
)

// VideoWindowController turns overlay processor passes into per-window
// visibility. It is safe for concurrent use; the overlay processor calls it
// from the compositor thread.
type VideoWindowController struct {
	provider *VideoWindowProvider
	log      logging.LeveledLogger

	mu      sync.Mutex
	windows map[WindowID]*controlledWindow
	// hidden holds, per widget in a pass, the windows not yet reported.
	hidden map[WidgetID]map[WindowID]struct{}
}

type controlledWindow struct {
	widget  WidgetID
	visible bool
}

// NewVideoWindowController creates a controller reporting to provider.
func NewVideoWindowController(provider *VideoWindowProvider, loggerFactory logging.LoggerFactory) *VideoWindowController {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	c := &VideoWindowController{
		provider: provider,
		log:      loggerFactory.NewLogger("controller"),
		windows:  make(map[WindowID]*controlledWindow),
		hidden:   make(map[WidgetID]map[WindowID]struct{}),
	}
	if provider != nil {
		provider.controller = c
	}
	return c
}

// RegisterWindow starts tracking id as a window of widget. New windows
// count as visible until a pass says otherwise.
func (c *VideoWindowController) RegisterWindow(widget WidgetID, id WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[id] = &controlledWindow{widget: widget, visible: true}
}

// UnregisterWindow stops tracking id.
func (c *VideoWindowController) UnregisterWindow(id WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	if !ok {
		return
	}
	delete(c.windows, id)
	if set, ok := c.hidden[w.widget]; ok {
		delete(set, id)
	}
}

// BeginOverlayProcessor starts a pass over widget's frame.
func (c *VideoWindowController) BeginOverlayProcessor(widget WidgetID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set := make(map[WindowID]struct{})
	for id, w := range c.windows {
		if w.widget == widget && w.visible {
			set[id] = struct{}{}
		}
	}
	c.hidden[widget] = set
}

// NotifyVideoWindowGeometryChanged reports that the pass drew id at rect.
func (c *VideoWindowController) NotifyVideoWindowGeometryChanged(widget WidgetID, id WindowID, rect Rect) {
	c.mu.Lock()
	w, ok := c.windows[id]
	if !ok {
		c.mu.Unlock()
		c.log.Warnf("overlay geometry for unknown window %s", id)
		return
	}
	if w.widget != widget {
		c.mu.Unlock()
		c.log.Warnf("window %s belongs to widget %s, not %s", id, w.widget, widget)
		return
	}
	if set, ok := c.hidden[widget]; ok {
		delete(set, id)
	}
	becameVisible := !w.visible
	w.visible = true
	c.mu.Unlock()

	if c.provider == nil {
		return
	}
	// Placed before it is unmuted.
	c.provider.overlayGeometry(id, rect)
	if becameVisible {
		c.provider.SetVideoWindowVisibility(id, true)
	}
}

// EndOverlayProcessor finishes the pass; windows it did not draw become
// invisible.
func (c *VideoWindowController) EndOverlayProcessor(widget WidgetID) {
	c.mu.Lock()
	set := c.hidden[widget]
	delete(c.hidden, widget)
	var gone []WindowID
	for id := range set {
		if w, ok := c.windows[id]; ok && w.visible {
			w.visible = false
			gone = append(gone, id)
		}
	}
	c.mu.Unlock()

	slices.Sort(gone)
	for _, id := range gone {
		c.log.Debugf("window %s: not drawn", id)
		if c.provider != nil {
			c.provider.SetVideoWindowVisibility(id, false)
		}
	}
}

// IsVideoWindowVisible reports the visibility from the last pass.
func (c *VideoWindowController) IsVideoWindowVisible(id WindowID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.windows[id]
	return ok && w.visible
}
