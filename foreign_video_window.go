package media

import (
	"github.com/pion/logging"
)

// muteReason is one cause for hiding an overlay. The overlay is muted while
// any reason holds.
type muteReason uint8

const (
	muteHidden    muteReason = 1 << iota // not drawn by the last overlay pass
	muteMinimized                        // owner widget minimized
	muteOffscreen                        // destination entirely off screen
)

// muteState is what the compositor was last told.
type muteState int

const (
	muteUnknown muteState = iota
	muteOn
	muteOff
)

// ForeignVideoWindow is one exported video element. Until the compositor
// assigns the native window id the window is pending: geometry, mute and
// properties are recorded and sent once the id arrives. All methods run on
// the UI runner.
type ForeignVideoWindow struct {
	id         WindowID
	handle     ExportedHandle
	compositor Compositor
	log        logging.LeveledLogger

	nativeID  string
	destroyed bool

	// Wanted state.
	geometry   compositorCommand
	reasons    muteReason
	muteKnown  bool
	properties map[string]string
	propOrder  []string

	// What the compositor has seen.
	sentGeometry   compositorCommand
	sentMute       muteState
	sentProperties map[string]string
}

func newForeignVideoWindow(id WindowID, handle ExportedHandle, compositor Compositor, log logging.LeveledLogger) *ForeignVideoWindow {
	return &ForeignVideoWindow{
		id:             id,
		handle:         handle,
		compositor:     compositor,
		log:            log,
		properties:     make(map[string]string),
		sentProperties: make(map[string]string),
	}
}

// ID returns the window id.
func (w *ForeignVideoWindow) ID() WindowID { return w.id }

// NativeID returns the compositor's native window id, empty while pending.
func (w *ForeignVideoWindow) NativeID() string { return w.nativeID }

// Pending reports whether the native window id is still unknown.
func (w *ForeignVideoWindow) Pending() bool { return w.nativeID == "" }

// setNativeID ends the pending phase and replays what was buffered. It
// reports whether the id was accepted.
func (w *ForeignVideoWindow) setNativeID(nativeID string) bool {
	if w.destroyed || nativeID == "" {
		return false
	}
	if w.nativeID != "" {
		if w.nativeID != nativeID {
			w.log.Warnf("window %s: native id %q ignored, already %q", w.id, nativeID, w.nativeID)
		}
		return false
	}
	w.nativeID = nativeID
	w.log.Debugf("window %s: native id %s", w.id, nativeID)
	w.sync()
	return true
}

// setGeometry records cmd and sends it unless it is what the compositor
// already shows.
func (w *ForeignVideoWindow) setGeometry(cmd compositorCommand) {
	if w.destroyed {
		return
	}
	w.geometry = cmd
	w.sync()
}

func (w *ForeignVideoWindow) setMuteReason(r muteReason, on bool) {
	if w.destroyed {
		return
	}
	w.muteKnown = true
	if on {
		w.reasons |= r
	} else {
		w.reasons &^= r
	}
	w.sync()
}

func (w *ForeignVideoWindow) setProperty(key, value string) {
	if w.destroyed {
		return
	}
	if _, ok := w.properties[key]; !ok {
		w.propOrder = append(w.propOrder, key)
	}
	w.properties[key] = value
	w.sync()
}

// Muted reports whether the overlay is wanted muted.
func (w *ForeignVideoWindow) Muted() bool { return w.reasons != 0 }

func (w *ForeignVideoWindow) sync() {
	if w.Pending() {
		return
	}
	for _, key := range w.propOrder {
		value := w.properties[key]
		if sent, ok := w.sentProperties[key]; ok && sent == value {
			continue
		}
		if err := w.compositor.SetProperty(w.handle, key, value); err != nil {
			w.log.Warnf("window %s: %v", w.id, err)
			continue
		}
		w.sentProperties[key] = value
	}

	// Geometry before unmute.
	if w.geometry.kind != commandNone && w.geometry != w.sentGeometry {
		if err := w.geometry.apply(w.compositor, w.handle); err != nil {
			w.log.Warnf("window %s: %v", w.id, err)
		} else {
			w.log.Tracef("window %s: %s", w.id, w.geometry)
			w.sentGeometry = w.geometry
		}
	}

	if !w.muteKnown {
		return
	}
	want := muteOff
	if w.reasons != 0 {
		want = muteOn
	}
	if want == w.sentMute {
		return
	}
	value := PropertyOff
	if want == muteOn {
		value = PropertyOn
	}
	if err := w.compositor.SetProperty(w.handle, PropertyMute, value); err != nil {
		w.log.Warnf("window %s: %v", w.id, err)
		return
	}
	w.sentMute = want
}

// destroy tears down the export. Later calls are ignored.
func (w *ForeignVideoWindow) destroy() {
	if w.destroyed {
		return
	}
	w.destroyed = true
	w.compositor.DestroyExported(w.handle)
	w.log.Debugf("window %s: destroyed", w.id)
}
