package media

import (
	"errors"
	"fmt"
)

// ErrExportFailed is returned when the compositor refuses to export a
// video element.
var ErrExportFailed = errors.New("compositor export failed")

// SurfaceHandle is the compositor-side client surface of a widget.
type SurfaceHandle uintptr

// ExportedHandle is a compositor export of one element of a surface.
type ExportedHandle uintptr

// ExportType is the kind of element being exported.
type ExportType uint32

const (
	ExportTypeVideo    ExportType = 0
	ExportTypeSubtitle ExportType = 1
)

func (t ExportType) String() string {
	switch t {
	case ExportTypeVideo:
		return "video"
	case ExportTypeSubtitle:
		return "subtitle"
	default:
		return "unknown"
	}
}

// Compositor is the surface side of the webos_foreign protocol. Calls are
// made from the UI runner only.
type Compositor interface {
	// ExportElement exports an element of surface. onNativeID runs, on any
	// goroutine, once the compositor has assigned the element's native
	// window id.
	ExportElement(surface SurfaceHandle, typ ExportType, onNativeID func(nativeID string)) (ExportedHandle, error)
	// SetExportedWindow shows src of the video scaled into dst; the
	// compositor keeps the video's aspect ratio.
	SetExportedWindow(h ExportedHandle, src, dst Rect) error
	// SetCropRegion shows the src part of a picture whose full extent is
	// original in dst.
	SetCropRegion(h ExportedHandle, original, src, dst Rect) error
	SetProperty(h ExportedHandle, key, value string) error
	DestroyExported(h ExportedHandle)
}

// Compositor property keys and values.
const (
	PropertyMute = "mute"
	PropertyOn   = "on"
	PropertyOff  = "off"
)

// compositorCommandKind is the compositor primitive a geometry maps to.
type compositorCommandKind int

const (
	commandNone compositorCommandKind = iota
	commandExportedWindow
	commandCropRegion
)

func (k compositorCommandKind) String() string {
	switch k {
	case commandExportedWindow:
		return "set_exported_window"
	case commandCropRegion:
		return "set_crop_region"
	default:
		return "none"
	}
}

// compositorCommand is one geometry call on an exported element.
type compositorCommand struct {
	kind     compositorCommandKind
	original Rect
	src      Rect
	dst      Rect
}

func (c compositorCommand) String() string {
	switch c.kind {
	case commandExportedWindow:
		return fmt.Sprintf("%s src=%s dst=%s", c.kind, c.src, c.dst)
	case commandCropRegion:
		return fmt.Sprintf("%s ori=%s src=%s dst=%s", c.kind, c.original, c.src, c.dst)
	default:
		return c.kind.String()
	}
}

func (c compositorCommand) apply(comp Compositor, h ExportedHandle) error {
	switch c.kind {
	case commandExportedWindow:
		return comp.SetExportedWindow(h, c.src, c.dst)
	case commandCropRegion:
		return comp.SetCropRegion(h, c.original, c.src, c.dst)
	default:
		return nil
	}
}
