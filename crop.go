package media

// CropInput is everything the compositor placement of one video window
// depends on. Rectangles are in primary screen coordinates except Src and
// Original, which are in video picture coordinates.
type CropInput struct {
	Src      Rect
	Dst      Rect
	Original Rect // full picture extent; empty when unknown
	Natural  Size // natural video size; empty when unknown

	Screen       Rect
	WidgetBounds Rect

	// CropSupported is false on compositors without set_crop_region.
	CropSupported bool
}

// CropResult is the compositor call for a CropInput.
type CropResult struct {
	Fullscreen bool
	// Offscreen is set when nothing of Dst is on the screen; the window
	// should be muted and no geometry sent.
	Offscreen bool
	// Clipped is set when the scaled source left Original and was cut
	// back to it.
	Clipped bool

	command compositorCommand
}

// UsesCropRegion reports whether the result maps to set_crop_region.
func (r CropResult) UsesCropRegion() bool { return r.command.kind == commandCropRegion }

// Regions returns the original, source and destination of the call.
func (r CropResult) Regions() (original, src, dst Rect) {
	return r.command.original, r.command.src, r.command.dst
}

func (r CropResult) String() string {
	if r.Offscreen {
		return "offscreen"
	}
	return r.command.String()
}

// ComputeCropRegion maps a video window's geometry onto a compositor call.
// A window covering its whole widget is fullscreen and handed to the
// compositor as is. A Dst with nothing on the screen is offscreen whatever
// else is known. Otherwise the part of Dst outside the screen is cut off
// and Src shrinks by the same proportion.
func ComputeCropRegion(in CropInput) CropResult {
	original := in.Original
	if original.IsEmpty() {
		original = RectFromSize(in.Natural)
	}
	src := in.Src
	if src.IsEmpty() {
		src = original
	}

	if !in.WidgetBounds.IsEmpty() && in.Dst == in.WidgetBounds {
		if !in.Natural.IsEmpty() {
			src = RectFromSize(in.Natural)
		}
		return CropResult{
			Fullscreen: true,
			command:    compositorCommand{kind: commandExportedWindow, src: src, dst: in.Dst},
		}
	}
	visible := in.Dst.Intersect(in.Screen)
	if !in.Screen.IsEmpty() && visible.IsEmpty() {
		return CropResult{Offscreen: true}
	}
	if !in.CropSupported || original.IsEmpty() || src.IsEmpty() || in.Screen.IsEmpty() {
		return CropResult{command: compositorCommand{kind: commandExportedWindow, src: src, dst: in.Dst}}
	}

	// Map the visible part of dst back into source coordinates.
	crop := Rect{
		X:      src.X + scaleInt(visible.X-in.Dst.X, src.Width, in.Dst.Width),
		Y:      src.Y + scaleInt(visible.Y-in.Dst.Y, src.Height, in.Dst.Height),
		Width:  scaleInt(visible.Width, src.Width, in.Dst.Width),
		Height: scaleInt(visible.Height, src.Height, in.Dst.Height),
	}
	crop.Width, crop.Height = max(crop.Width, 1), max(crop.Height, 1)

	res := CropResult{}
	if !original.Contains(crop) {
		res.Clipped = true
		crop = crop.Intersect(original)
		if crop.IsEmpty() {
			return CropResult{Offscreen: true, Clipped: true}
		}
	}
	res.command = compositorCommand{kind: commandCropRegion, original: original, src: crop, dst: visible}
	return res
}

// scaleInt returns v*num/den rounded to the nearest integer.
func scaleInt(v, num, den int) int {
	if den == 0 {
		return 0
	}
	p := int64(v) * int64(num)
	d := int64(den)
	if p >= 0 {
		return int((p + d/2) / d)
	}
	return int((p - d/2) / d)
}
