package media

// ScaleMode defines how scaling should handle aspect ratio mismatches.
type ScaleMode int

const (
	// ScaleModeStretch scales to exactly match target dimensions (may distort).
	ScaleModeStretch ScaleMode = iota
	// ScaleModeFit scales to fit within target dimensions, preserving aspect ratio (letterboxes).
	ScaleModeFit
	// ScaleModeFill scales to fill target dimensions, preserving aspect ratio (crops).
	ScaleModeFill
)

func (m ScaleMode) String() string {
	switch m {
	case ScaleModeStretch:
		return "stretch"
	case ScaleModeFit:
		return "fit"
	case ScaleModeFill:
		return "fill"
	default:
		return "unknown"
	}
}

// planeView is one 8-bit plane with its stride.
type planeView struct {
	data   []byte
	stride int
}

// i420View addresses the three planes of an I420 picture of a given size,
// whatever memory they live in.
type i420View struct {
	size    Size
	y, u, v planeView
}

// videoScaler scales I420 pictures between two fixed sizes with bilinear
// filtering.
type videoScaler struct {
	src, dst Size
	mode     ScaleMode
}

func newVideoScaler(src, dst Size, mode ScaleMode) *videoScaler {
	return &videoScaler{src: src, dst: dst, mode: mode}
}

// scale writes src into dst. In ScaleModeFit the area around the picture
// is filled with black.
func (s *videoScaler) scale(src, dst i420View) {
	sx, sy, sw, sh := s.sourceRegion()
	dx, dy, dw, dh := 0, 0, s.dst.Width, s.dst.Height
	if s.mode == ScaleModeFit {
		dw, dh = CalculateScaledSize(s.src.Width, s.src.Height, s.dst.Width, s.dst.Height, ScaleModeFit)
		dw, dh = min(dw, s.dst.Width), min(dh, s.dst.Height)
		dx, dy = ((s.dst.Width-dw)/2)&^1, ((s.dst.Height-dh)/2)&^1
		if dw != s.dst.Width || dh != s.dst.Height {
			fillPlane(dst.y, s.dst.Width, s.dst.Height, 16)
			fillPlane(dst.u, (s.dst.Width+1)/2, (s.dst.Height+1)/2, 128)
			fillPlane(dst.v, (s.dst.Width+1)/2, (s.dst.Height+1)/2, 128)
		}
	}

	scalePlane(src.y, sx, sy, sw, sh, dst.y, dx, dy, dw, dh)
	// Chroma planes are half resolution, rounded up.
	csw, csh := (sw+1)/2, (sh+1)/2
	cdw, cdh := (dw+1)/2, (dh+1)/2
	scalePlane(src.u, sx/2, sy/2, csw, csh, dst.u, dx/2, dy/2, cdw, cdh)
	scalePlane(src.v, sx/2, sy/2, csw, csh, dst.v, dx/2, dy/2, cdw, cdh)
}

// sourceRegion determines what region of the source to use based on scale mode.
func (s *videoScaler) sourceRegion() (x, y, w, h int) {
	srcW, srcH := s.src.Width, s.src.Height
	if s.mode != ScaleModeFill {
		return 0, 0, srcW, srcH
	}
	// Crop source to match target aspect ratio
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(s.dst.Width) / float64(s.dst.Height)
	if srcAspect > dstAspect {
		newW := int(float64(srcH)*dstAspect) &^ 1
		return ((srcW - newW) / 2) &^ 1, 0, newW, srcH
	} else if srcAspect < dstAspect {
		newH := int(float64(srcW)/dstAspect) &^ 1
		return 0, ((srcH - newH) / 2) &^ 1, srcW, newH
	}
	return 0, 0, srcW, srcH
}

func fillPlane(p planeView, w, h int, value byte) {
	for y := 0; y < h; y++ {
		row := p.data[y*p.stride : y*p.stride+w]
		for x := range row {
			row[x] = value
		}
	}
}

// scalePlane scales a region of one plane into a region of another using
// bilinear interpolation. Equal sizes copy the region exactly.
func scalePlane(src planeView, srcX, srcY, srcW, srcH int, dst planeView, dstX, dstY, dstW, dstH int) {
	if srcW <= 0 || srcH <= 0 || dstW <= 0 || dstH <= 0 {
		return
	}

	// Fixed-point scaling factors (16.16)
	xRatio := (srcW << 16) / dstW
	yRatio := (srcH << 16) / dstH

	for y := 0; y < dstH; y++ {
		srcYFP := y * yRatio
		srcYFrac := srcYFP & 0xFFFF

		// Clamp to valid range
		y0 := srcYFP>>16 + srcY
		y1 := y0 + 1
		if y1 >= srcY+srcH {
			y1 = y0
		}
		row0 := src.data[y0*src.stride:]
		row1 := src.data[y1*src.stride:]
		out := dst.data[(dstY+y)*dst.stride+dstX:]

		for x := 0; x < dstW; x++ {
			srcXFP := x * xRatio
			xWeight := srcXFP & 0xFFFF

			x0 := srcXFP>>16 + srcX
			x1 := x0 + 1
			if x1 >= srcX+srcW {
				x1 = x0
			}

			// Interpolate horizontally, then vertically
			top := (int(row0[x0])*(0x10000-xWeight) + int(row0[x1])*xWeight) >> 16
			bottom := (int(row1[x0])*(0x10000-xWeight) + int(row1[x1])*xWeight) >> 16
			out[x] = byte((top*(0x10000-srcYFrac) + bottom*srcYFrac) >> 16)
		}
	}
}

// CalculateScaledSize returns the output dimensions when scaling with a given mode.
// In ScaleModeFit the result is the letterboxed picture size.
func CalculateScaledSize(srcW, srcH, maxW, maxH int, mode ScaleMode) (w, h int) {
	if mode != ScaleModeFit || srcW <= 0 || srcH <= 0 {
		return maxW, maxH
	}
	srcAspect := float64(srcW) / float64(srcH)
	dstAspect := float64(maxW) / float64(maxH)
	if srcAspect > dstAspect {
		// Source is wider, fit to width
		w = maxW
		h = int(float64(maxW) / srcAspect)
	} else {
		// Source is taller, fit to height
		h = maxH
		w = int(float64(maxH) * srcAspect)
	}
	// Ensure even dimensions for YUV
	w = (w + 1) &^ 1
	h = (h + 1) &^ 1
	return w, h
}
