package media

import (
	"fmt"
	"math"
	"strings"
)

// PatternType selects a synthetic picture for FillPattern.
type PatternType int

const (
	PatternColorBars    PatternType = iota // SMPTE color bars
	PatternGradient                        // Horizontal gradient
	PatternCheckerboard                    // Checkerboard pattern
	PatternMovingBox                       // Moving box (animated)
)

func (p PatternType) String() string {
	switch p {
	case PatternColorBars:
		return "ColorBars"
	case PatternGradient:
		return "Gradient"
	case PatternCheckerboard:
		return "Checkerboard"
	case PatternMovingBox:
		return "MovingBox"
	default:
		return "Unknown"
	}
}

// ParsePatternType accepts the String form, case-insensitively.
func ParsePatternType(s string) (PatternType, error) {
	for p := PatternColorBars; p <= PatternMovingBox; p++ {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w: pattern %q", ErrInvalidArgument, s)
}

// SMPTE color bars (simplified 8-bar pattern)
var colorBarsRGB = [][3]uint8{
	{192, 192, 192}, // White (75%)
	{192, 192, 0},   // Yellow
	{0, 192, 192},   // Cyan
	{0, 192, 0},     // Green
	{192, 0, 192},   // Magenta
	{192, 0, 0},     // Red
	{0, 0, 192},     // Blue
	{16, 16, 16},    // Black
}

const checkerSize = 32

// FillPattern paints pattern p into the visible area of an I420 frame.
// n is the frame number; only PatternMovingBox depends on it.
func FillPattern(f *VideoFrame, p PatternType, n uint64) error {
	if f.Format != PixelFormatI420 || len(f.Data) < 3 || len(f.Stride) < 3 {
		return fmt.Errorf("%w: pattern needs an I420 frame, have %s", ErrInvalidArgument, f.Format)
	}
	vis := f.Visible
	if vis.IsEmpty() {
		vis = Rect{Width: f.Width, Height: f.Height}
	}
	w, h := vis.Width, vis.Height

	var box Rect
	if p == PatternMovingBox {
		const boxSize = 100
		radius := float64(min(w, h)) / 4
		angle := float64(n) * 0.05
		box = Rect{
			X:      w/2 + int(radius*math.Cos(angle)) - boxSize/2,
			Y:      h/2 + int(radius*math.Sin(angle)) - boxSize/2,
			Width:  boxSize,
			Height: boxSize,
		}
	}

	for y := 0; y < h; y++ {
		row := f.Data[0][(vis.Y+y)*f.Stride[0]+vis.X:]
		for x := 0; x < w; x++ {
			luma, u, v := patternPixel(p, x, y, w, box)
			row[x] = luma
			if x%2 == 0 && y%2 == 0 {
				cx, cy := (vis.X+x)/2, (vis.Y+y)/2
				f.Data[1][cy*f.Stride[1]+cx] = u
				f.Data[2][cy*f.Stride[2]+cx] = v
			}
		}
	}
	return nil
}

func patternPixel(p PatternType, x, y, w int, box Rect) (luma, u, v uint8) {
	switch p {
	case PatternGradient:
		return uint8((x * 255) / w), 128, 128
	case PatternCheckerboard:
		if ((x/checkerSize)+(y/checkerSize))%2 == 0 {
			return 235, 128, 128
		}
		return 16, 128, 128
	case PatternMovingBox:
		if x >= box.X && x < box.Right() && y >= box.Y && y < box.Bottom() {
			return 235, 128, 128
		}
		return 16, 128, 128
	default:
		bar := x / max(w/8, 1)
		if bar >= 8 {
			bar = 7
		}
		rgb := colorBarsRGB[bar]
		return rgbToYUV(rgb[0], rgb[1], rgb[2])
	}
}

// rgbToYUV converts RGB to YUV (BT.601)
func rgbToYUV(r, g, b uint8) (y, u, v uint8) {
	yf := 16.0 + 65.481*float64(r)/255.0 + 128.553*float64(g)/255.0 + 24.966*float64(b)/255.0
	uf := 128.0 - 37.797*float64(r)/255.0 - 74.203*float64(g)/255.0 + 112.0*float64(b)/255.0
	vf := 128.0 + 112.0*float64(r)/255.0 - 93.786*float64(g)/255.0 - 18.214*float64(b)/255.0

	y = uint8(clampFloat(yf, 16, 235))
	u = uint8(clampFloat(uf, 16, 240))
	v = uint8(clampFloat(vf, 16, 240))
	return
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
