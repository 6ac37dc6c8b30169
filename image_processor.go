package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// minImageProcessorBuffers is the smallest output ring an image processor
// runs with.
const minImageProcessorBuffers = 2

// ErrUnsupportedConversion is returned for format pairs an image processor
// cannot convert between.
var ErrUnsupportedConversion = errors.New("unsupported pixel format conversion")

// ImageProcessorConfig describes a conversion from the caller's frames to
// what the codec device consumes.
type ImageProcessorConfig struct {
	InputFormat       PixelFormat
	InputSize         Size
	OutputFormat      PixelFormat
	OutputSize        Size
	OutputBufferCount int
	ScaleMode         ScaleMode
}

// ImageProcessor converts frames into a fixed ring of output buffers.
// Conversions complete in submission order.
type ImageProcessor interface {
	OutputBufferCount() int
	// Process converts frame into output buffer index. done runs on the
	// processor's own goroutine. Process returns false once the processor
	// is destroyed.
	Process(frame *VideoFrame, index int, done func(out *VideoFrame, err error)) bool
	Destroy()
}

// ImageProcessorFactory creates an ImageProcessor.
type ImageProcessorFactory func(cfg ImageProcessorConfig, loggerFactory logging.LoggerFactory) (ImageProcessor, error)

// SoftwareImageProcessor converts between I420, YV12, NV12 and BGRA input
// and I420 or NV12 output on its own TaskRunner, scaling when the sizes
// differ.
type SoftwareImageProcessor struct {
	cfg    ImageProcessorConfig
	log    logging.LeveledLogger
	runner *TaskRunner
	scaler *videoScaler

	outputs []*VideoFrame
	// Runner-owned scratch buffers.
	inI420  *VideoFrame
	outI420 *VideoFrame

	mu        sync.Mutex
	destroyed bool
}

// NewSoftwareImageProcessor is the default ImageProcessorFactory.
func NewSoftwareImageProcessor(cfg ImageProcessorConfig, loggerFactory logging.LoggerFactory) (ImageProcessor, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	switch cfg.InputFormat {
	case PixelFormatI420, PixelFormatYV12, PixelFormatNV12, PixelFormatBGRA:
	default:
		return nil, fmt.Errorf("%w: input %s", ErrUnsupportedConversion, cfg.InputFormat)
	}
	switch cfg.OutputFormat {
	case PixelFormatI420, PixelFormatNV12:
	default:
		return nil, fmt.Errorf("%w: output %s", ErrUnsupportedConversion, cfg.OutputFormat)
	}
	if cfg.InputSize.IsEmpty() || cfg.OutputSize.IsEmpty() {
		return nil, fmt.Errorf("%w: empty size %s -> %s", ErrInvalidArgument, cfg.InputSize, cfg.OutputSize)
	}
	cfg.OutputBufferCount = max(cfg.OutputBufferCount, minImageProcessorBuffers)

	p := &SoftwareImageProcessor{
		cfg:    cfg,
		log:    loggerFactory.NewLogger("imageprocessor"),
		runner: NewTaskRunner("image-processor", nil, loggerFactory),
		scaler: newVideoScaler(cfg.InputSize, cfg.OutputSize, cfg.ScaleMode),
	}
	for i := 0; i < cfg.OutputBufferCount; i++ {
		p.outputs = append(p.outputs, NewVideoFrame(cfg.OutputFormat, cfg.OutputSize))
	}
	if cfg.InputFormat == PixelFormatNV12 || cfg.InputFormat == PixelFormatBGRA {
		p.inI420 = NewVideoFrame(PixelFormatI420, cfg.InputSize)
	}
	if cfg.OutputFormat == PixelFormatNV12 {
		p.outI420 = NewVideoFrame(PixelFormatI420, cfg.OutputSize)
	}
	p.log.Debugf("%s %s -> %s %s, %d buffers", cfg.InputFormat, cfg.InputSize, cfg.OutputFormat, cfg.OutputSize, cfg.OutputBufferCount)
	return p, nil
}

func (p *SoftwareImageProcessor) OutputBufferCount() int { return len(p.outputs) }

func (p *SoftwareImageProcessor) Process(frame *VideoFrame, index int, done func(out *VideoFrame, err error)) bool {
	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed || index < 0 || index >= len(p.outputs) {
		return false
	}
	return p.runner.PostTask(func() {
		out := p.outputs[index]
		err := p.convert(frame, out)
		done(out, err)
	})
}

// Destroy drops queued conversions after the running one completes.
func (p *SoftwareImageProcessor) Destroy() {
	p.mu.Lock()
	p.destroyed = true
	p.mu.Unlock()
	p.runner.Stop()
}

func (p *SoftwareImageProcessor) convert(in, out *VideoFrame) error {
	if in.Format != p.cfg.InputFormat || in.CodedSize() != p.cfg.InputSize {
		return fmt.Errorf("%w: got %s %s, configured for %s %s",
			ErrInvalidArgument, in.Format, in.CodedSize(), p.cfg.InputFormat, p.cfg.InputSize)
	}
	src, err := p.inputAsI420(in)
	if err != nil {
		return err
	}

	if p.cfg.OutputFormat == PixelFormatI420 {
		p.scaler.scale(src, i420ViewOf(out))
	} else {
		p.scaler.scale(src, i420ViewOf(p.outI420))
		interleaveNV12(p.outI420, out)
	}
	out.Timestamp = in.Timestamp
	out.Visible = RectFromSize(p.cfg.OutputSize)
	return nil
}

func (p *SoftwareImageProcessor) inputAsI420(in *VideoFrame) (i420View, error) {
	if len(in.Data) < in.Format.PlaneCount() {
		return i420View{}, fmt.Errorf("%w: %s frame with %d planes", ErrInvalidArgument, in.Format, len(in.Data))
	}
	switch in.Format {
	case PixelFormatI420:
		return i420ViewOf(in), nil
	case PixelFormatYV12:
		v := i420ViewOf(in)
		v.u, v.v = v.v, v.u
		return v, nil
	case PixelFormatNV12:
		deinterleaveNV12(in, p.inI420)
		return i420ViewOf(p.inI420), nil
	case PixelFormatBGRA:
		bgraToI420(in, p.inI420)
		return i420ViewOf(p.inI420), nil
	default:
		return i420View{}, fmt.Errorf("%w: input %s", ErrUnsupportedConversion, in.Format)
	}
}

func i420ViewOf(f *VideoFrame) i420View {
	return i420View{
		size: f.CodedSize(),
		y:    planeView{f.Data[0], f.Stride[0]},
		u:    planeView{f.Data[1], f.Stride[1]},
		v:    planeView{f.Data[2], f.Stride[2]},
	}
}

func deinterleaveNV12(in, out *VideoFrame) {
	scalePlane(planeView{in.Data[0], in.Stride[0]}, 0, 0, in.Width, in.Height,
		planeView{out.Data[0], out.Stride[0]}, 0, 0, in.Width, in.Height)
	cw, ch := (in.Width+1)/2, (in.Height+1)/2
	for y := 0; y < ch; y++ {
		uv := in.Data[1][y*in.Stride[1]:]
		u := out.Data[1][y*out.Stride[1]:]
		v := out.Data[2][y*out.Stride[2]:]
		for x := 0; x < cw; x++ {
			u[x] = uv[2*x]
			v[x] = uv[2*x+1]
		}
	}
}

func interleaveNV12(in, out *VideoFrame) {
	scalePlane(planeView{in.Data[0], in.Stride[0]}, 0, 0, in.Width, in.Height,
		planeView{out.Data[0], out.Stride[0]}, 0, 0, in.Width, in.Height)
	cw, ch := (in.Width+1)/2, (in.Height+1)/2
	for y := 0; y < ch; y++ {
		u := in.Data[1][y*in.Stride[1]:]
		v := in.Data[2][y*in.Stride[2]:]
		uv := out.Data[1][y*out.Stride[1]:]
		for x := 0; x < cw; x++ {
			uv[2*x] = u[x]
			uv[2*x+1] = v[x]
		}
	}
}

// bgraToI420 is a BT.601 limited-range integer conversion; chroma is the
// average of each 2x2 block.
func bgraToI420(in, out *VideoFrame) {
	w, h := in.Width, in.Height
	src, stride := in.Data[0], in.Stride[0]
	for row := 0; row < h; row++ {
		line := src[row*stride:]
		yOut := out.Data[0][row*out.Stride[0]:]
		for x := 0; x < w; x++ {
			b, g, r := int(line[4*x]), int(line[4*x+1]), int(line[4*x+2])
			yOut[x] = clamp8((66*r+129*g+25*b+128)>>8 + 16)
		}
	}
	for row := 0; row < h; row += 2 {
		for x := 0; x < w; x += 2 {
			var rSum, gSum, bSum, n int
			for dy := 0; dy < 2 && row+dy < h; dy++ {
				for dx := 0; dx < 2 && x+dx < w; dx++ {
					off := (row+dy)*stride + (x+dx)*4
					bSum += int(src[off])
					gSum += int(src[off+1])
					rSum += int(src[off+2])
					n++
				}
			}
			r, g, b := rSum/n, gSum/n, bSum/n
			out.Data[1][(row/2)*out.Stride[1]+x/2] = clamp8((-38*r-74*g+112*b+128)>>8 + 128)
			out.Data[2][(row/2)*out.Stride[2]+x/2] = clamp8((112*r-94*g-18*b+128)>>8 + 128)
		}
	}
}

func clamp8(x int) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}
