//go:build linux

// Codec device binding over libstream_mcil, the C shim around the webOS
// media codec interface library, using purego.

package media

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	mcilOnce    sync.Once
	mcilInitErr error

	// Device instances keyed by the user data handed to the shim.
	mcilSinks    sync.Map // uintptr -> mcilEventSink
	mcilNextUser atomic.Uintptr
	mcilEventCB  uintptr
)

// libstream_mcil function pointers
var (
	mcilDecoderCreate            func(cb, user uintptr) uintptr
	mcilDecoderSupportedProfiles func(out unsafe.Pointer, capacity int32) int32
	mcilDecoderInitialize        func(dec uintptr, profile, width, height, outputMode int32, out unsafe.Pointer) int32
	mcilDecoderSetMediaLayerID   func(dec uintptr, id string) int32
	mcilDecoderQueueInput        func(dec uintptr, index, bitstreamID int32, data unsafe.Pointer, size int32, timestampUs int64) int32
	mcilDecoderDequeueInput      func(dec uintptr, index unsafe.Pointer) int32
	mcilDecoderOutputFormat      func(dec uintptr, out unsafe.Pointer) int32
	mcilDecoderAllocateOutput    func(dec uintptr, index int32, fourcc uint32, width, height int32, out unsafe.Pointer) int32
	mcilDecoderQueueOutput       func(dec uintptr, index int32, pixmap unsafe.Pointer) int32
	mcilDecoderDequeueOutput     func(dec uintptr, out unsafe.Pointer) int32
	mcilDecoderReleaseOutputs    func(dec uintptr) int32
	mcilDecoderFlush             func(dec uintptr) int32
	mcilDecoderReset             func(dec uintptr) int32
	mcilDecoderDestroy           func(dec uintptr)

	mcilEncoderCreate            func(cb, user uintptr) uintptr
	mcilEncoderSupportedProfiles func(out unsafe.Pointer, capacity int32) int32
	mcilEncoderInitialize        func(enc uintptr, cfg, out unsafe.Pointer) int32
	mcilEncoderEncode            func(enc uintptr, token uint32, planes, strides unsafe.Pointer, planeCount int32, timestampUs int64, forceKeyframe int32) int32
	mcilEncoderDequeueOutput     func(enc uintptr, buf unsafe.Pointer, capacity int32, meta unsafe.Pointer) int32
	mcilEncoderUpdateRates       func(enc uintptr, bitrate, framerate uint32) int32
	mcilEncoderFlush             func(enc uintptr) int32
	mcilEncoderDestroy           func(enc uintptr)
)

// Structs shared with libstream_mcil. They are heap allocated before each
// call, the same as the other purego bindings, so the GC cannot move them
// mid-call on arm64.
type mcilProfileDesc struct {
	Profile      int32
	MinWidth     int32
	MinHeight    int32
	MaxWidth     int32
	MaxHeight    int32
	MaxFramerate uint32
	Encrypted    int32
}

type mcilDecoderClientConfig struct {
	OutputFourCC      uint32
	ControlBufferFeed int32
	OutputBufferSize  int32
	InjectSPSPPS      int32
	InputBufferCount  int32
	InputBufferSize   int32
}

type mcilOutputFormat struct {
	CodedWidth  int32
	CodedHeight int32
	VisibleX    int32
	VisibleY    int32
	VisibleW    int32
	VisibleH    int32
	FourCC      uint32
	MinBuffers  int32
}

type mcilPixmap struct {
	PlaneCount int32
	FD         [maxEGLImagePlanes]int32
	Offset     [maxEGLImagePlanes]uint32
	Stride     [maxEGLImagePlanes]uint32
	Size       [maxEGLImagePlanes]uint64
	Modifier   uint64
}

type mcilDecodedOutput struct {
	Index       int32
	BitstreamID int32
	VisibleX    int32
	VisibleY    int32
	VisibleW    int32
	VisibleH    int32
}

type mcilEncoderConfig struct {
	Profile     int32
	InputFourCC uint32
	Width       int32
	Height      int32
	Bitrate     uint32
	Framerate   uint32
	Level       uint32
}

type mcilEncoderClientConfig struct {
	InputFourCC      uint32
	CodedWidth       int32
	CodedHeight      int32
	InputBufferCount int32
	OutputBufferSize int32
	InjectSPSPPS     int32
}

type mcilChunkMeta struct {
	KeyFrame    int32
	_           int32
	TimestampUs int64
}

const mcilMaxProfiles = 32

type mcilEventSink interface {
	onEvent(event, a0, a1 int32)
}

func loadMCIL() error {
	mcilOnce.Do(func() {
		mcilInitErr = loadMCILLib()
	})
	return mcilInitErr
}

func loadMCILLib() error {
	const libName = "libstream_mcil.so"
	handle, err := dlopenFirst(libName, nativeLibPaths(libName, "STREAM_MCIL_LIB_PATH"))
	if err != nil {
		return err
	}

	purego.RegisterLibFunc(&mcilDecoderCreate, handle, "mcil_decoder_create")
	purego.RegisterLibFunc(&mcilDecoderSupportedProfiles, handle, "mcil_decoder_supported_profiles")
	purego.RegisterLibFunc(&mcilDecoderInitialize, handle, "mcil_decoder_initialize")
	purego.RegisterLibFunc(&mcilDecoderSetMediaLayerID, handle, "mcil_decoder_set_media_layer_id")
	purego.RegisterLibFunc(&mcilDecoderQueueInput, handle, "mcil_decoder_queue_input")
	purego.RegisterLibFunc(&mcilDecoderDequeueInput, handle, "mcil_decoder_dequeue_input")
	purego.RegisterLibFunc(&mcilDecoderOutputFormat, handle, "mcil_decoder_output_format")
	purego.RegisterLibFunc(&mcilDecoderAllocateOutput, handle, "mcil_decoder_allocate_output")
	purego.RegisterLibFunc(&mcilDecoderQueueOutput, handle, "mcil_decoder_queue_output")
	purego.RegisterLibFunc(&mcilDecoderDequeueOutput, handle, "mcil_decoder_dequeue_output")
	purego.RegisterLibFunc(&mcilDecoderReleaseOutputs, handle, "mcil_decoder_release_outputs")
	purego.RegisterLibFunc(&mcilDecoderFlush, handle, "mcil_decoder_flush")
	purego.RegisterLibFunc(&mcilDecoderReset, handle, "mcil_decoder_reset")
	purego.RegisterLibFunc(&mcilDecoderDestroy, handle, "mcil_decoder_destroy")

	purego.RegisterLibFunc(&mcilEncoderCreate, handle, "mcil_encoder_create")
	purego.RegisterLibFunc(&mcilEncoderSupportedProfiles, handle, "mcil_encoder_supported_profiles")
	purego.RegisterLibFunc(&mcilEncoderInitialize, handle, "mcil_encoder_initialize")
	purego.RegisterLibFunc(&mcilEncoderEncode, handle, "mcil_encoder_encode")
	purego.RegisterLibFunc(&mcilEncoderDequeueOutput, handle, "mcil_encoder_dequeue_output")
	purego.RegisterLibFunc(&mcilEncoderUpdateRates, handle, "mcil_encoder_update_rates")
	purego.RegisterLibFunc(&mcilEncoderFlush, handle, "mcil_encoder_flush")
	purego.RegisterLibFunc(&mcilEncoderDestroy, handle, "mcil_encoder_destroy")

	mcilEventCB = purego.NewCallback(func(user, event, a0, a1 uintptr) uintptr {
		if sink, ok := mcilSinks.Load(user); ok {
			sink.(mcilEventSink).onEvent(int32(event), int32(a0), int32(a1))
		}
		return 0
	})
	return nil
}

// IsMCILAvailable reports whether libstream_mcil loads.
func IsMCILAvailable() bool {
	return loadMCIL() == nil
}

// RegisterMCILDevices adds the MCIL decoder and encoder to r.
func RegisterMCILDevices(r *DeviceRegistry) {
	r.RegisterDecoder(ProviderMCIL, DecoderDeviceFactory{
		New:       func() (DecoderDevice, error) { return NewMCILDecoderDevice() },
		Profiles:  func() []SupportedProfile { return mcilProfiles(mcilDecoderSupportedProfiles) },
		Available: IsMCILAvailable,
	})
	r.RegisterEncoder(ProviderMCIL, EncoderDeviceFactory{
		New:       func() (EncoderDevice, error) { return NewMCILEncoderDevice() },
		Profiles:  func() []SupportedProfile { return mcilProfiles(mcilEncoderSupportedProfiles) },
		Available: IsMCILAvailable,
	})
}

func registerPlatformDevices(r *DeviceRegistry) { RegisterMCILDevices(r) }

func mcilProfiles(query func(out unsafe.Pointer, capacity int32) int32) []SupportedProfile {
	if loadMCIL() != nil {
		return nil
	}
	descs := new([mcilMaxProfiles]mcilProfileDesc)
	n := query(unsafe.Pointer(descs), mcilMaxProfiles)
	runtime.KeepAlive(descs)
	if n <= 0 {
		return nil
	}
	out := make([]SupportedProfile, 0, n)
	for _, d := range descs[:min(int(n), mcilMaxProfiles)] {
		p := mcilProfileFromID(d.Profile)
		if p == ProfileUnknown {
			continue
		}
		out = append(out, SupportedProfile{
			Profile:       p,
			MinResolution: Size{Width: int(d.MinWidth), Height: int(d.MinHeight)},
			MaxResolution: Size{Width: int(d.MaxWidth), Height: int(d.MaxHeight)},
			MaxFramerate:  d.MaxFramerate,
			Encrypted:     d.Encrypted != 0,
		})
	}
	return out
}

// mcilEvents holds the subscribed callables of one device.
type mcilEvents[T any] struct {
	mu     sync.Mutex
	gen    uint64
	events T
}

func (e *mcilEvents[T]) subscribe(events T) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	gen := e.gen
	e.events = events
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen {
			var zero T
			e.events = zero
		}
	}
}

func (e *mcilEvents[T]) get() T {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.events
}

// MCILDecoderDevice is a DecoderDevice on the platform decoder.
type MCILDecoderDevice struct {
	handle uintptr
	user   uintptr
	events mcilEvents[DecoderDeviceEvents]
}

// NewMCILDecoderDevice opens a platform decoder instance.
func NewMCILDecoderDevice() (*MCILDecoderDevice, error) {
	if err := loadMCIL(); err != nil {
		return nil, err
	}
	d := &MCILDecoderDevice{user: mcilNextUser.Add(1)}
	mcilSinks.Store(d.user, mcilEventSink(d))
	d.handle = mcilDecoderCreate(mcilEventCB, d.user)
	if d.handle == 0 {
		mcilSinks.Delete(d.user)
		return nil, fmt.Errorf("%w: mcil decoder", ErrDeviceNotFound)
	}
	return d, nil
}

func (d *MCILDecoderDevice) onEvent(event, a0, a1 int32) {
	ev := d.events.get()
	switch event {
	case mcilEventBufferReady:
		if ev.BufferReady != nil {
			ev.BufferReady(a0 != 0, a1 != 0)
		}
	case mcilEventResolutionChanged:
		if ev.ResolutionChanged != nil {
			ev.ResolutionChanged()
		}
	case mcilEventFlushDone:
		if ev.FlushDone != nil {
			ev.FlushDone()
		}
	case mcilEventResetDone:
		if ev.ResetDone != nil {
			ev.ResetDone()
		}
	case mcilEventError:
		if ev.Error != nil {
			ev.Error(mcilEventErr(a0))
		}
	}
}

func (d *MCILDecoderDevice) SupportedProfiles() []SupportedProfile {
	return mcilProfiles(mcilDecoderSupportedProfiles)
}

func (d *MCILDecoderDevice) Initialize(cfg DecoderDeviceConfig) (DecoderClientConfig, error) {
	profile, ok := mcilProfileID(cfg.Profile)
	if !ok {
		return DecoderClientConfig{}, fmt.Errorf("%w: %s", ErrProfileNotSupported, cfg.Profile)
	}
	out := new(mcilDecoderClientConfig)
	rc := mcilDecoderInitialize(d.handle, profile, int32(cfg.CodedSize.Width), int32(cfg.CodedSize.Height), int32(cfg.OutputMode), unsafe.Pointer(out))
	runtime.KeepAlive(out)
	if err := mcilError("decoder initialize", rc); err != nil {
		return DecoderClientConfig{}, err
	}
	return DecoderClientConfig{
		OutputPixelFormat:       PixelFormatFromDRMFourCC(out.OutputFourCC),
		ShouldControlBufferFeed: out.ControlBufferFeed != 0,
		OutputBufferByteSize:    int(out.OutputBufferSize),
		ShouldInjectSPSAndPPS:   out.InjectSPSPPS != 0,
		InputBufferCount:        int(out.InputBufferCount),
		InputBufferByteSize:     int(out.InputBufferSize),
	}, nil
}

func (d *MCILDecoderDevice) Subscribe(events DecoderDeviceEvents) func() {
	return d.events.subscribe(events)
}

func (d *MCILDecoderDevice) SetMediaLayerID(id string) error {
	return mcilError("set media layer id", mcilDecoderSetMediaLayerID(d.handle, id))
}

func (d *MCILDecoderDevice) QueueInput(in DecoderInput) error {
	var data unsafe.Pointer
	if len(in.Data) > 0 {
		data = unsafe.Pointer(&in.Data[0])
	}
	rc := mcilDecoderQueueInput(d.handle, int32(in.Index), in.BitstreamID, data, int32(len(in.Data)), in.Timestamp.Microseconds())
	runtime.KeepAlive(in.Data)
	return mcilError("queue input", rc)
}

func (d *MCILDecoderDevice) DequeueInput() (int, bool, error) {
	index := new(int32)
	rc := mcilDecoderDequeueInput(d.handle, unsafe.Pointer(index))
	runtime.KeepAlive(index)
	if rc == 0 {
		return 0, false, nil
	}
	if err := mcilError("dequeue input", rc); err != nil {
		return 0, false, err
	}
	return int(*index), true, nil
}

func (d *MCILDecoderDevice) OutputFormat() (DecoderOutputFormat, error) {
	out := new(mcilOutputFormat)
	rc := mcilDecoderOutputFormat(d.handle, unsafe.Pointer(out))
	runtime.KeepAlive(out)
	if err := mcilError("output format", rc); err != nil {
		return DecoderOutputFormat{}, err
	}
	return DecoderOutputFormat{
		CodedSize:      Size{Width: int(out.CodedWidth), Height: int(out.CodedHeight)},
		VisibleRect:    Rect{X: int(out.VisibleX), Y: int(out.VisibleY), Width: int(out.VisibleW), Height: int(out.VisibleH)},
		PixelFormat:    PixelFormatFromDRMFourCC(out.FourCC),
		MinBufferCount: int(out.MinBuffers),
	}, nil
}

func (d *MCILDecoderDevice) AllocateOutputBuffer(index int, format PixelFormat, size Size) (*NativePixmapHandle, error) {
	fourcc, ok := format.DRMFourCC()
	if !ok {
		return nil, fmt.Errorf("%w: output format %s", ErrInvalidArgument, format)
	}
	out := new(mcilPixmap)
	rc := mcilDecoderAllocateOutput(d.handle, int32(index), fourcc, int32(size.Width), int32(size.Height), unsafe.Pointer(out))
	runtime.KeepAlive(out)
	if err := mcilError("allocate output", rc); err != nil {
		return nil, err
	}
	h := &NativePixmapHandle{Modifier: out.Modifier}
	for i := 0; i < int(out.PlaneCount) && i < maxEGLImagePlanes; i++ {
		h.Planes = append(h.Planes, NativePixmapPlane{
			FD:     int(out.FD[i]),
			Offset: out.Offset[i],
			Stride: out.Stride[i],
			Size:   out.Size[i],
		})
	}
	return h, nil
}

func (d *MCILDecoderDevice) QueueOutput(index int, pixmap *NativePixmapHandle) error {
	var p unsafe.Pointer
	if pixmap != nil {
		desc := &mcilPixmap{PlaneCount: int32(min(len(pixmap.Planes), maxEGLImagePlanes)), Modifier: pixmap.Modifier}
		for i, plane := range pixmap.Planes[:desc.PlaneCount] {
			desc.FD[i] = int32(plane.FD)
			desc.Offset[i] = plane.Offset
			desc.Stride[i] = plane.Stride
			desc.Size[i] = plane.Size
		}
		p = unsafe.Pointer(desc)
		defer runtime.KeepAlive(desc)
	}
	return mcilError("queue output", mcilDecoderQueueOutput(d.handle, int32(index), p))
}

func (d *MCILDecoderDevice) DequeueOutput() (DecodedOutput, bool, error) {
	out := new(mcilDecodedOutput)
	rc := mcilDecoderDequeueOutput(d.handle, unsafe.Pointer(out))
	runtime.KeepAlive(out)
	if rc == 0 {
		return DecodedOutput{}, false, nil
	}
	if err := mcilError("dequeue output", rc); err != nil {
		return DecodedOutput{}, false, err
	}
	return DecodedOutput{
		Index:       int(out.Index),
		BitstreamID: out.BitstreamID,
		VisibleRect: Rect{X: int(out.VisibleX), Y: int(out.VisibleY), Width: int(out.VisibleW), Height: int(out.VisibleH)},
	}, true, nil
}

func (d *MCILDecoderDevice) ReleaseOutputBuffers() error {
	return mcilError("release outputs", mcilDecoderReleaseOutputs(d.handle))
}

func (d *MCILDecoderDevice) Flush() error {
	return mcilError("flush", mcilDecoderFlush(d.handle))
}

func (d *MCILDecoderDevice) Reset() error {
	return mcilError("reset", mcilDecoderReset(d.handle))
}

func (d *MCILDecoderDevice) Destroy() {
	if d.handle == 0 {
		return
	}
	mcilSinks.Delete(d.user)
	mcilDecoderDestroy(d.handle)
	d.handle = 0
}

// MCILEncoderDevice is an EncoderDevice on the platform encoder.
type MCILEncoderDevice struct {
	handle uintptr
	user   uintptr
	events mcilEvents[EncoderDeviceEvents]

	outputSize int

	mu        sync.Mutex
	nextToken uint32
	inFlight  map[uint32]*VideoFrame
	// Serializes output dequeues coming from shim threads.
	outMu sync.Mutex
}

// NewMCILEncoderDevice opens a platform encoder instance.
func NewMCILEncoderDevice() (*MCILEncoderDevice, error) {
	if err := loadMCIL(); err != nil {
		return nil, err
	}
	e := &MCILEncoderDevice{user: mcilNextUser.Add(1), inFlight: make(map[uint32]*VideoFrame)}
	mcilSinks.Store(e.user, mcilEventSink(e))
	e.handle = mcilEncoderCreate(mcilEventCB, e.user)
	if e.handle == 0 {
		mcilSinks.Delete(e.user)
		return nil, fmt.Errorf("%w: mcil encoder", ErrDeviceNotFound)
	}
	return e, nil
}

func (e *MCILEncoderDevice) onEvent(event, a0, a1 int32) {
	ev := e.events.get()
	switch event {
	case mcilEventInputDone:
		e.mu.Lock()
		frame := e.inFlight[uint32(a0)]
		delete(e.inFlight, uint32(a0))
		e.mu.Unlock()
		if frame != nil && ev.InputDone != nil {
			ev.InputDone(frame)
		}
	case mcilEventOutputReady:
		e.drainOutput(ev)
	case mcilEventFlushDone:
		// Output queued before the flush completed goes out first.
		e.drainOutput(ev)
		if ev.FlushDone != nil {
			ev.FlushDone(a0 != 0)
		}
	case mcilEventError:
		if ev.Error != nil {
			ev.Error(mcilEventErr(a0))
		}
	}
}

func (e *MCILEncoderDevice) drainOutput(ev EncoderDeviceEvents) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if e.handle == 0 || e.outputSize <= 0 {
		return
	}
	buf := make([]byte, e.outputSize)
	meta := new(mcilChunkMeta)
	for {
		n := mcilEncoderDequeueOutput(e.handle, unsafe.Pointer(&buf[0]), int32(len(buf)), unsafe.Pointer(meta))
		runtime.KeepAlive(buf)
		runtime.KeepAlive(meta)
		if n == 0 {
			return
		}
		if err := mcilError("dequeue output", n); err != nil {
			if ev.Error != nil {
				ev.Error(err)
			}
			return
		}
		if ev.BitstreamReady != nil {
			ev.BitstreamReady(EncodedChunk{
				Data:      append([]byte(nil), buf[:n]...),
				KeyFrame:  meta.KeyFrame != 0,
				Timestamp: time.Duration(meta.TimestampUs) * time.Microsecond,
			})
		}
	}
}

func (e *MCILEncoderDevice) SupportedProfiles() []SupportedProfile {
	return mcilProfiles(mcilEncoderSupportedProfiles)
}

func (e *MCILEncoderDevice) Initialize(cfg EncoderDeviceConfig) (EncoderClientConfig, error) {
	profile, ok := mcilProfileID(cfg.Profile)
	if !ok {
		return EncoderClientConfig{}, fmt.Errorf("%w: %s", ErrProfileNotSupported, cfg.Profile)
	}
	fourcc, ok := cfg.InputFormat.DRMFourCC()
	if !ok {
		return EncoderClientConfig{}, fmt.Errorf("%w: input format %s", ErrInvalidArgument, cfg.InputFormat)
	}
	in := &mcilEncoderConfig{
		Profile:     profile,
		InputFourCC: fourcc,
		Width:       int32(cfg.VisibleSize.Width),
		Height:      int32(cfg.VisibleSize.Height),
		Bitrate:     cfg.Bitrate,
		Framerate:   cfg.Framerate,
		Level:       uint32(cfg.H264Level),
	}
	out := new(mcilEncoderClientConfig)
	rc := mcilEncoderInitialize(e.handle, unsafe.Pointer(in), unsafe.Pointer(out))
	runtime.KeepAlive(in)
	runtime.KeepAlive(out)
	if err := mcilError("encoder initialize", rc); err != nil {
		return EncoderClientConfig{}, err
	}
	e.outMu.Lock()
	e.outputSize = int(out.OutputBufferSize)
	e.outMu.Unlock()
	return EncoderClientConfig{
		InputPixelFormat:      PixelFormatFromDRMFourCC(out.InputFourCC),
		InputCodedSize:        Size{Width: int(out.CodedWidth), Height: int(out.CodedHeight)},
		InputBufferCount:      int(out.InputBufferCount),
		OutputBufferByteSize:  int(out.OutputBufferSize),
		ShouldInjectSPSAndPPS: out.InjectSPSPPS != 0,
	}, nil
}

func (e *MCILEncoderDevice) Subscribe(events EncoderDeviceEvents) func() {
	return e.events.subscribe(events)
}

// Encode hands frame to the device. The shim copies the planes before it
// returns; the frame is reported back through InputDone once the device
// has released the input slot.
func (e *MCILEncoderDevice) Encode(frame *VideoFrame, forceKeyframe bool) error {
	if frame == nil || len(frame.Data) == 0 {
		return fmt.Errorf("%w: frame without plane data", ErrInvalidArgument)
	}
	planes := new([maxEGLImagePlanes]uintptr)
	strides := new([maxEGLImagePlanes]int32)
	n := min(len(frame.Data), maxEGLImagePlanes)
	for i := 0; i < n; i++ {
		if len(frame.Data[i]) > 0 {
			planes[i] = uintptr(unsafe.Pointer(&frame.Data[i][0]))
		}
		strides[i] = int32(frame.Stride[i])
	}

	e.mu.Lock()
	e.nextToken++
	token := e.nextToken
	e.inFlight[token] = frame
	e.mu.Unlock()

	force := int32(0)
	if forceKeyframe {
		force = 1
	}
	rc := mcilEncoderEncode(e.handle, token, unsafe.Pointer(planes), unsafe.Pointer(strides), int32(n), frame.Timestamp.Microseconds(), force)
	runtime.KeepAlive(frame)
	runtime.KeepAlive(planes)
	runtime.KeepAlive(strides)
	if err := mcilError("encode", rc); err != nil {
		e.mu.Lock()
		delete(e.inFlight, token)
		e.mu.Unlock()
		return err
	}
	return nil
}

func (e *MCILEncoderDevice) UpdateRates(bitrate, framerate uint32) error {
	return mcilError("update rates", mcilEncoderUpdateRates(e.handle, bitrate, framerate))
}

func (e *MCILEncoderDevice) Flush() error {
	return mcilError("flush", mcilEncoderFlush(e.handle))
}

func (e *MCILEncoderDevice) Destroy() {
	if e.handle == 0 {
		return
	}
	mcilSinks.Delete(e.user)
	e.outMu.Lock()
	mcilEncoderDestroy(e.handle)
	e.handle = 0
	e.outMu.Unlock()
	e.mu.Lock()
	clear(e.inFlight)
	e.mu.Unlock()
}
