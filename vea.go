package media

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pion/logging"
)

const defaultEncoderInputBuffers = 2

// EncoderState is the encode runner's state machine.
type EncoderState int

const (
	EncoderStateUninitialized EncoderState = iota
	EncoderStateInitialized
	EncoderStateEncoding
	EncoderStateFlushing
	EncoderStateError
	EncoderStateDestroying
)

func (s EncoderState) String() string {
	switch s {
	case EncoderStateUninitialized:
		return "uninitialized"
	case EncoderStateInitialized:
		return "initialized"
	case EncoderStateEncoding:
		return "encoding"
	case EncoderStateFlushing:
		return "flushing"
	case EncoderStateError:
		return "error"
	case EncoderStateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// EncoderConfig configures a VideoEncodeAccelerator.
type EncoderConfig struct {
	Profile          VideoCodecProfile
	InputFormat      PixelFormat
	InputVisibleSize Size
	Bitrate          uint32 // bits per second
	Framerate        uint32
	// H264Level is the requested level_idc; 0 selects DefaultH264Level.
	// A level the stream does not fit in is replaced by the lowest one
	// that does.
	H264Level uint8

	// ImageProcessor converts input frames when the device wants another
	// pixel format. Nil selects NewSoftwareImageProcessor.
	ImageProcessor ImageProcessorFactory
}

// DefaultEncoderConfig returns a 30 fps, 2 Mbps I420 configuration.
func DefaultEncoderConfig(profile VideoCodecProfile, size Size) EncoderConfig {
	return EncoderConfig{
		Profile:          profile,
		InputFormat:      PixelFormatI420,
		InputVisibleSize: size,
		Bitrate:          2_000_000,
		Framerate:        30,
	}
}

// BitstreamBufferMetadata describes a filled output bitstream buffer.
type BitstreamBufferMetadata struct {
	PayloadSize int
	KeyFrame    bool
	Timestamp   time.Duration
}

// VideoEncodeAcceleratorClient receives encoder callbacks on the client
// TaskRunner.
type VideoEncodeAcceleratorClient interface {
	RequireBitstreamBuffers(inputCount int, inputCodedSize Size, outputBufferSize int)
	BitstreamBufferReady(id int32, metadata BitstreamBufferMetadata)
	NotifyError(err AcceleratorError)
}

// encodeRequest is a frame on its way to the device; a nil frame is the
// flush sentinel.
type encodeRequest struct {
	frame          *VideoFrame
	forceKeyframe  bool
	processorIndex int
}

// VideoEncodeAccelerator drives an EncoderDevice on a dedicated encode
// runner, converting input frames through an ImageProcessor when the
// device needs a different pixel format.
type VideoEncodeAccelerator struct {
	device EncoderDevice
	log    logging.LeveledLogger
	lf     logging.LoggerFactory

	clientRunner *TaskRunner
	encodeRunner *TaskRunner
	clientWeak   weakFactory
	encodeWeak   weakFactory
	clientToken  weakToken
	encodeToken  weakToken

	client      VideoEncodeAcceleratorClient
	config      EncoderConfig
	initStarted bool

	// Owned by the encode runner.
	state       EncoderState
	cc          EncoderClientConfig
	level       uint8
	bitrate     uint32
	framerate   uint32
	unsubscribe func()

	processor            ImageProcessor
	processorQueue       []encodeRequest
	freeProcessorBuffers []int
	framesInProcessor    int
	processorFrames      map[*VideoFrame]int

	inputQueue     []encodeRequest
	inputsAtDevice int

	bitstreamBuffers []BitstreamBuffer
	outputQueue      []EncodedChunk
	parameterSets    *h264ParameterSets

	flushCallback   func(bool)
	deviceFlushing  bool
	deviceFlushDone bool
}

// NewVideoEncodeAccelerator creates an encoder over device. Callbacks run
// on clientRunner.
func NewVideoEncodeAccelerator(device EncoderDevice, clientRunner *TaskRunner, loggerFactory logging.LoggerFactory) *VideoEncodeAccelerator {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	e := &VideoEncodeAccelerator{
		device:          device,
		log:             loggerFactory.NewLogger("vea"),
		lf:              loggerFactory,
		clientRunner:    clientRunner,
		encodeRunner:    NewTaskRunner("vea-encode", clientRunner.Clock(), loggerFactory),
		processorFrames: make(map[*VideoFrame]int),
	}
	e.clientToken = e.clientWeak.Token()
	e.encodeToken = e.encodeWeak.Token()
	return e
}

// SupportedProfiles lists what the underlying device can encode.
func (e *VideoEncodeAccelerator) SupportedProfiles() []SupportedProfile {
	return e.device.SupportedProfiles()
}

// Initialize configures the encoder and waits for the encode runner. On
// success the client receives RequireBitstreamBuffers.
func (e *VideoEncodeAccelerator) Initialize(config EncoderConfig, client VideoEncodeAcceleratorClient) error {
	if e.initStarted {
		return ErrAlreadyInitialized
	}
	if client == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidArgument)
	}
	if config.InputVisibleSize.IsEmpty() {
		return fmt.Errorf("%w: empty input size", ErrInvalidArgument)
	}
	if config.Bitrate == 0 || config.Framerate == 0 {
		return fmt.Errorf("%w: bitrate %d framerate %d", ErrInvalidArgument, config.Bitrate, config.Framerate)
	}
	if config.ImageProcessor == nil {
		config.ImageProcessor = NewSoftwareImageProcessor
	}
	e.initStarted = true
	e.client = client
	e.config = config

	var err error
	if !e.encodeRunner.Sync(func() { err = e.initializeTask() }) {
		return fmt.Errorf("%w: encode runner stopped", ErrIllegalState)
	}
	return err
}

func (e *VideoEncodeAccelerator) initializeTask() error {
	cfg := e.config
	supported := false
	for _, sp := range e.device.SupportedProfiles() {
		if sp.Profile != cfg.Profile || sp.Encrypted {
			continue
		}
		if !sp.MaxResolution.IsEmpty() &&
			(cfg.InputVisibleSize.Width > sp.MaxResolution.Width || cfg.InputVisibleSize.Height > sp.MaxResolution.Height) {
			return fmt.Errorf("%w: %s exceeds %s for %s", ErrInvalidArgument, cfg.InputVisibleSize, sp.MaxResolution, cfg.Profile)
		}
		supported = true
	}
	if !supported {
		return fmt.Errorf("%w: %s", ErrProfileNotSupported, cfg.Profile)
	}

	if cfg.Profile.Codec() == VideoCodecH264 {
		level := cfg.H264Level
		if level == 0 {
			level = DefaultH264Level
		}
		mbs := H264FrameSizeInMbs(cfg.InputVisibleSize)
		if !CheckH264LevelLimits(cfg.Profile, level, cfg.Bitrate, cfg.Framerate, mbs) {
			valid, ok := FindValidH264Level(cfg.Profile, cfg.Bitrate, cfg.Framerate, mbs)
			if !ok {
				return fmt.Errorf("%w: no H.264 level fits %s at %d bps %d fps",
					ErrInvalidArgument, cfg.InputVisibleSize, cfg.Bitrate, cfg.Framerate)
			}
			e.log.Infof("level %d cannot carry the stream, using %d", level, valid)
			level = valid
		}
		e.level = level
	}

	cc, err := e.device.Initialize(EncoderDeviceConfig{
		Profile:     cfg.Profile,
		InputFormat: cfg.InputFormat,
		VisibleSize: cfg.InputVisibleSize,
		Bitrate:     cfg.Bitrate,
		Framerate:   cfg.Framerate,
		H264Level:   e.level,
	})
	if err != nil {
		return fmt.Errorf("codec device rejected %s: %w", cfg.Profile, err)
	}
	if cc.InputPixelFormat == PixelFormatUnknown {
		cc.InputPixelFormat = cfg.InputFormat
	}
	if cc.InputCodedSize.IsEmpty() {
		cc.InputCodedSize = cfg.InputVisibleSize
	}
	if cc.InputBufferCount <= 0 {
		cc.InputBufferCount = defaultEncoderInputBuffers
	}

	if cc.InputPixelFormat != cfg.InputFormat {
		p, err := cfg.ImageProcessor(ImageProcessorConfig{
			InputFormat:       cfg.InputFormat,
			InputSize:         cfg.InputVisibleSize,
			OutputFormat:      cc.InputPixelFormat,
			OutputSize:        cc.InputCodedSize,
			OutputBufferCount: max(minImageProcessorBuffers, cc.InputBufferCount),
		}, e.lf)
		if err != nil {
			e.device.Destroy()
			return fmt.Errorf("image processor %s -> %s: %w", cfg.InputFormat, cc.InputPixelFormat, err)
		}
		e.processor = p
		for i := 0; i < p.OutputBufferCount(); i++ {
			e.freeProcessorBuffers = append(e.freeProcessorBuffers, i)
		}
	}
	if cfg.Profile.Codec() == VideoCodecH264 {
		e.parameterSets = newH264ParameterSets(cc.ShouldInjectSPSAndPPS)
	}

	e.cc = cc
	e.bitrate = cfg.Bitrate
	e.framerate = cfg.Framerate
	e.unsubscribe = e.device.Subscribe(e.deviceEvents())
	e.state = EncoderStateInitialized
	e.log.Infof("initialized %s %s level=%d %d bps %d fps processor=%v",
		cfg.Profile, cfg.InputVisibleSize, e.level, cfg.Bitrate, cfg.Framerate, e.processor != nil)

	inputCount := cc.InputBufferCount
	if e.processor != nil {
		inputCount = e.processor.OutputBufferCount()
	}
	inputSize := cc.InputCodedSize
	if e.processor != nil {
		inputSize = cfg.InputVisibleSize
	}
	outputSize := cc.OutputBufferByteSize
	e.postClient(func(c VideoEncodeAcceleratorClient) {
		c.RequireBitstreamBuffers(inputCount, inputSize, outputSize)
	})
	return nil
}

func (e *VideoEncodeAccelerator) deviceEvents() EncoderDeviceEvents {
	post := func(f func()) {
		e.encodeRunner.PostTask(e.encodeToken.Bind(f))
	}
	return EncoderDeviceEvents{
		InputDone: func(frame *VideoFrame) {
			post(func() { e.inputDoneTask(frame) })
		},
		BitstreamReady: func(chunk EncodedChunk) {
			post(func() { e.bitstreamReadyTask(chunk) })
		},
		FlushDone: func(ok bool) {
			post(func() { e.flushDoneTask(ok) })
		},
		Error: func(err error) {
			post(func() {
				e.log.Errorf("codec device error: %v", err)
				e.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			})
		},
	}
}

// Encode queues frame. forceKeyframe requests an IDR for this frame.
func (e *VideoEncodeAccelerator) Encode(frame *VideoFrame, forceKeyframe bool) {
	e.encodeRunner.PostTask(e.encodeToken.Bind(func() { e.encodeTask(frame, forceKeyframe) }))
}

// UseOutputBitstreamBuffer gives the encoder a host buffer to fill.
// len(buffer.Data) is the buffer's capacity.
func (e *VideoEncodeAccelerator) UseOutputBitstreamBuffer(buffer BitstreamBuffer) {
	e.encodeRunner.PostTask(e.encodeToken.Bind(func() { e.useBitstreamBufferTask(buffer) }))
}

// RequestEncodingParametersChange asks for a new bitrate (bits/s) and
// framerate.
func (e *VideoEncodeAccelerator) RequestEncodingParametersChange(bitrate uint64, framerate uint32) {
	e.encodeRunner.PostTask(e.encodeToken.Bind(func() { e.changeParametersTask(bitrate, framerate) }))
}

// Flush encodes every queued frame and calls done(true) once all of their
// output has been delivered. done(false) reports a failed or rejected
// flush.
func (e *VideoEncodeAccelerator) Flush(done func(bool)) {
	if !e.encodeRunner.PostTask(e.encodeToken.Bind(func() { e.flushTask(done) })) {
		e.clientRunner.PostTask(func() { done(false) })
	}
}

// IsFlushSupported reports whether Flush can be used.
func (e *VideoEncodeAccelerator) IsFlushSupported() bool { return true }

// State returns the encoder state.
func (e *VideoEncodeAccelerator) State() EncoderState {
	s := EncoderStateDestroying
	e.encodeRunner.Sync(func() { s = e.state })
	return s
}

// Rates returns the bitrate and framerate currently applied by the device.
func (e *VideoEncodeAccelerator) Rates() (bitrate, framerate uint32) {
	e.encodeRunner.Sync(func() { bitrate, framerate = e.bitrate, e.framerate })
	return bitrate, framerate
}

// Level returns the negotiated H.264 level_idc, 0 for other codecs.
func (e *VideoEncodeAccelerator) Level() uint8 {
	var level uint8
	e.encodeRunner.Sync(func() { level = e.level })
	return level
}

// Destroy tears the encoder down. The device delivers no callbacks after
// Destroy returns.
func (e *VideoEncodeAccelerator) Destroy() {
	e.clientWeak.Invalidate()
	e.encodeRunner.Sync(e.destroyTask)
	e.encodeWeak.Invalidate()
	e.encodeRunner.Stop()
}

func (e *VideoEncodeAccelerator) destroyTask() {
	wasInitialized := e.state != EncoderStateUninitialized
	e.state = EncoderStateDestroying
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
	if e.processor != nil {
		e.processor.Destroy()
		e.processor = nil
	}
	if wasInitialized {
		e.device.Destroy()
	}
	e.processorQueue = nil
	e.inputQueue = nil
	e.outputQueue = nil
	e.bitstreamBuffers = nil
	e.flushCallback = nil
}

func (e *VideoEncodeAccelerator) postClient(f func(VideoEncodeAcceleratorClient)) {
	client := e.client
	e.clientRunner.PostTask(e.clientToken.Bind(func() { f(client) }))
}

func (e *VideoEncodeAccelerator) postFlushResult(ok bool) {
	cb := e.flushCallback
	e.flushCallback = nil
	e.deviceFlushing = false
	e.deviceFlushDone = false
	if cb != nil {
		e.clientRunner.PostTask(e.clientToken.Bind(func() { cb(ok) }))
	}
}

func (e *VideoEncodeAccelerator) setErrorState(code AcceleratorError) {
	if e.state == EncoderStateError || e.state == EncoderStateDestroying {
		return
	}
	e.log.Errorf("encoder error in state %s: %v", e.state, code)
	e.state = EncoderStateError
	e.postFlushResult(false)
	e.postClient(func(c VideoEncodeAcceleratorClient) { c.NotifyError(code) })
}

func (e *VideoEncodeAccelerator) notifyInputError(code AcceleratorError) {
	e.postClient(func(c VideoEncodeAcceleratorClient) { c.NotifyError(code) })
}

func (e *VideoEncodeAccelerator) acceptingWork() bool {
	switch e.state {
	case EncoderStateInitialized, EncoderStateEncoding, EncoderStateFlushing:
		return true
	default:
		return false
	}
}

func (e *VideoEncodeAccelerator) encodeTask(frame *VideoFrame, forceKeyframe bool) {
	if !e.acceptingWork() {
		return
	}
	if frame == nil {
		e.log.Warnf("nil frame")
		e.notifyInputError(ErrInvalidArgument)
		return
	}
	if frame.Format != e.config.InputFormat {
		e.log.Warnf("frame format %s, configured for %s", frame.Format, e.config.InputFormat)
		e.notifyInputError(ErrInvalidArgument)
		return
	}
	if e.state == EncoderStateInitialized {
		e.state = EncoderStateEncoding
	}
	req := encodeRequest{frame: frame, forceKeyframe: forceKeyframe, processorIndex: -1}
	if e.processor != nil {
		e.processorQueue = append(e.processorQueue, req)
		e.pumpProcessor()
		return
	}
	e.inputQueue = append(e.inputQueue, req)
	e.pumpInput()
}

// pumpProcessor feeds queued frames into free processor buffers. The
// flush sentinel passes on to the device queue only once every frame in
// front of it has left the processor.
func (e *VideoEncodeAccelerator) pumpProcessor() {
	for len(e.processorQueue) > 0 && e.acceptingWork() {
		req := e.processorQueue[0]
		if req.frame == nil {
			if e.framesInProcessor > 0 {
				return
			}
			e.processorQueue = e.processorQueue[1:]
			e.inputQueue = append(e.inputQueue, req)
			continue
		}
		if len(e.freeProcessorBuffers) == 0 {
			return
		}
		index := e.freeProcessorBuffers[0]
		e.freeProcessorBuffers = e.freeProcessorBuffers[1:]
		e.processorQueue = e.processorQueue[1:]
		e.framesInProcessor++

		force := req.forceKeyframe
		ok := e.processor.Process(req.frame, index, func(out *VideoFrame, err error) {
			e.encodeRunner.PostTask(e.encodeToken.Bind(func() { e.frameProcessedTask(index, force, out, err) }))
		})
		if !ok {
			e.setErrorState(ErrPlatformFailure)
			return
		}
	}
	e.pumpInput()
}

func (e *VideoEncodeAccelerator) frameProcessedTask(index int, forceKeyframe bool, out *VideoFrame, err error) {
	e.framesInProcessor--
	if !e.acceptingWork() {
		return
	}
	if err != nil {
		e.log.Errorf("image processor: %v", err)
		e.setErrorState(acceleratorCode(err, ErrPlatformFailure))
		return
	}
	e.inputQueue = append(e.inputQueue, encodeRequest{frame: out, forceKeyframe: forceKeyframe, processorIndex: index})
	e.pumpProcessor()
}

func (e *VideoEncodeAccelerator) pumpInput() {
	for len(e.inputQueue) > 0 && e.acceptingWork() && !e.deviceFlushing {
		req := e.inputQueue[0]
		if req.frame == nil {
			e.inputQueue = e.inputQueue[1:]
			e.startDeviceFlush()
			return
		}
		if e.inputsAtDevice >= e.cc.InputBufferCount {
			return
		}
		if err := e.device.Encode(req.frame, req.forceKeyframe); err != nil {
			if errors.Is(err, ErrNoFreeBuffer) || errors.Is(err, ErrWouldBlock) {
				return
			}
			e.log.Errorf("encode: %v", err)
			e.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		e.inputQueue = e.inputQueue[1:]
		e.inputsAtDevice++
		if req.processorIndex >= 0 {
			e.processorFrames[req.frame] = req.processorIndex
		}
	}
}

func (e *VideoEncodeAccelerator) inputDoneTask(frame *VideoFrame) {
	if e.inputsAtDevice > 0 {
		e.inputsAtDevice--
	}
	if index, ok := e.processorFrames[frame]; ok {
		delete(e.processorFrames, frame)
		e.freeProcessorBuffers = append(e.freeProcessorBuffers, index)
		e.pumpProcessor()
		return
	}
	e.pumpInput()
}

func (e *VideoEncodeAccelerator) useBitstreamBufferTask(buffer BitstreamBuffer) {
	if !e.acceptingWork() {
		return
	}
	if buffer.ID < 0 {
		e.log.Warnf("bitstream buffer with reserved id %d", buffer.ID)
		e.notifyInputError(ErrInvalidArgument)
		return
	}
	if len(buffer.Data) < e.cc.OutputBufferByteSize {
		e.log.Errorf("bitstream buffer %d holds %d bytes, need %d", buffer.ID, len(buffer.Data), e.cc.OutputBufferByteSize)
		e.setErrorState(ErrInvalidArgument)
		return
	}
	if e.state == EncoderStateInitialized {
		e.state = EncoderStateEncoding
	}
	e.bitstreamBuffers = append(e.bitstreamBuffers, buffer)
	e.pumpOutput()
}

func (e *VideoEncodeAccelerator) bitstreamReadyTask(chunk EncodedChunk) {
	if !e.acceptingWork() {
		return
	}
	e.outputQueue = append(e.outputQueue, chunk)
	e.pumpOutput()
}

// pumpOutput pairs encoded chunks with host bitstream buffers.
func (e *VideoEncodeAccelerator) pumpOutput() {
	for len(e.outputQueue) > 0 && len(e.bitstreamBuffers) > 0 {
		chunk := e.outputQueue[0]
		e.outputQueue = e.outputQueue[1:]
		buf := e.bitstreamBuffers[0]

		n, err := e.writeChunk(buf.Data, chunk.Data)
		if err != nil {
			// The buffer stays free for the next chunk.
			e.log.Warnf("dropping %d byte chunk at %v: %v", len(chunk.Data), chunk.Timestamp, err)
			continue
		}
		e.bitstreamBuffers = e.bitstreamBuffers[1:]
		meta := BitstreamBufferMetadata{PayloadSize: n, KeyFrame: chunk.KeyFrame, Timestamp: chunk.Timestamp}
		e.postClient(func(c VideoEncodeAcceleratorClient) { c.BitstreamBufferReady(buf.ID, meta) })
	}
	e.maybeFinishFlush()
}

func (e *VideoEncodeAccelerator) writeChunk(dst, chunk []byte) (int, error) {
	if e.parameterSets != nil {
		return e.parameterSets.write(dst, chunk)
	}
	if len(chunk) > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrBufferTooSmall, len(chunk), len(dst))
	}
	return copy(dst, chunk), nil
}

func (e *VideoEncodeAccelerator) changeParametersTask(bitrate uint64, framerate uint32) {
	if !e.acceptingWork() {
		return
	}
	if bitrate == 0 || bitrate > math.MaxUint32 || framerate == 0 {
		e.log.Warnf("rejecting rates %d bps %d fps", bitrate, framerate)
		e.notifyInputError(ErrInvalidArgument)
		return
	}
	if uint32(bitrate) == e.bitrate && framerate == e.framerate {
		return
	}
	if err := e.device.UpdateRates(uint32(bitrate), framerate); err != nil {
		e.log.Errorf("update rates %d bps %d fps: %v", bitrate, framerate, err)
		e.setErrorState(acceleratorCode(err, ErrPlatformFailure))
		return
	}
	e.bitrate = uint32(bitrate)
	e.framerate = framerate
	e.log.Debugf("rates now %d bps %d fps", e.bitrate, e.framerate)
}

func (e *VideoEncodeAccelerator) flushTask(done func(bool)) {
	if e.state == EncoderStateError || e.state == EncoderStateDestroying {
		e.clientRunner.PostTask(e.clientToken.Bind(func() { done(false) }))
		return
	}
	if e.flushCallback != nil || e.state == EncoderStateUninitialized {
		e.log.Errorf("flush requested in state %s with a flush in flight=%v", e.state, e.flushCallback != nil)
		e.clientRunner.PostTask(e.clientToken.Bind(func() { done(false) }))
		e.setErrorState(ErrIllegalState)
		return
	}
	e.flushCallback = done
	e.state = EncoderStateFlushing
	sentinel := encodeRequest{processorIndex: -1}
	if e.processor != nil {
		e.processorQueue = append(e.processorQueue, sentinel)
		e.pumpProcessor()
		return
	}
	e.inputQueue = append(e.inputQueue, sentinel)
	e.pumpInput()
}

func (e *VideoEncodeAccelerator) startDeviceFlush() {
	e.deviceFlushing = true
	if err := e.device.Flush(); err != nil {
		e.log.Errorf("flush: %v", err)
		e.setErrorState(acceleratorCode(err, ErrPlatformFailure))
	}
}

func (e *VideoEncodeAccelerator) flushDoneTask(ok bool) {
	if e.flushCallback == nil || !e.deviceFlushing {
		e.log.Debugf("ignoring flush done in state %s", e.state)
		return
	}
	if !ok {
		e.log.Warnf("codec device failed to flush")
		e.postFlushResult(false)
		e.state = EncoderStateEncoding
		e.pumpInput()
		return
	}
	e.deviceFlushDone = true
	e.maybeFinishFlush()
}

// maybeFinishFlush completes a flush once the device has drained and the
// last chunk reached the host.
func (e *VideoEncodeAccelerator) maybeFinishFlush() {
	if e.flushCallback == nil || !e.deviceFlushDone || len(e.outputQueue) > 0 {
		return
	}
	e.postFlushResult(true)
	e.state = EncoderStateEncoding
	e.pumpProcessor()
	e.pumpInput()
}
