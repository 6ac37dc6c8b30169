package media

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"
)

// FlushBufferID marks the flush sentinel in the decoder input queue. Host
// bitstream ids must be >= 0.
const FlushBufferID int32 = -2

const (
	defaultInputBufferCount   = 4
	defaultExtraOutputBuffers = 2
	defaultFencePollInterval  = 17 * time.Millisecond
)

// DecoderState is the decode runner's state machine.
type DecoderState int

const (
	DecoderStateUninitialized DecoderState = iota
	DecoderStateInitialized
	DecoderStateAwaitingPictureBuffers
	DecoderStateDecoding
	DecoderStateResetting
	DecoderStateChangingResolution
	DecoderStateFlushing
	DecoderStateError
	DecoderStateDestroying
)

func (s DecoderState) String() string {
	switch s {
	case DecoderStateUninitialized:
		return "uninitialized"
	case DecoderStateInitialized:
		return "initialized"
	case DecoderStateAwaitingPictureBuffers:
		return "awaiting-picture-buffers"
	case DecoderStateDecoding:
		return "decoding"
	case DecoderStateResetting:
		return "resetting"
	case DecoderStateChangingResolution:
		return "changing-resolution"
	case DecoderStateFlushing:
		return "flushing"
	case DecoderStateError:
		return "error"
	case DecoderStateDestroying:
		return "destroying"
	default:
		return "unknown"
	}
}

// BitstreamBuffer is one host-supplied region of encoded data.
type BitstreamBuffer struct {
	ID        int32
	Data      []byte
	Timestamp time.Duration
}

// PictureBuffer is a host-allocated output slot.
type PictureBuffer struct {
	ID         int32
	TextureIDs []uint32
	Size       Size
}

// Picture is a decoded picture handed back to the host.
type Picture struct {
	PictureBufferID int32
	BitstreamID     int32
	VisibleRect     Rect
	// Overlay is set when the picture is routed to a media layer; the host
	// draws a transparent placeholder instead of sampling the texture.
	Overlay bool
}

// VideoDecodeAcceleratorClient receives decoder callbacks. Every method is
// invoked on the client TaskRunner given to NewVideoDecodeAccelerator.
type VideoDecodeAcceleratorClient interface {
	ProvidePictureBuffersWithVisibleRect(count int, format PixelFormat, textureCount int, size Size, visible Rect, textureTarget uint32)
	DismissPictureBuffer(id int32)
	PictureReady(picture Picture)
	NotifyEndOfBitstreamBuffer(id int32)
	NotifyFlushDone()
	NotifyResetDone()
	NotifyError(err AcceleratorError)
}

// DecoderConfig configures a VideoDecodeAccelerator.
type DecoderConfig struct {
	Profile    VideoCodecProfile
	OutputMode OutputMode
	CodedSize  Size // initial guess; the stream decides
	Encrypted  bool

	// Display is the EGLDisplay the picture textures belong to.
	Display EGLDisplay
	// UseGLFences attaches a fence to reused pictures before they go back
	// to the codec.
	UseGLFences bool
	// AccessUnitAligned means every bitstream buffer ends on a frame
	// boundary, so a frame pending at the end of a buffer is complete.
	AccessUnitAligned bool

	ExtraOutputBuffers int
	FencePollInterval  time.Duration
}

// DefaultDecoderConfig returns sensible defaults for profile.
func DefaultDecoderConfig(profile VideoCodecProfile) DecoderConfig {
	return DecoderConfig{
		Profile:            profile,
		OutputMode:         OutputModeImport,
		CodedSize:          Size{Width: 1280, Height: 720},
		AccessUnitAligned:  true,
		ExtraOutputBuffers: defaultExtraOutputBuffers,
		FencePollInterval:  defaultFencePollInterval,
	}
}

// bitstreamBufferRef tracks a queued bitstream buffer. Releasing it sends
// NotifyEndOfBitstreamBuffer exactly once.
type bitstreamBufferRef struct {
	id        int32
	data      []byte
	timestamp time.Duration
	used      int
	released  bool
	onRelease func(id int32)
}

func (b *bitstreamBufferRef) release() {
	if b.released {
		return
	}
	b.released = true
	if b.onRelease != nil && b.id >= 0 {
		b.onRelease(b.id)
	}
}

// VideoDecodeAccelerator drives a DecoderDevice on a dedicated decode
// runner. Public methods are called from the host's client goroutine and
// return immediately, except Initialize and Destroy which wait for the
// decode runner.
type VideoDecodeAccelerator struct {
	device DecoderDevice
	images *EGLImageFactory
	log    logging.LeveledLogger

	clientRunner *TaskRunner
	decodeRunner *TaskRunner
	clientWeak   weakFactory
	decodeWeak   weakFactory
	clientToken  weakToken
	decodeToken  weakToken

	// Set by Initialize before the first decode task; read-only after.
	client      VideoDecodeAcceleratorClient
	config      DecoderConfig
	initStarted bool

	// Everything below is owned by the decode runner.
	state            DecoderState
	stateBeforeFlush DecoderState
	clientConfig     DecoderClientConfig
	splitter         FragmentSplitter
	unsubscribe      func()
	mediaLayerID     string

	inputQueue      []*bitstreamBufferRef
	current         *bitstreamBufferRef
	frame           []byte
	frameID         int32
	frameTimestamp  time.Duration
	freeInputs      []int
	inputsAtDevice  map[int]int32
	decodeScheduled bool

	resetPending     bool
	coalescedResets  int
	resChangePending bool

	outputFormat         DecoderOutputFormat
	outputPixelFormat    PixelFormat
	requestedPictures    int
	outputs              []*outputRecord
	pictureToSlot        map[int32]int
	outputWaitMap        map[int32]int
	awaitingFence        []int
	fencePoll            cancelableTask
	pictureGen           uint64
	outputsReady         bool
	pendingPictures      []pendingPicture
	pictureClearingCount int
}

// NewVideoDecodeAccelerator creates a decoder over device. Client callbacks
// are posted to clientRunner, which is also where EGL calls are made.
// images may be nil when pictures never carry textures.
func NewVideoDecodeAccelerator(device DecoderDevice, images *EGLImageFactory, clientRunner *TaskRunner, loggerFactory logging.LoggerFactory) *VideoDecodeAccelerator {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	d := &VideoDecodeAccelerator{
		device:         device,
		images:         images,
		log:            loggerFactory.NewLogger("vda"),
		clientRunner:   clientRunner,
		decodeRunner:   NewTaskRunner("vda-decode", clientRunner.Clock(), loggerFactory),
		inputsAtDevice: make(map[int]int32),
		pictureToSlot:  make(map[int32]int),
		outputWaitMap:  make(map[int32]int),
	}
	d.clientToken = d.clientWeak.Token()
	d.decodeToken = d.decodeWeak.Token()
	return d
}

// Initialize configures the decoder and waits for the decode runner to
// apply it.
func (d *VideoDecodeAccelerator) Initialize(config DecoderConfig, client VideoDecodeAcceleratorClient) error {
	if d.initStarted {
		return ErrAlreadyInitialized
	}
	if config.Encrypted {
		return ErrEncryptedUnsupported
	}
	if config.OutputMode != OutputModeAllocate && config.OutputMode != OutputModeImport {
		return fmt.Errorf("%w: %d", ErrInvalidOutputMode, config.OutputMode)
	}
	if client == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidArgument)
	}
	if config.ExtraOutputBuffers < 0 {
		config.ExtraOutputBuffers = 0
	}
	if config.FencePollInterval <= 0 {
		config.FencePollInterval = defaultFencePollInterval
	}

	d.initStarted = true
	d.client = client
	d.config = config

	var err error
	if !d.decodeRunner.Sync(func() { err = d.initializeTask() }) {
		return fmt.Errorf("%w: decode runner stopped", ErrIllegalState)
	}
	return err
}

func (d *VideoDecodeAccelerator) initializeTask() error {
	if !profileSupported(d.device.SupportedProfiles(), d.config.Profile) {
		return fmt.Errorf("%w: %s", ErrProfileNotSupported, d.config.Profile)
	}
	cc, err := d.device.Initialize(DecoderDeviceConfig{
		Profile:    d.config.Profile,
		CodedSize:  d.config.CodedSize,
		OutputMode: d.config.OutputMode,
	})
	if err != nil {
		return fmt.Errorf("codec device rejected %s: %w", d.config.Profile, err)
	}
	if !cc.ShouldControlBufferFeed {
		if d.splitter, err = NewFragmentSplitter(d.config.Profile); err != nil {
			d.device.Destroy()
			return err
		}
	}
	if cc.InputBufferCount <= 0 {
		cc.InputBufferCount = defaultInputBufferCount
	}
	for i := range cc.InputBufferCount {
		d.freeInputs = append(d.freeInputs, i)
	}
	d.clientConfig = cc
	d.unsubscribe = d.device.Subscribe(d.deviceEvents())
	d.state = DecoderStateInitialized

	d.log.Infof("initialized profile=%s mode=%s size=%s inputs=%d device_feed=%v",
		d.config.Profile, d.config.OutputMode, d.config.CodedSize, cc.InputBufferCount, cc.ShouldControlBufferFeed)
	return nil
}

func profileSupported(profiles []SupportedProfile, p VideoCodecProfile) bool {
	for _, sp := range profiles {
		if sp.Profile == p && !sp.Encrypted {
			return true
		}
	}
	return false
}

// deviceEvents re-posts every device callback onto the decode runner. The
// callbacks stop having effect once the decoder is destroyed.
func (d *VideoDecodeAccelerator) deviceEvents() DecoderDeviceEvents {
	post := func(f func()) {
		d.decodeRunner.PostTask(d.decodeToken.Bind(f))
	}
	return DecoderDeviceEvents{
		BufferReady: func(eventPending, hasOutput bool) {
			post(func() { d.serviceDeviceTask(eventPending, hasOutput) })
		},
		ResolutionChanged: func() { post(d.resolutionChangedTask) },
		FlushDone:         func() { post(d.flushDoneTask) },
		ResetDone:         func() { post(d.resetDoneTask) },
		Error: func(err error) {
			post(func() { d.deviceErrorTask(err) })
		},
	}
}

// SupportedProfiles lists what the underlying device can decode.
func (d *VideoDecodeAccelerator) SupportedProfiles() []SupportedProfile {
	return d.device.SupportedProfiles()
}

// Decode queues a bitstream buffer.
func (d *VideoDecodeAccelerator) Decode(buffer BitstreamBuffer) {
	d.decodeRunner.PostTask(d.decodeToken.Bind(func() { d.decodeTask(buffer) }))
}

// AssignPictureBuffers answers ProvidePictureBuffersWithVisibleRect.
func (d *VideoDecodeAccelerator) AssignPictureBuffers(buffers []PictureBuffer) {
	buffers = append([]PictureBuffer(nil), buffers...)
	d.decodeRunner.PostTask(d.decodeToken.Bind(func() { d.assignPictureBuffersTask(buffers) }))
}

// ImportBufferForPicture binds a host DMABUF to a picture buffer in
// OutputModeImport. The decoder takes ownership of handle.Pixmap.
func (d *VideoDecodeAccelerator) ImportBufferForPicture(pictureID int32, format PixelFormat, handle GpuMemoryBufferHandle) {
	if !d.decodeRunner.PostTask(d.decodeToken.Bind(func() { d.importBufferTask(pictureID, format, handle) })) {
		handle.Pixmap.Close()
	}
}

// ReusePictureBuffer returns a picture to the decoder.
func (d *VideoDecodeAccelerator) ReusePictureBuffer(pictureID int32) {
	var fence GLFence
	if d.config.UseGLFences && d.images != nil {
		f, err := d.images.CreateFence(d.config.Display)
		if err != nil {
			d.log.Errorf("fence for picture %d: %v", pictureID, err)
			d.decodeRunner.PostTask(d.decodeToken.Bind(func() { d.setErrorState(ErrPlatformFailure) }))
			return
		}
		fence = f
	}
	d.decodeRunner.PostTask(d.decodeToken.Bind(func() { d.reusePictureBufferTask(pictureID, fence) }))
}

// Flush asks for every queued buffer to be decoded and delivered, then
// NotifyFlushDone.
func (d *VideoDecodeAccelerator) Flush() {
	d.decodeRunner.PostTask(d.decodeToken.Bind(d.flushTask))
}

// Reset drops every queued buffer and pending picture, then
// NotifyResetDone.
func (d *VideoDecodeAccelerator) Reset() {
	d.decodeRunner.PostTask(d.decodeToken.Bind(d.resetTask))
}

// SetMediaLayerID routes decoded pictures to the compositor overlay with
// the given native window id.
func (d *VideoDecodeAccelerator) SetMediaLayerID(id string) {
	d.decodeRunner.PostTask(d.decodeToken.Bind(func() {
		if d.state == DecoderStateError || d.state == DecoderStateDestroying {
			return
		}
		if err := d.device.SetMediaLayerID(id); err != nil {
			d.log.Errorf("set media layer %q: %v", id, err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		d.mediaLayerID = id
	}))
}

// State returns the decoder state. It must not be called from the decode
// runner.
func (d *VideoDecodeAccelerator) State() DecoderState {
	s := DecoderStateDestroying
	d.decodeRunner.Sync(func() { s = d.state })
	return s
}

// Destroy tears the decoder down. No client callback runs after Destroy
// returns.
func (d *VideoDecodeAccelerator) Destroy() {
	d.clientWeak.Invalidate()
	var images []EGLImage
	d.decodeRunner.Sync(func() { images = d.destroyTask() })
	d.decodeWeak.Invalidate()
	d.decodeRunner.Stop()

	// Destroy runs on the client goroutine, which owns the GL context.
	d.destroyImagesNow(images)
}

func (d *VideoDecodeAccelerator) destroyTask() []EGLImage {
	d.log.Debugf("destroying in state %s", d.state)
	wasInitialized := d.state != DecoderStateUninitialized
	d.state = DecoderStateDestroying
	d.fencePoll.Cancel()
	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	if wasInitialized {
		d.device.Destroy()
	}
	if d.current != nil {
		d.current.release()
		d.current = nil
	}
	for _, b := range d.inputQueue {
		b.release()
	}
	d.inputQueue = nil
	d.frame = nil
	return d.releaseOutputRecords()
}

// postClient runs f on the client runner unless the decoder is destroyed
// first.
func (d *VideoDecodeAccelerator) postClient(f func(VideoDecodeAcceleratorClient)) {
	client := d.client
	d.clientRunner.PostTask(d.clientToken.Bind(func() { f(client) }))
}

// setErrorState enters the terminal error state and notifies the client
// once.
func (d *VideoDecodeAccelerator) setErrorState(code AcceleratorError) {
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		return
	}
	d.log.Errorf("decoder error in state %s: %v", d.state, code)
	d.state = DecoderStateError
	d.fencePoll.Cancel()
	d.postClient(func(c VideoDecodeAcceleratorClient) { c.NotifyError(code) })
}

// notifyInputError reports a problem with one input; decoding continues.
func (d *VideoDecodeAccelerator) notifyInputError(code AcceleratorError) {
	d.postClient(func(c VideoDecodeAcceleratorClient) { c.NotifyError(code) })
}

func (d *VideoDecodeAccelerator) deviceErrorTask(err error) {
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		return
	}
	code := acceleratorCode(err, ErrPlatformFailure)
	if code == ErrMalformedBitstream {
		d.log.Warnf("codec rejected bitstream: %v", err)
		d.notifyInputError(code)
		return
	}
	d.log.Errorf("codec device error: %v", err)
	d.setErrorState(code)
}

func (d *VideoDecodeAccelerator) decodeTask(buffer BitstreamBuffer) {
	if d.state == DecoderStateError || d.state == DecoderStateDestroying {
		return
	}
	if buffer.ID < 0 {
		d.log.Warnf("rejecting bitstream buffer with reserved id %d", buffer.ID)
		d.notifyInputError(ErrInvalidArgument)
		return
	}
	ref := &bitstreamBufferRef{
		id:        buffer.ID,
		data:      buffer.Data,
		timestamp: buffer.Timestamp,
		onRelease: func(id int32) {
			d.postClient(func(c VideoDecodeAcceleratorClient) { c.NotifyEndOfBitstreamBuffer(id) })
		},
	}
	if max := d.clientConfig.InputBufferByteSize; d.splitter == nil && max > 0 && len(buffer.Data) > max {
		d.log.Warnf("bitstream buffer %d is %d bytes, device limit %d", buffer.ID, len(buffer.Data), max)
		d.notifyInputError(ErrInvalidArgument)
		ref.release()
		return
	}
	d.inputQueue = append(d.inputQueue, ref)
	d.scheduleDecode()
}

func (d *VideoDecodeAccelerator) scheduleDecode() {
	if d.decodeScheduled {
		return
	}
	d.decodeScheduled = true
	d.decodeRunner.PostTask(d.decodeToken.Bind(d.decodeBufferTask))
}

func (d *VideoDecodeAccelerator) canFeedInput() bool {
	if d.resetPending {
		return false
	}
	switch d.state {
	case DecoderStateInitialized, DecoderStateAwaitingPictureBuffers, DecoderStateDecoding:
		return true
	default:
		return false
	}
}

// decodeBufferTask moves data from the input queue into device input
// slots until it runs out of data or slots.
func (d *VideoDecodeAccelerator) decodeBufferTask() {
	d.decodeScheduled = false
	for d.canFeedInput() {
		if d.current == nil {
			if d.frameComplete() && !d.submitFrame() {
				return
			}
			if len(d.inputQueue) == 0 {
				return
			}
			if d.inputQueue[0].id == FlushBufferID {
				// Pictures cannot drain without picture buffers.
				if d.state == DecoderStateAwaitingPictureBuffers {
					return
				}
				if !d.submitFrame() {
					return
				}
				d.inputQueue = d.inputQueue[1:]
				d.startFlush()
				return
			}
			d.current = d.inputQueue[0]
			d.inputQueue[0] = nil
			d.inputQueue = d.inputQueue[1:]
		}
		if !d.advanceCurrent() {
			return
		}
	}
}

// advanceCurrent consumes the next piece of the current bitstream buffer.
// It returns false when blocked on a device input slot.
func (d *VideoDecodeAccelerator) advanceCurrent() bool {
	buf := d.current
	remaining := buf.data[buf.used:]
	if len(remaining) == 0 {
		d.finishCurrent()
		return true
	}
	if len(d.freeInputs) == 0 {
		return false
	}

	if d.splitter == nil {
		// The device frames the stream itself: one buffer, one input.
		d.appendToFrame(buf, remaining)
		buf.used = len(buf.data)
		if !d.submitFrame() {
			return false
		}
		d.finishCurrent()
		return true
	}

	// A completed frame still waiting for a slot goes first.
	if d.frameComplete() {
		return d.submitFrame()
	}

	end, err := d.splitter.AdvanceFrameFragment(remaining)
	if err != nil {
		d.log.Warnf("dropping bitstream buffer %d: %v", buf.id, err)
		d.notifyInputError(ErrUnreadableInput)
		d.frame = nil
		d.splitter.Reset()
		d.finishCurrent()
		return true
	}
	if end == 0 {
		if !d.splitter.PartialFramePending() && len(d.frame) > 0 {
			// The frame carried over from the previous buffer ended at the
			// start of this one.
			return d.submitFrame()
		}
		// Nothing decodable is left in this buffer.
		buf.used = len(buf.data)
		d.finishCurrent()
		return true
	}

	d.appendToFrame(buf, remaining[:end])
	buf.used += end
	switch {
	case !d.splitter.PartialFramePending():
		d.submitFrame()
	case buf.used == len(buf.data) && d.config.AccessUnitAligned:
		d.splitter.Reset()
		d.submitFrame()
	}
	if buf.used == len(buf.data) {
		d.finishCurrent()
	}
	return true
}

func (d *VideoDecodeAccelerator) frameComplete() bool {
	return len(d.frame) > 0 && (d.splitter == nil || !d.splitter.PartialFramePending())
}

func (d *VideoDecodeAccelerator) appendToFrame(buf *bitstreamBufferRef, data []byte) {
	if len(d.frame) == 0 {
		d.frameID = buf.id
		d.frameTimestamp = buf.timestamp
	}
	d.frame = append(d.frame, data...)
}

func (d *VideoDecodeAccelerator) finishCurrent() {
	d.current.release()
	d.current = nil
}

// submitFrame queues the assembled frame into a free input slot. It
// returns false when the frame must wait for a slot.
func (d *VideoDecodeAccelerator) submitFrame() bool {
	if len(d.frame) == 0 {
		return true
	}
	if len(d.freeInputs) == 0 {
		return false
	}
	frame := d.frame
	d.frame = nil
	if max := d.clientConfig.InputBufferByteSize; max > 0 && len(frame) > max {
		d.log.Warnf("dropping %d byte frame of bitstream %d, device limit %d", len(frame), d.frameID, max)
		d.notifyInputError(ErrInvalidArgument)
		return true
	}

	index := d.freeInputs[0]
	err := d.device.QueueInput(DecoderInput{
		Index:       index,
		BitstreamID: d.frameID,
		Data:        frame,
		Timestamp:   d.frameTimestamp,
	})
	if err != nil {
		if errors.Is(err, ErrNoFreeBuffer) || errors.Is(err, ErrWouldBlock) {
			d.frame = frame
			return false
		}
		d.log.Errorf("queue input %d: %v", index, err)
		d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
		return false
	}
	d.freeInputs = d.freeInputs[1:]
	d.inputsAtDevice[index] = d.frameID
	if d.state == DecoderStateInitialized && d.outputsReady {
		d.state = DecoderStateDecoding
	}
	return true
}

func (d *VideoDecodeAccelerator) serviceDeviceTask(eventPending, hasOutput bool) {
	switch d.state {
	case DecoderStateUninitialized, DecoderStateError, DecoderStateDestroying:
		return
	}
	d.log.Tracef("service device event_pending=%v has_output=%v", eventPending, hasOutput)
	d.dequeueInputs()
	d.dequeueOutputs()
	d.sendPictureReady()
	d.scheduleDecode()
}

func (d *VideoDecodeAccelerator) dequeueInputs() {
	for d.state != DecoderStateError {
		index, ok, err := d.device.DequeueInput()
		if err != nil {
			d.log.Errorf("dequeue input: %v", err)
			d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
			return
		}
		if !ok {
			return
		}
		if _, live := d.inputsAtDevice[index]; !live {
			continue
		}
		delete(d.inputsAtDevice, index)
		d.freeInputs = append(d.freeInputs, index)
	}
}

func (d *VideoDecodeAccelerator) flushTask() {
	switch d.state {
	case DecoderStateUninitialized, DecoderStateError, DecoderStateDestroying:
		return
	}
	d.inputQueue = append(d.inputQueue, &bitstreamBufferRef{id: FlushBufferID})
	d.scheduleDecode()
}

func (d *VideoDecodeAccelerator) startFlush() {
	if d.splitter != nil {
		d.splitter.Reset()
	}
	d.stateBeforeFlush = d.state
	d.state = DecoderStateFlushing
	d.log.Debugf("flushing from %s", d.stateBeforeFlush)
	if err := d.device.Flush(); err != nil {
		d.log.Errorf("flush: %v", err)
		d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
	}
}

func (d *VideoDecodeAccelerator) flushDoneTask() {
	if d.state != DecoderStateFlushing {
		d.log.Debugf("ignoring flush done in state %s", d.state)
		return
	}
	d.dequeueInputs()
	d.dequeueOutputs()
	d.sendPictureReady()
	d.state = d.stateBeforeFlush
	d.postClient(func(c VideoDecodeAcceleratorClient) { c.NotifyFlushDone() })
	if d.resChangePending {
		d.resChangePending = false
		d.startResolutionChange()
	}
	d.scheduleDecode()
}

func (d *VideoDecodeAccelerator) resetTask() {
	switch d.state {
	case DecoderStateUninitialized, DecoderStateError, DecoderStateDestroying:
		return
	}
	if d.current != nil {
		d.finishCurrent()
	}
	for _, b := range d.inputQueue {
		b.release()
	}
	d.inputQueue = nil
	d.frame = nil
	if d.splitter != nil {
		d.splitter.Reset()
	}

	switch d.state {
	case DecoderStateResetting:
		d.coalescedResets++
		return
	case DecoderStateFlushing:
		// The sentinel already reached the codec; the reset drops it and
		// no NotifyFlushDone follows.
		d.log.Infof("reset supersedes in-flight flush")
		d.state = d.stateBeforeFlush
	}
	if d.state == DecoderStateChangingResolution || d.state == DecoderStateAwaitingPictureBuffers {
		if d.resetPending {
			d.coalescedResets++
		}
		d.resetPending = true
		return
	}
	d.finishReset()
}

func (d *VideoDecodeAccelerator) finishReset() {
	d.state = DecoderStateResetting
	if err := d.device.Reset(); err != nil {
		d.log.Errorf("reset: %v", err)
		d.setErrorState(acceleratorCode(err, ErrPlatformFailure))
	}
}

func (d *VideoDecodeAccelerator) resetDoneTask() {
	if d.state != DecoderStateResetting {
		d.log.Debugf("ignoring reset done in state %s", d.state)
		return
	}
	// The device dropped every queued input and output.
	for index := range d.inputsAtDevice {
		d.freeInputs = append(d.freeInputs, index)
	}
	clear(d.inputsAtDevice)
	for _, rec := range d.outputs {
		if rec.state == pictureAtCodec {
			rec.state = pictureFree
		}
	}
	d.sendPictureReady()

	d.state = DecoderStateInitialized
	for i := 0; i <= d.coalescedResets; i++ {
		d.postClient(func(c VideoDecodeAcceleratorClient) { c.NotifyResetDone() })
	}
	d.coalescedResets = 0
	d.log.Debugf("reset done")

	if d.resChangePending {
		d.resChangePending = false
		d.startResolutionChange()
	}
	d.enqueueOutputs()
	d.scheduleDecode()
}
