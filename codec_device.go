package media

import "time"

// The codec device is the platform codec library seen from Go: an
// asynchronous, V4L2-like queue/dequeue machine. Implementations post their
// events from their own goroutines; accelerators re-post them onto their
// decode/encode runner before touching state.

// DecoderDeviceConfig is passed to DecoderDevice.Initialize.
type DecoderDeviceConfig struct {
	Profile    VideoCodecProfile
	CodedSize  Size
	OutputMode OutputMode
}

// DecoderClientConfig is what the device negotiated.
type DecoderClientConfig struct {
	OutputPixelFormat       PixelFormat
	ShouldControlBufferFeed bool // device frames the bitstream itself
	OutputBufferByteSize    int
	ShouldInjectSPSAndPPS   bool
	InputBufferCount        int // maximum in-flight input buffers
	InputBufferByteSize     int // largest single input the device accepts
}

// DecoderOutputFormat describes the picture buffers the device needs.
type DecoderOutputFormat struct {
	CodedSize      Size
	VisibleRect    Rect
	PixelFormat    PixelFormat
	MinBufferCount int
}

// DecoderInput is one frame (or whole buffer when the device controls the
// feed) handed to the device.
type DecoderInput struct {
	Index       int   // input slot, 0..InputBufferCount-1
	BitstreamID int32 // id reported back with the decoded picture
	Data        []byte
	Timestamp   time.Duration
}

// DecodedOutput reports a filled output slot.
type DecodedOutput struct {
	Index       int
	BitstreamID int32
	VisibleRect Rect
}

// DecoderDeviceEvents are the registered callables a decoder device invokes.
// Any field may be nil.
type DecoderDeviceEvents struct {
	// BufferReady corresponds to the device's RunDecodeBufferTask: inputs
	// were consumed (eventPending) and/or outputs are ready (hasOutput).
	BufferReady       func(eventPending, hasOutput bool)
	ResolutionChanged func()
	FlushDone         func()
	ResetDone         func()
	Error             func(err error)
}

// DecoderDevice wraps the platform decoder.
type DecoderDevice interface {
	SupportedProfiles() []SupportedProfile
	Initialize(cfg DecoderDeviceConfig) (DecoderClientConfig, error)
	Subscribe(events DecoderDeviceEvents) (unsubscribe func())

	// SetMediaLayerID routes decoded pictures to the compositor overlay
	// identified by the native window id.
	SetMediaLayerID(id string) error

	QueueInput(in DecoderInput) error
	// DequeueInput returns a consumed input slot, if any.
	DequeueInput() (index int, ok bool, err error)

	OutputFormat() (DecoderOutputFormat, error)
	// AllocateOutputBuffer backs an output slot in OutputModeAllocate.
	AllocateOutputBuffer(index int, format PixelFormat, size Size) (*NativePixmapHandle, error)
	QueueOutput(index int, pixmap *NativePixmapHandle) error
	DequeueOutput() (out DecodedOutput, ok bool, err error)
	// ReleaseOutputBuffers stops the output queue; every queued output slot
	// returns to the caller.
	ReleaseOutputBuffers() error

	// Flush drains every queued input; FlushDone fires after the last
	// resulting picture is dequeueable.
	Flush() error
	// Reset drops queued inputs and outputs; ResetDone fires when done.
	Reset() error
	Destroy()
}

// EncoderDeviceConfig is passed to EncoderDevice.Initialize.
type EncoderDeviceConfig struct {
	Profile     VideoCodecProfile
	InputFormat PixelFormat
	VisibleSize Size
	Bitrate     uint32 // bits per second
	Framerate   uint32
	H264Level   uint8 // level_idc, 0 for non-H.264 profiles
}

// EncoderClientConfig is what the encoder device negotiated.
type EncoderClientConfig struct {
	InputPixelFormat      PixelFormat
	InputCodedSize        Size
	InputBufferCount      int
	OutputBufferByteSize  int
	ShouldInjectSPSAndPPS bool // device leaves SPS/PPS out of IDR output
}

// EncodedChunk is one unit of encoder output.
type EncodedChunk struct {
	Data      []byte
	KeyFrame  bool
	Timestamp time.Duration
}

// EncoderDeviceEvents are the registered callables an encoder device invokes.
type EncoderDeviceEvents struct {
	InputDone      func(frame *VideoFrame)
	BitstreamReady func(chunk EncodedChunk)
	FlushDone      func(ok bool)
	Error          func(err error)
}

// EncoderDevice wraps the platform encoder.
type EncoderDevice interface {
	SupportedProfiles() []SupportedProfile
	Initialize(cfg EncoderDeviceConfig) (EncoderClientConfig, error)
	Subscribe(events EncoderDeviceEvents) (unsubscribe func())
	Encode(frame *VideoFrame, forceKeyframe bool) error
	// UpdateRates applies bitrate and framerate together or not at all.
	UpdateRates(bitrate, framerate uint32) error
	Flush() error
	Destroy()
}
