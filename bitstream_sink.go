package media

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// defaultOutputBitstreamBuffers is how many output buffers an
// EncodedStreamClient keeps with the encoder.
const defaultOutputBitstreamBuffers = 4

// BitstreamSink consumes encoded access units.
type BitstreamSink interface {
	WriteFrame(frame *EncodedFrame) error
}

// NewRTPPacketizer returns the packetizer for codec.
func NewRTPPacketizer(codec VideoCodec, ssrc uint32, pt uint8, mtu int) (RTPPacketizer, error) {
	switch codec {
	case VideoCodecH264:
		return NewH264Packetizer(ssrc, pt, mtu), nil
	case VideoCodecVP8, VideoCodecVP9:
		return NewVPXPacketizer(codec, ssrc, pt, mtu)
	default:
		return nil, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}
}

// RTPBitstreamSink packetizes frames and writes them to an RTPWriter.
type RTPBitstreamSink struct {
	packetizer RTPPacketizer
	w          RTPWriter

	frames  atomic.Uint64
	packets atomic.Uint64
}

// NewRTPBitstreamSink creates a sink writing codec packets to w.
func NewRTPBitstreamSink(codec VideoCodec, ssrc uint32, pt uint8, mtu int, w RTPWriter) (*RTPBitstreamSink, error) {
	p, err := NewRTPPacketizer(codec, ssrc, pt, mtu)
	if err != nil {
		return nil, err
	}
	return &RTPBitstreamSink{packetizer: p, w: w}, nil
}

func (s *RTPBitstreamSink) WriteFrame(frame *EncodedFrame) error {
	packets, err := s.packetizer.Packetize(frame)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := s.w.WriteRTP(pkt); err != nil {
			return err
		}
	}
	s.frames.Add(1)
	s.packets.Add(uint64(len(packets)))
	return nil
}

// Stats returns how many frames and packets were written.
func (s *RTPBitstreamSink) Stats() (frames, packets uint64) {
	return s.frames.Load(), s.packets.Load()
}

// RTPCodecCapability returns the webrtc capability of codec.
func RTPCodecCapability(codec VideoCodec) (webrtc.RTPCodecCapability, error) {
	c := webrtc.RTPCodecCapability{MimeType: codec.MimeType(), ClockRate: codec.ClockRate()}
	switch codec {
	case VideoCodecH264:
		c.SDPFmtpLine = "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
	case VideoCodecVP8:
	case VideoCodecVP9:
		c.SDPFmtpLine = "profile-id=0"
	default:
		return c, fmt.Errorf("%w: %s", ErrCodecNotSupported, codec)
	}
	return c, nil
}

// TrackBitstreamSink is a webrtc.TrackLocal fed with encoder output. Each
// bound peer connection gets its own packetizer with the negotiated
// payload type and SSRC.
type TrackBitstreamSink struct {
	id       string
	streamID string
	codec    VideoCodec
	cap      webrtc.RTPCodecCapability

	bindMu   sync.RWMutex
	bindings []trackBinding
}

type trackBinding struct {
	id         string
	writer     webrtc.TrackLocalWriter
	packetizer RTPPacketizer
}

// NewTrackBitstreamSink creates a video track carrying codec.
func NewTrackBitstreamSink(codec VideoCodec, id, streamID string) (*TrackBitstreamSink, error) {
	c, err := RTPCodecCapability(codec)
	if err != nil {
		return nil, err
	}
	return &TrackBitstreamSink{id: id, streamID: streamID, codec: codec, cap: c}, nil
}

func (t *TrackBitstreamSink) ID() string                { return t.id }
func (t *TrackBitstreamSink) RID() string               { return "" }
func (t *TrackBitstreamSink) StreamID() string          { return t.streamID }
func (t *TrackBitstreamSink) Kind() webrtc.RTPCodecType { return webrtc.RTPCodecTypeVideo }

// Codec returns the track's codec capability.
func (t *TrackBitstreamSink) Codec() webrtc.RTPCodecCapability { return t.cap }

// Bind implements webrtc.TrackLocal.
func (t *TrackBitstreamSink) Bind(ctx webrtc.TrackLocalContext) (webrtc.RTPCodecParameters, error) {
	params := webrtc.RTPCodecParameters{RTPCodecCapability: t.cap, PayloadType: webrtc.PayloadType(t.codec.DefaultPayloadType())}
	for _, p := range ctx.CodecParameters() {
		if p.MimeType == t.cap.MimeType {
			params = p
			break
		}
	}
	packetizer, err := NewRTPPacketizer(t.codec, uint32(ctx.SSRC()), uint8(params.PayloadType), DefaultMTU)
	if err != nil {
		return webrtc.RTPCodecParameters{}, err
	}

	t.bindMu.Lock()
	defer t.bindMu.Unlock()
	t.bindings = append(t.bindings, trackBinding{id: ctx.ID(), writer: ctx.WriteStream(), packetizer: packetizer})
	return params, nil
}

// Unbind implements webrtc.TrackLocal.
func (t *TrackBitstreamSink) Unbind(ctx webrtc.TrackLocalContext) error {
	t.bindMu.Lock()
	defer t.bindMu.Unlock()
	for i, b := range t.bindings {
		if b.id == ctx.ID() {
			t.bindings = append(t.bindings[:i], t.bindings[i+1:]...)
			break
		}
	}
	return nil
}

// WriteFrame sends frame to every bound peer connection.
func (t *TrackBitstreamSink) WriteFrame(frame *EncodedFrame) error {
	t.bindMu.RLock()
	defer t.bindMu.RUnlock()
	for _, b := range t.bindings {
		packets, err := b.packetizer.Packetize(frame)
		if err != nil {
			return err
		}
		for _, p := range packets {
			if _, err := b.writer.WriteRTP(&p.Header, p.Payload); err != nil {
				return err
			}
		}
	}
	return nil
}

var _ webrtc.TrackLocal = (*TrackBitstreamSink)(nil)

// KeyFrameRequested reports whether pkts carry a PLI or FIR for ssrc. A
// zero ssrc matches any media source.
func KeyFrameRequested(pkts []rtcp.Packet, ssrc uint32) bool {
	for _, p := range pkts {
		switch p := p.(type) {
		case *rtcp.PictureLossIndication:
			if ssrc == 0 || p.MediaSSRC == ssrc {
				return true
			}
		case *rtcp.FullIntraRequest:
			for _, e := range p.FIR {
				if ssrc == 0 || e.SSRC == ssrc {
					return true
				}
			}
		}
	}
	return false
}

// WatchKeyFrameRequests reads RTCP from sender until it is closed and calls
// fn for every key frame request.
func WatchKeyFrameRequests(sender *webrtc.RTPSender, fn func()) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		if KeyFrameRequested(pkts, 0) {
			fn()
		}
	}
}

// EncodedStreamClient is a VideoEncodeAcceleratorClient that owns the
// output bitstream buffers and forwards every filled one to a sink. Its
// callbacks run on the encoder's client runner.
type EncodedStreamClient struct {
	sink BitstreamSink
	log  logging.LeveledLogger

	vea     *VideoEncodeAccelerator
	buffers map[int32][]byte

	ready      chan struct{}
	readyOnce  sync.Once
	codedSize  Size
	inputCount int

	mu      sync.Mutex
	err     error
	frames  uint64
	bytes   uint64
	onError func(AcceleratorError)
}

// NewEncodedStreamClient creates a client forwarding to sink.
func NewEncodedStreamClient(sink BitstreamSink, loggerFactory logging.LoggerFactory) *EncodedStreamClient {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &EncodedStreamClient{
		sink:    sink,
		log:     loggerFactory.NewLogger("stream"),
		buffers: make(map[int32][]byte),
		ready:   make(chan struct{}),
	}
}

// OnError registers fn to run when the encoder reports an error.
func (c *EncodedStreamClient) OnError(fn func(AcceleratorError)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// Start initializes vea with c as its client.
func (c *EncodedStreamClient) Start(vea *VideoEncodeAccelerator, config EncoderConfig) error {
	c.vea = vea
	return vea.Initialize(config, c)
}

// Ready is closed once the encoder has asked for its buffers; frames may
// be encoded from then on.
func (c *EncodedStreamClient) Ready() <-chan struct{} { return c.ready }

// InputCodedSize returns the frame size the encoder wants. Valid after
// Ready.
func (c *EncodedStreamClient) InputCodedSize() Size { return c.codedSize }

// InputCount returns how many frames the encoder can hold at once. Valid
// after Ready.
func (c *EncodedStreamClient) InputCount() int { return c.inputCount }

// Err returns the first sink or encoder error.
func (c *EncodedStreamClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stats returns the frames and payload bytes forwarded.
func (c *EncodedStreamClient) Stats() (frames, bytes uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, c.bytes
}

func (c *EncodedStreamClient) RequireBitstreamBuffers(inputCount int, inputCodedSize Size, outputBufferSize int) {
	c.codedSize, c.inputCount = inputCodedSize, inputCount
	for id := int32(0); id < defaultOutputBitstreamBuffers; id++ {
		buf := make([]byte, outputBufferSize)
		c.buffers[id] = buf
		c.vea.UseOutputBitstreamBuffer(BitstreamBuffer{ID: id, Data: buf})
	}
	c.log.Debugf("%d output buffers of %d bytes, input %s x%d", defaultOutputBitstreamBuffers, outputBufferSize, inputCodedSize, inputCount)
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *EncodedStreamClient) BitstreamBufferReady(id int32, metadata BitstreamBufferMetadata) {
	buf, ok := c.buffers[id]
	if !ok {
		c.log.Warnf("unknown bitstream buffer %d", id)
		return
	}
	frame := &EncodedFrame{
		Data:      append([]byte(nil), buf[:metadata.PayloadSize]...),
		FrameType: FrameTypeDelta,
		Timestamp: metadata.Timestamp,
	}
	if metadata.KeyFrame {
		frame.FrameType = FrameTypeKey
	}
	c.vea.UseOutputBitstreamBuffer(BitstreamBuffer{ID: id, Data: buf})

	err := c.sink.WriteFrame(frame)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.log.Warnf("sink: %v", err)
		if c.err == nil {
			c.err = err
		}
		return
	}
	c.frames++
	c.bytes += uint64(metadata.PayloadSize)
}

func (c *EncodedStreamClient) NotifyError(code AcceleratorError) {
	c.log.Errorf("encoder: %v", code)
	c.mu.Lock()
	if c.err == nil {
		c.err = code
	}
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(code)
	}
	c.readyOnce.Do(func() { close(c.ready) })
}

// RTPWriterFunc adapts a function to RTPWriter.
type RTPWriterFunc func(*rtp.Packet) error

func (f RTPWriterFunc) WriteRTP(p *rtp.Packet) error { return f(p) }
