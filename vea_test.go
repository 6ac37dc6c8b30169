package media

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fakeEncoderDevice turns every frame into one chunk. Key frames carry
// SPS and PPS only the first time unless inlineParams is set. With hold
// set, frames stay queued until release.
type fakeEncoderDevice struct {
	mu sync.Mutex

	cc           EncoderClientConfig
	maxSize      Size
	events       EncoderDeviceEvents
	hold         bool
	holdFlush    bool
	inlineParams bool
	rateErr      error
	encodeErr    error

	cfg         EncoderDeviceConfig
	configured  bool
	destroyed   bool
	sentParams  bool
	held        []*VideoFrame
	heldKeys    []bool
	formats     []PixelFormat
	timestamps  []time.Duration
	bitrate     uint32
	framerate   uint32
	flushes     int
	flushQueued bool
}

func newFakeEncoderDevice() *fakeEncoderDevice {
	return &fakeEncoderDevice{
		cc: EncoderClientConfig{
			InputPixelFormat:     PixelFormatI420,
			InputBufferCount:     3,
			OutputBufferByteSize: 256,
		},
		maxSize: Size{Width: 1920, Height: 1088},
	}
}

func (f *fakeEncoderDevice) SupportedProfiles() []SupportedProfile {
	return []SupportedProfile{
		{Profile: H264ProfileMain, MaxResolution: f.maxSize, MaxFramerate: 60},
		{Profile: H264ProfileHigh, MaxResolution: f.maxSize, MaxFramerate: 60},
		{Profile: VP8ProfileAny, MaxResolution: f.maxSize, MaxFramerate: 30},
	}
}

func (f *fakeEncoderDevice) Initialize(cfg EncoderDeviceConfig) (EncoderClientConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = cfg
	f.configured = true
	f.bitrate, f.framerate = cfg.Bitrate, cfg.Framerate
	cc := f.cc
	cc.InputCodedSize = Size{Width: (cfg.VisibleSize.Width + 15) &^ 15, Height: (cfg.VisibleSize.Height + 15) &^ 15}
	return cc, nil
}

func (f *fakeEncoderDevice) Subscribe(events EncoderDeviceEvents) func() {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.events = EncoderDeviceEvents{}
		f.mu.Unlock()
	}
}

func (f *fakeEncoderDevice) Encode(frame *VideoFrame, forceKeyframe bool) error {
	f.mu.Lock()
	if f.encodeErr != nil {
		err := f.encodeErr
		f.mu.Unlock()
		return err
	}
	f.formats = append(f.formats, frame.Format)
	f.timestamps = append(f.timestamps, frame.Timestamp)
	f.held = append(f.held, frame)
	f.heldKeys = append(f.heldKeys, forceKeyframe)
	if f.hold {
		f.mu.Unlock()
		return nil
	}
	fire := f.drainLocked()
	f.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
	return nil
}

// drainLocked encodes every held frame and returns the callbacks to run
// after unlocking.
func (f *fakeEncoderDevice) drainLocked() []func() {
	var fire []func()
	events := f.events
	for i, frame := range f.held {
		key := f.heldKeys[i] || !f.sentParams
		var data []byte
		switch {
		case key && (!f.sentParams || f.inlineParams):
			data = concat(testSPS, testPPS, testIDR)
			f.sentParams = true
		case key:
			data = slices.Clone(testIDR)
		default:
			data = slices.Clone(testSlice)
		}
		chunk := EncodedChunk{Data: data, KeyFrame: key, Timestamp: frame.Timestamp}
		frame := frame
		if events.InputDone != nil {
			fire = append(fire, func() { events.InputDone(frame) }, func() { events.BitstreamReady(chunk) })
		}
	}
	f.held, f.heldKeys = nil, nil
	if f.flushQueued && !f.holdFlush {
		f.flushQueued = false
		if events.FlushDone != nil {
			fire = append(fire, func() { events.FlushDone(true) })
		}
	}
	return fire
}

func (f *fakeEncoderDevice) release() {
	f.mu.Lock()
	f.hold = false
	fire := f.drainLocked()
	f.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

func (f *fakeEncoderDevice) finishFlush(ok bool) {
	f.mu.Lock()
	f.holdFlush = false
	f.flushQueued = false
	events := f.events
	f.mu.Unlock()
	if events.FlushDone != nil {
		events.FlushDone(ok)
	}
}

func (f *fakeEncoderDevice) UpdateRates(bitrate, framerate uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rateErr != nil {
		return f.rateErr
	}
	f.bitrate, f.framerate = bitrate, framerate
	return nil
}

func (f *fakeEncoderDevice) Flush() error {
	f.mu.Lock()
	f.flushes++
	f.flushQueued = true
	var fire []func()
	if !f.hold {
		fire = f.drainLocked()
	}
	f.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
	return nil
}

func (f *fakeEncoderDevice) Destroy() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
}

func (f *fakeEncoderDevice) rates() (uint32, uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bitrate, f.framerate
}

// recordingEncoderClient keeps every callback and the payload of each
// filled buffer.
type recordingEncoderClient struct {
	mu       sync.Mutex
	events   []string
	payloads map[int32][]byte
	metas    []BitstreamBufferMetadata
	errs     []AcceleratorError
	buffers  map[int32][]byte
}

func newRecordingEncoderClient() *recordingEncoderClient {
	return &recordingEncoderClient{payloads: map[int32][]byte{}, buffers: map[int32][]byte{}}
}

func (c *recordingEncoderClient) RequireBitstreamBuffers(inputCount int, inputCodedSize Size, outputBufferSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("require %d %s %d", inputCount, inputCodedSize, outputBufferSize))
}

func (c *recordingEncoderClient) BitstreamBufferReady(id int32, m BitstreamBufferMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("ready %d", id))
	c.metas = append(c.metas, m)
	c.payloads[id] = slices.Clone(c.buffers[id][:m.PayloadSize])
}

func (c *recordingEncoderClient) NotifyError(err AcceleratorError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("error %v", err))
	c.errs = append(c.errs, err)
}

func (c *recordingEncoderClient) flushDone(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, fmt.Sprintf("flush %v", ok))
}

func (c *recordingEncoderClient) snapshot() ([]string, []BitstreamBufferMetadata, []AcceleratorError) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.events), slices.Clone(c.metas), slices.Clone(c.errs)
}

func (c *recordingEncoderClient) payload(id int32) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads[id]
}

type encoderHarness struct {
	t      *testing.T
	client *TaskRunner
	device *fakeEncoderDevice
	vea    *VideoEncodeAccelerator
	rec    *recordingEncoderClient
	size   Size
}

func newEncoderHarness(t *testing.T, configure func(*EncoderConfig, *fakeEncoderDevice)) *encoderHarness {
	t.Helper()
	h := &encoderHarness{t: t, device: newFakeEncoderDevice(), rec: newRecordingEncoderClient()}
	h.client = NewTaskRunner("client", newManualClock(), testLoggerFactory())
	h.vea = NewVideoEncodeAccelerator(h.device, h.client, testLoggerFactory())

	cfg := DefaultEncoderConfig(H264ProfileMain, Size{Width: 64, Height: 48})
	if configure != nil {
		configure(&cfg, h.device)
	}
	h.size = cfg.InputVisibleSize
	if err := h.vea.Initialize(cfg, h.rec); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() {
		h.vea.Destroy()
		h.client.Stop()
	})
	return h
}

func (h *encoderHarness) settle() {
	h.t.Helper()
	runners := []*TaskRunner{h.client, h.vea.encodeRunner}
	if p, ok := h.vea.processor.(*SoftwareImageProcessor); ok {
		runners = append(runners, p.runner)
	}
	settle(h.t, runners...)
}

func (h *encoderHarness) giveBuffers(ids ...int32) {
	for _, id := range ids {
		buf := make([]byte, 256)
		h.rec.mu.Lock()
		h.rec.buffers[id] = buf
		h.rec.mu.Unlock()
		h.vea.UseOutputBitstreamBuffer(BitstreamBuffer{ID: id, Data: buf})
	}
}

func (h *encoderHarness) encode(n int, format PixelFormat) {
	for i := 0; i < n; i++ {
		f := NewVideoFrame(format, h.size)
		f.Timestamp = time.Duration(i) * 33 * time.Millisecond
		h.vea.Encode(f, false)
	}
}

func countPrefix(events []string, prefix string) int {
	n := 0
	for _, e := range events {
		if len(e) >= len(prefix) && e[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}

func TestEncoderDeliversInOrder(t *testing.T) {
	h := newEncoderHarness(t, nil)
	h.settle()

	events, _, _ := h.rec.snapshot()
	if diff := cmp.Diff([]string{"require 3 64x48 256"}, events); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}

	h.giveBuffers(1, 2)
	h.encode(3, PixelFormatI420)
	h.settle()
	if _, metas, _ := h.rec.snapshot(); len(metas) != 2 {
		t.Fatalf("ready buffers = %d before the third buffer, want 2", len(metas))
	}

	h.giveBuffers(3)
	h.settle()
	events, metas, errs := h.rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("errors %v", errs)
	}
	want := []BitstreamBufferMetadata{
		{PayloadSize: len(testSPS) + len(testPPS) + len(testIDR), KeyFrame: true},
		{PayloadSize: len(testSlice), Timestamp: 33 * time.Millisecond},
		{PayloadSize: len(testSlice), Timestamp: 66 * time.Millisecond},
	}
	if diff := cmp.Diff(want, metas); diff != "" {
		t.Errorf("metadata (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"ready 1", "ready 2", "ready 3"}, events[1:]); diff != "" {
		t.Errorf("buffer order (-want +got):\n%s", diff)
	}
	if !bytes.Equal(h.rec.payload(1), concat(testSPS, testPPS, testIDR)) {
		t.Errorf("first payload = %x", h.rec.payload(1))
	}
	if s := h.vea.State(); s != EncoderStateEncoding {
		t.Errorf("state = %s, want encoding", s)
	}
}

func TestEncoderConvertsThroughImageProcessor(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.cc.InputPixelFormat = PixelFormatNV12
	})
	if h.vea.processor == nil {
		t.Fatal("no image processor for I420 -> NV12")
	}
	h.giveBuffers(1, 2, 3, 4, 5)
	h.encode(5, PixelFormatI420)
	h.settle()

	_, metas, errs := h.rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("errors %v", errs)
	}
	if len(metas) != 5 {
		t.Fatalf("ready buffers = %d, want 5", len(metas))
	}
	h.device.mu.Lock()
	formats := slices.Clone(h.device.formats)
	stamps := slices.Clone(h.device.timestamps)
	h.device.mu.Unlock()
	for i, f := range formats {
		if f != PixelFormatNV12 {
			t.Errorf("frame %d reached the device as %s", i, f)
		}
	}
	var want []time.Duration
	for i := 0; i < 5; i++ {
		want = append(want, time.Duration(i)*33*time.Millisecond)
	}
	if diff := cmp.Diff(want, stamps); diff != "" {
		t.Errorf("device timestamps (-want +got):\n%s", diff)
	}
}

func TestEncoderInjectsParameterSets(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.cc.ShouldInjectSPSAndPPS = true
	})
	h.giveBuffers(1, 2, 3)
	f := NewVideoFrame(PixelFormatI420, h.size)
	h.vea.Encode(f, false)
	h.vea.Encode(NewVideoFrame(PixelFormatI420, h.size), false)
	h.vea.Encode(NewVideoFrame(PixelFormatI420, h.size), true)
	h.settle()

	if got := h.rec.payload(2); !bytes.Equal(got, testSlice) {
		t.Errorf("delta payload = %x", got)
	}
	if got, want := h.rec.payload(3), concat(testSPS, testPPS, testIDR); !bytes.Equal(got, want) {
		t.Errorf("forced key frame payload = %x, want %x", got, want)
	}
}

func TestEncoderFlush(t *testing.T) {
	h := newEncoderHarness(t, nil)
	h.giveBuffers(1, 2)
	h.encode(3, PixelFormatI420)
	h.vea.Flush(h.rec.flushDone)
	h.settle()

	events, _, _ := h.rec.snapshot()
	if countPrefix(events, "flush") != 0 {
		t.Fatalf("flush completed with output still queued: %v", events)
	}
	if s := h.vea.State(); s != EncoderStateFlushing {
		t.Errorf("state = %s, want flushing", s)
	}

	h.giveBuffers(3)
	h.settle()
	events, _, _ = h.rec.snapshot()
	if diff := cmp.Diff([]string{"ready 3", "flush true"}, events[len(events)-2:]); diff != "" {
		t.Errorf("tail (-want +got):\n%s", diff)
	}
	if s := h.vea.State(); s != EncoderStateEncoding {
		t.Errorf("state = %s after flush, want encoding", s)
	}
	h.device.mu.Lock()
	flushes := h.device.flushes
	h.device.mu.Unlock()
	if flushes != 1 {
		t.Errorf("device flushes = %d, want 1", flushes)
	}
}

func TestEncoderFlushWaitsForImageProcessor(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.cc.InputPixelFormat = PixelFormatNV12
	})
	h.giveBuffers(1, 2, 3, 4, 5, 6)
	h.encode(6, PixelFormatI420)
	h.vea.Flush(h.rec.flushDone)
	h.settle()

	events, metas, errs := h.rec.snapshot()
	if len(errs) != 0 {
		t.Fatalf("errors %v", errs)
	}
	if len(metas) != 6 {
		t.Errorf("ready buffers = %d, want 6", len(metas))
	}
	if events[len(events)-1] != "flush true" {
		t.Errorf("last event = %q, want flush true", events[len(events)-1])
	}
}

func TestEncoderNestedFlush(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.holdFlush = true
	})
	h.giveBuffers(1)
	h.encode(1, PixelFormatI420)
	h.vea.Flush(h.rec.flushDone)
	h.settle()
	h.vea.Flush(h.rec.flushDone)
	h.settle()

	events, _, errs := h.rec.snapshot()
	if diff := cmp.Diff([]AcceleratorError{ErrIllegalState}, errs); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
	// Both the rejected flush and the one in flight fail.
	if got := countPrefix(events, "flush false"); got != 2 {
		t.Errorf("failed flushes = %d in %v, want 2", got, events)
	}
	if s := h.vea.State(); s != EncoderStateError {
		t.Errorf("state = %s, want error", s)
	}
}

func TestEncoderFlushFailure(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.holdFlush = true
	})
	h.giveBuffers(1)
	h.encode(1, PixelFormatI420)
	h.vea.Flush(h.rec.flushDone)
	h.settle()
	h.device.finishFlush(false)
	h.settle()

	events, _, errs := h.rec.snapshot()
	if len(errs) != 0 {
		t.Errorf("errors %v", errs)
	}
	if events[len(events)-1] != "flush false" {
		t.Errorf("last event = %q", events[len(events)-1])
	}
	if s := h.vea.State(); s != EncoderStateEncoding {
		t.Errorf("state = %s, want encoding", s)
	}
}

func TestEncoderParameterChange(t *testing.T) {
	h := newEncoderHarness(t, nil)

	h.vea.RequestEncodingParametersChange(1<<32, 30)
	h.vea.RequestEncodingParametersChange(1_000_000, 0)
	h.settle()
	_, _, errs := h.rec.snapshot()
	if diff := cmp.Diff([]AcceleratorError{ErrInvalidArgument, ErrInvalidArgument}, errs); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
	if br, fr := h.vea.Rates(); br != 2_000_000 || fr != 30 {
		t.Errorf("rates = %d/%d after rejected change", br, fr)
	}

	h.vea.RequestEncodingParametersChange(500_000, 15)
	h.settle()
	if br, fr := h.device.rates(); br != 500_000 || fr != 15 {
		t.Errorf("device rates = %d/%d, want 500000/15", br, fr)
	}
	if s := h.vea.State(); s == EncoderStateError {
		t.Fatal("rejected rates left the encoder in error")
	}

	h.device.mu.Lock()
	h.device.rateErr = errors.New("ioctl failed")
	h.device.mu.Unlock()
	h.vea.RequestEncodingParametersChange(800_000, 15)
	h.settle()
	if br, _ := h.vea.Rates(); br != 500_000 {
		t.Errorf("bitrate = %d after a failed change, want 500000", br)
	}
	if s := h.vea.State(); s != EncoderStateError {
		t.Errorf("state = %s, want error", s)
	}
}

func TestEncoderLevelSelection(t *testing.T) {
	tests := []struct {
		name      string
		size      Size
		level     uint8
		bitrate   uint32
		wantLevel uint8
		wantErr   bool
	}{
		{name: "default fits", size: Size{Width: 1280, Height: 720}, bitrate: 4_000_000, wantLevel: H264Level4},
		{name: "requested fits", size: Size{Width: 640, Height: 480}, level: H264Level31, bitrate: 1_000_000, wantLevel: H264Level31},
		{name: "raised", size: Size{Width: 1920, Height: 1080}, level: H264Level3, bitrate: 4_000_000, wantLevel: H264Level4},
		{name: "bitrate out of range", size: Size{Width: 1920, Height: 1080}, bitrate: 4_000_000_000, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewTaskRunner("client", newManualClock(), testLoggerFactory())
			defer client.Stop()
			device := newFakeEncoderDevice()
			vea := NewVideoEncodeAccelerator(device, client, testLoggerFactory())
			defer vea.Destroy()

			cfg := DefaultEncoderConfig(H264ProfileMain, tt.size)
			cfg.H264Level = tt.level
			cfg.Bitrate = tt.bitrate
			err := vea.Initialize(cfg, newRecordingEncoderClient())
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgument) {
					t.Fatalf("Initialize = %v, want invalid argument", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got := vea.Level(); got != tt.wantLevel {
				t.Errorf("level = %d, want %d", got, tt.wantLevel)
			}
			if device.cfg.H264Level != tt.wantLevel {
				t.Errorf("device level = %d, want %d", device.cfg.H264Level, tt.wantLevel)
			}
		})
	}
}

func TestEncoderInitializeRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  EncoderConfig
		want error
	}{
		{name: "unsupported profile", cfg: DefaultEncoderConfig(VP9Profile0, Size{Width: 64, Height: 48}), want: ErrProfileNotSupported},
		{name: "too large", cfg: DefaultEncoderConfig(VP8ProfileAny, Size{Width: 3840, Height: 2160}), want: ErrInvalidArgument},
		{name: "empty size", cfg: DefaultEncoderConfig(VP8ProfileAny, Size{}), want: ErrInvalidArgument},
		{name: "no conversion", cfg: EncoderConfig{
			Profile: VP8ProfileAny, InputFormat: PixelFormatUnknown,
			InputVisibleSize: Size{Width: 64, Height: 48}, Bitrate: 1, Framerate: 1,
		}, want: ErrUnsupportedConversion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewTaskRunner("client", newManualClock(), testLoggerFactory())
			defer client.Stop()
			vea := NewVideoEncodeAccelerator(newFakeEncoderDevice(), client, testLoggerFactory())
			defer vea.Destroy()
			if err := vea.Initialize(tt.cfg, newRecordingEncoderClient()); !errors.Is(err, tt.want) {
				t.Errorf("Initialize = %v, want %v", err, tt.want)
			}
		})
	}

	client := NewTaskRunner("client", newManualClock(), testLoggerFactory())
	defer client.Stop()
	vea := NewVideoEncodeAccelerator(newFakeEncoderDevice(), client, testLoggerFactory())
	defer vea.Destroy()
	cfg := DefaultEncoderConfig(VP8ProfileAny, Size{Width: 64, Height: 48})
	if err := vea.Initialize(cfg, newRecordingEncoderClient()); err != nil {
		t.Fatal(err)
	}
	if err := vea.Initialize(cfg, newRecordingEncoderClient()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Initialize = %v", err)
	}
}

func TestEncoderBitstreamBufferValidation(t *testing.T) {
	h := newEncoderHarness(t, nil)
	h.vea.UseOutputBitstreamBuffer(BitstreamBuffer{ID: -1, Data: make([]byte, 256)})
	h.settle()
	if s := h.vea.State(); s == EncoderStateError {
		t.Fatal("reserved id is not fatal")
	}

	h.vea.UseOutputBitstreamBuffer(BitstreamBuffer{ID: 1, Data: make([]byte, 16)})
	h.settle()
	_, _, errs := h.rec.snapshot()
	if diff := cmp.Diff([]AcceleratorError{ErrInvalidArgument, ErrInvalidArgument}, errs); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
	if s := h.vea.State(); s != EncoderStateError {
		t.Errorf("state = %s, want error", s)
	}

	// Nothing more is reported once in error.
	h.vea.Flush(h.rec.flushDone)
	h.encode(1, PixelFormatI420)
	h.settle()
	events, _, errs := h.rec.snapshot()
	if len(errs) != 2 {
		t.Errorf("errors after entering error state: %v", errs)
	}
	if events[len(events)-1] != "flush false" {
		t.Errorf("flush in error state: %v", events)
	}
}

func TestEncoderDeviceEncodeError(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.encodeErr = fmt.Errorf("%w: queue failed", ErrEncoder)
	})
	h.encode(2, PixelFormatI420)
	h.settle()
	_, _, errs := h.rec.snapshot()
	if diff := cmp.Diff([]AcceleratorError{ErrEncoder}, errs); diff != "" {
		t.Errorf("errors (-want +got):\n%s", diff)
	}
}

func TestEncoderRetriesWhenDeviceIsFull(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.hold = true
	})
	h.giveBuffers(1, 2, 3, 4, 5)
	h.encode(5, PixelFormatI420)
	h.settle()

	h.device.mu.Lock()
	queued := len(h.device.held)
	h.device.mu.Unlock()
	if queued != 3 {
		t.Errorf("frames at device = %d, want the 3 input buffers", queued)
	}

	h.device.release()
	h.settle()
	h.device.release()
	h.settle()
	if _, metas, _ := h.rec.snapshot(); len(metas) != 5 {
		t.Errorf("ready buffers = %d, want 5", len(metas))
	}
}

func TestEncoderDestroy(t *testing.T) {
	h := newEncoderHarness(t, func(cfg *EncoderConfig, d *fakeEncoderDevice) {
		d.hold = true
	})
	h.giveBuffers(1)
	h.encode(2, PixelFormatI420)
	h.settle()
	h.vea.Destroy()
	settle(t, h.client)

	events, _, _ := h.rec.snapshot()
	before := len(events)
	h.device.release()
	h.vea.Encode(NewVideoFrame(PixelFormatI420, h.size), false)
	settle(t, h.client)

	events, _, _ = h.rec.snapshot()
	if len(events) != before {
		t.Errorf("callbacks after Destroy: %v", events[before:])
	}
	h.device.mu.Lock()
	destroyed := h.device.destroyed
	h.device.mu.Unlock()
	if !destroyed {
		t.Error("device not destroyed")
	}
}
