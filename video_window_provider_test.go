package media

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type recordingWindowClient struct {
	mu     sync.Mutex
	events []string
}

func (c *recordingWindowClient) OnVideoWindowCreated(info VideoWindowInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "created "+info.NativeID)
}

func (c *recordingWindowClient) OnVideoWindowDestroyed(id WindowID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, "destroyed")
}

func (c *recordingWindowClient) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...)
}

type windowHarness struct {
	t     *testing.T
	clock *manualClock
	comp  *recordingCompositor
	pc    *PlatformContext
}

func newWindowHarness(t *testing.T) *windowHarness {
	t.Helper()
	h := &windowHarness{t: t, clock: newManualClock(), comp: newRecordingCompositor(true)}
	cfg := DefaultPlatformConfig()
	cfg.Clock = h.clock
	cfg.LoggerFactory = testLoggerFactory()
	h.pc = NewPlatformContext(cfg, h.comp, nil)
	t.Cleanup(h.pc.Close)
	if err := h.pc.RegisterWidget("w1", 0x10, Rect{Width: 1920, Height: 1080}); err != nil {
		t.Fatalf("RegisterWidget: %v", err)
	}
	h.settle()
	return h
}

func (h *windowHarness) settle() {
	h.t.Helper()
	settle(h.t, h.pc.providerRunner, h.pc.ui)
}

func (h *windowHarness) advance(d time.Duration) {
	h.t.Helper()
	advance(h.t, h.clock, d, h.pc.providerRunner, h.pc.ui)
}

func (h *windowHarness) expect(want ...string) {
	h.t.Helper()
	if diff := cmp.Diff(want, h.comp.take()); diff != "" {
		h.t.Errorf("compositor calls mismatch (-want +got):\n%s", diff)
	}
}

// create makes a window with a 1280x720 natural size and discards the
// export call.
func (h *windowHarness) create(params VideoWindowParams) (WindowID, *recordingWindowClient) {
	h.t.Helper()
	client := &recordingWindowClient{}
	id := h.pc.Provider().CreateVideoWindow(context.Background(), "w1", client, params)
	h.pc.Provider().SetNaturalVideoSize(id, Size{Width: 1280, Height: 720})
	h.settle()
	h.comp.take()
	return id, client
}

func crop720(dst Rect) string {
	return fmt.Sprintf("crop ori=0,0 1280x720 src=0,0 1280x720 dst=%s", dst)
}

func TestVideoWindowProvider_Create(t *testing.T) {
	h := newWindowHarness(t)
	client := &recordingWindowClient{}
	id := h.pc.Provider().CreateVideoWindow(context.Background(), "w1", client, DefaultVideoWindowParams())
	if id == "" {
		t.Fatal("empty window id")
	}
	h.settle()
	h.expect("h1 export video")
	if diff := cmp.Diff([]string{"created native-1"}, client.snapshot()); diff != "" {
		t.Errorf("client events (-want +got):\n%s", diff)
	}
	info, _, ok := h.pc.Provider().Window(id)
	if !ok || info.NativeID != "native-1" {
		t.Errorf("Window(%s) = %+v, %v", id, info, ok)
	}

	other := h.pc.Provider().CreateVideoWindow(context.Background(), "w1", nil, DefaultVideoWindowParams())
	if other == id {
		t.Errorf("window ids collide: %s", id)
	}
}

func TestVideoWindowProvider_RateLimit(t *testing.T) {
	h := newWindowHarness(t)
	id, _ := h.create(DefaultVideoWindowParams())

	var last Rect
	for i := 0; i < 10; i++ {
		last = Rect{X: 10 * i, Y: 100, Width: 640, Height: 360}
		h.pc.Provider().UpdateVideoWindowGeometry(id, Rect{}, last)
		h.advance(5 * time.Millisecond)
	}
	h.expect()

	h.advance(149 * time.Millisecond)
	h.expect()
	h.advance(time.Millisecond)
	h.expect("h1 " + crop720(last))

	_, committed, _ := h.pc.Provider().Window(id)
	if committed.Dst != last {
		t.Errorf("committed dst = %s, want %s", committed.Dst, last)
	}

	// The same geometry again is not a change.
	h.pc.Provider().UpdateVideoWindowGeometry(id, Rect{}, last)
	h.advance(time.Second)
	h.expect()

	// Past the interval a change commits at once.
	next := Rect{X: 400, Y: 100, Width: 640, Height: 360}
	h.pc.Provider().UpdateVideoWindowGeometry(id, Rect{}, next)
	h.settle()
	h.expect("h1 " + crop720(next))
}

func TestVideoWindowProvider_VisibilityFlushesPendingCommit(t *testing.T) {
	h := newWindowHarness(t)
	id, _ := h.create(DefaultVideoWindowParams())
	p := h.pc.Provider()

	dst := Rect{X: 100, Y: 100, Width: 640, Height: 360}
	p.UpdateVideoWindowGeometry(id, Rect{}, dst)
	h.advance(10 * time.Millisecond)
	h.expect()

	p.SetVideoWindowVisibility(id, true)
	h.settle()
	h.expect("h1 "+crop720(dst), "h1 mute=off")

	p.SetVideoWindowVisibility(id, true)
	h.settle()
	h.expect()

	// The flushed commit leaves nothing scheduled.
	h.advance(time.Second)
	h.expect()

	p.SetVideoWindowVisibility(id, false)
	h.settle()
	h.expect("h1 mute=on")
}

func TestVideoWindowProvider_MuteOnMinimize(t *testing.T) {
	h := newWindowHarness(t)
	id, _ := h.create(DefaultVideoWindowParams())
	quiet, _ := h.create(VideoWindowParams{})
	p := h.pc.Provider()

	p.SetVideoWindowVisibility(id, true)
	p.SetVideoWindowVisibility(quiet, true)
	h.settle()
	h.comp.take()

	h.pc.OnWidgetStateChanged("w1", WidgetStateMinimized)
	h.settle()
	h.expect("h1 mute=on")

	// Normal leaves the shown flag alone.
	h.pc.OnWidgetStateChanged("w1", WidgetStateNormal)
	h.settle()
	h.expect()

	h.pc.OnWidgetStateChanged("w1", WidgetStateMaximized)
	h.settle()
	h.expect("h1 mute=off")

	// Restoring does not unmute a window that is not on screen.
	p.SetVideoWindowVisibility(id, false)
	h.pc.OnWidgetStateChanged("w1", WidgetStateMinimized)
	h.pc.OnWidgetStateChanged("w1", WidgetStateFullscreen)
	h.settle()
	h.expect("h1 mute=on")
}

func TestVideoWindowProvider_UnknownWindow(t *testing.T) {
	h := newWindowHarness(t)
	p := h.pc.Provider()
	p.UpdateVideoWindowGeometry("missing", Rect{}, Rect{Width: 10, Height: 10})
	p.SetVideoWindowVisibility("missing", false)
	p.SetVideoWindowProperty("missing", "k", "v")
	p.DestroyVideoWindow("missing")
	h.advance(time.Second)
	h.expect()
}

func TestVideoWindowProvider_UnknownWidget(t *testing.T) {
	h := newWindowHarness(t)
	client := &recordingWindowClient{}
	h.pc.Provider().CreateVideoWindow(context.Background(), "nope", client, DefaultVideoWindowParams())
	h.settle()
	h.expect()
	if diff := cmp.Diff([]string{"destroyed"}, client.snapshot()); diff != "" {
		t.Errorf("client events (-want +got):\n%s", diff)
	}
}

func TestVideoWindowProvider_DisconnectDestroys(t *testing.T) {
	h := newWindowHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	client := &recordingWindowClient{}
	id := h.pc.Provider().CreateVideoWindow(ctx, "w1", client, DefaultVideoWindowParams())
	h.settle()
	h.comp.take()

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for len(client.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.settle()
	h.expect("h1 destroy")
	if diff := cmp.Diff([]string{"created native-1", "destroyed"}, client.snapshot()); diff != "" {
		t.Errorf("client events (-want +got):\n%s", diff)
	}
	if _, _, ok := h.pc.Provider().Window(id); ok {
		t.Error("window still known after disconnect")
	}
}

func TestVideoWindowProvider_DestroyCancelsCommit(t *testing.T) {
	h := newWindowHarness(t)
	id, client := h.create(DefaultVideoWindowParams())
	p := h.pc.Provider()

	p.UpdateVideoWindowGeometry(id, Rect{}, Rect{Width: 640, Height: 360})
	p.DestroyVideoWindow(id)
	h.advance(time.Second)
	h.expect("h1 destroy")
	if diff := cmp.Diff([]string{"created native-1", "destroyed"}, client.snapshot()); diff != "" {
		t.Errorf("client events (-want +got):\n%s", diff)
	}
}

func TestVideoWindowProvider_WidgetClosed(t *testing.T) {
	h := newWindowHarness(t)
	_, a := h.create(DefaultVideoWindowParams())
	_, b := h.create(DefaultVideoWindowParams())

	h.pc.OnWidgetClosed("w1")
	h.settle()
	got := h.comp.take()
	if len(got) != 2 {
		t.Errorf("compositor calls = %v, want two destroys", got)
	}
	for _, c := range []*recordingWindowClient{a, b} {
		if events := c.snapshot(); len(events) != 2 || events[1] != "destroyed" {
			t.Errorf("client events = %v", events)
		}
	}
}

func TestVideoWindowProvider_CodedSizeForOriginal(t *testing.T) {
	h := newWindowHarness(t)
	id, _ := h.create(VideoWindowParams{UseCodedSizeForOriginalRect: true})
	p := h.pc.Provider()

	p.SetCodedVideoSize(id, Size{Width: 1280, Height: 736})
	p.UpdateVideoWindowGeometry(id, Rect{Width: 1280, Height: 720}, Rect{X: 1600, Width: 640, Height: 360})
	h.advance(time.Second)
	h.expect("h1 crop ori=0,0 1280x736 src=0,0 640x720 dst=1600,0 320x360")
}

func TestVideoWindowProvider_Property(t *testing.T) {
	h := newWindowHarness(t)
	id, _ := h.create(DefaultVideoWindowParams())
	h.pc.Provider().SetVideoWindowProperty(id, "zorder", "3")
	h.settle()
	h.expect("h1 zorder=3")
}
