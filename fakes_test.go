package media

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/pion/logging"
)

func testLoggerFactory() logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.DefaultLogLevel = logging.LogLevelWarn
	return f
}

// manualClock fires timers only when the test advances it.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	f       func()
	stopped bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Unix(1700000000, 0)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.stopped
	t.stopped = true
	return wasPending
}

// Advance moves time forward by d, firing due timers in deadline order.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()
	for {
		c.mu.Lock()
		sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].at.Before(c.timers[j].at) })
		var next *manualTimer
		for i, t := range c.timers {
			if t.stopped {
				continue
			}
			if !t.at.After(target) {
				next = t
				c.timers = append(c.timers[:i], c.timers[i+1:]...)
			}
			break
		}
		if next == nil {
			c.now = target
			c.timers = compactTimers(c.timers)
			c.mu.Unlock()
			return
		}
		next.stopped = true
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.mu.Unlock()
		next.f()
	}
}

func compactTimers(ts []*manualTimer) []*manualTimer {
	out := ts[:0]
	for _, t := range ts {
		if !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// settle waits until every runner is idle at the same time.
func settle(t testing.TB, runners ...*TaskRunner) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, r := range runners {
			r.WaitIdle()
		}
		idle := true
		for _, r := range runners {
			if !r.Idle() {
				idle = false
				break
			}
		}
		if idle {
			// A task may have been posted across runners after the first
			// pass; a second clean pass confirms quiescence.
			time.Sleep(time.Millisecond)
			again := true
			for _, r := range runners {
				if !r.Idle() {
					again = false
				}
			}
			if again {
				return
			}
		}
	}
	t.Fatal("runners did not settle")
}

// advance moves the clock forward and lets the posted work run.
func advance(t testing.TB, c *manualClock, d time.Duration, runners ...*TaskRunner) {
	t.Helper()
	settle(t, runners...)
	c.Advance(d)
	settle(t, runners...)
}

// fakeEGL records image lifecycle calls.
type fakeEGL struct {
	mu        sync.Mutex
	next      EGLImage
	created   [][]int32
	destroyed []EGLImage
	bound     map[uint32]EGLImage
	failNext  error
	noImage   bool
	fences    []*fakeFence
}

func newFakeEGL() *fakeEGL {
	return &fakeEGL{next: 0x1000, bound: make(map[uint32]EGLImage)}
}

func (e *fakeEGL) CreateImage(display EGLDisplay, attribs []int32) (EGLImage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.failNext != nil {
		err := e.failNext
		e.failNext = nil
		return EGLNoImage, err
	}
	if e.noImage {
		return EGLNoImage, nil
	}
	e.created = append(e.created, append([]int32(nil), attribs...))
	e.next++
	return e.next, nil
}

func (e *fakeEGL) DestroyImage(display EGLDisplay, image EGLImage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.destroyed = append(e.destroyed, image)
	return nil
}

func (e *fakeEGL) BindTexture(target, texture uint32, image EGLImage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if target != GLTextureExternalOES {
		return errors.New("wrong texture target")
	}
	e.bound[texture] = image
	return nil
}

func (e *fakeEGL) CreateFence(display EGLDisplay) (GLFence, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	f := &fakeFence{}
	e.fences = append(e.fences, f)
	return f, nil
}

func (e *fakeEGL) signalFences() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, f := range e.fences {
		f.signal()
	}
}

type fakeFence struct {
	mu       sync.Mutex
	signaled bool
	closed   bool
}

func (f *fakeFence) signal() {
	f.mu.Lock()
	f.signaled = true
	f.mu.Unlock()
}

func (f *fakeFence) Signaled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signaled
}

func (f *fakeFence) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// recordingCompositor logs compositor calls per exported handle. With
// autoNativeID set, each export is assigned "native-<handle>" right away;
// otherwise the test calls assign.
type recordingCompositor struct {
	mu           sync.Mutex
	autoNativeID bool
	exportErr    error
	next         ExportedHandle
	listeners    map[ExportedHandle]func(string)
	calls        []string
}

func newRecordingCompositor(autoNativeID bool) *recordingCompositor {
	return &recordingCompositor{autoNativeID: autoNativeID, listeners: make(map[ExportedHandle]func(string))}
}

func (c *recordingCompositor) record(h ExportedHandle, format string, args ...any) {
	c.calls = append(c.calls, fmt.Sprintf("h%d ", h)+fmt.Sprintf(format, args...))
}

func (c *recordingCompositor) ExportElement(surface SurfaceHandle, typ ExportType, onNativeID func(string)) (ExportedHandle, error) {
	c.mu.Lock()
	if c.exportErr != nil {
		err := c.exportErr
		c.mu.Unlock()
		return 0, err
	}
	c.next++
	h := c.next
	c.listeners[h] = onNativeID
	c.record(h, "export %s", typ)
	auto := c.autoNativeID
	c.mu.Unlock()
	if auto {
		onNativeID(fmt.Sprintf("native-%d", h))
	}
	return h, nil
}

func (c *recordingCompositor) assign(h ExportedHandle, nativeID string) {
	c.mu.Lock()
	fn := c.listeners[h]
	c.mu.Unlock()
	if fn != nil {
		fn(nativeID)
	}
}

func (c *recordingCompositor) SetExportedWindow(h ExportedHandle, src, dst Rect) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(h, "window src=%s dst=%s", src, dst)
	return nil
}

func (c *recordingCompositor) SetCropRegion(h ExportedHandle, original, src, dst Rect) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(h, "crop ori=%s src=%s dst=%s", original, src, dst)
	return nil
}

func (c *recordingCompositor) SetProperty(h ExportedHandle, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record(h, "%s=%s", key, value)
	return nil
}

func (c *recordingCompositor) DestroyExported(h ExportedHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, h)
	c.record(h, "destroy")
}

// take returns the calls made since the last take.
func (c *recordingCompositor) take() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.calls
	c.calls = nil
	return out
}
