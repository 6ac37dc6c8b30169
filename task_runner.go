package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
)

// Clock abstracts time so delayed tasks can be driven manually in tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the cancel handle returned by Clock.AfterFunc.
type Timer interface {
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// TaskRunner runs closures one at a time, in posting order, on a single
// goroutine. It is the unit of thread affinity for every component: state
// owned by a runner is only touched from tasks posted to it.
type TaskRunner struct {
	name  string
	clock Clock
	log   logging.LeveledLogger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	busy    bool
	stopped bool

	done chan struct{}
}

// NewTaskRunner starts a runner goroutine.
func NewTaskRunner(name string, clock Clock, loggerFactory logging.LoggerFactory) *TaskRunner {
	if clock == nil {
		clock = SystemClock{}
	}
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	r := &TaskRunner{
		name:  name,
		clock: clock,
		log:   loggerFactory.NewLogger(name),
		done:  make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)
	go r.loop()
	return r
}

// Name returns the runner name given at construction.
func (r *TaskRunner) Name() string { return r.name }

// Clock returns the clock used for delayed tasks.
func (r *TaskRunner) Clock() Clock { return r.clock }

// PostTask queues f. It returns false once the runner is stopped.
func (r *TaskRunner) PostTask(f func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.queue = append(r.queue, f)
	r.cond.Broadcast()
	return true
}

// PostDelayedTask queues f after d has elapsed on the runner's clock.
func (r *TaskRunner) PostDelayedTask(d time.Duration, f func()) Timer {
	return r.clock.AfterFunc(d, func() { r.PostTask(f) })
}

// Sync posts f and blocks until it has run. It returns false if the runner
// was stopped before f could run. Must not be called from the runner itself.
func (r *TaskRunner) Sync(f func()) bool {
	ran := make(chan struct{})
	if !r.PostTask(func() {
		f()
		close(ran)
	}) {
		return false
	}
	select {
	case <-ran:
		return true
	case <-r.done:
		select {
		case <-ran:
			return true
		default:
			return false
		}
	}
}

// WaitIdle blocks until the queue is empty and no task is running.
func (r *TaskRunner) WaitIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for (len(r.queue) > 0 || r.busy) && !r.stopped {
		r.cond.Wait()
	}
}

// Idle reports whether the runner currently has nothing to do.
func (r *TaskRunner) Idle() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) == 0 && !r.busy
}

// Stop refuses new tasks, runs the ones already queued and joins the
// goroutine. Calling Stop from a task on the same runner deadlocks.
func (r *TaskRunner) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.stopped = true
	r.cond.Broadcast()
	r.mu.Unlock()
	<-r.done
}

func (r *TaskRunner) loop() {
	defer close(r.done)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.busy = false
			r.cond.Broadcast()
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.stopped {
			r.busy = false
			r.cond.Broadcast()
			r.mu.Unlock()
			return
		}
		task := r.queue[0]
		r.queue[0] = nil
		r.queue = r.queue[1:]
		r.busy = true
		r.mu.Unlock()

		r.run(task)
	}
}

func (r *TaskRunner) run(task func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Errorf("task panicked on %s: %v", r.name, rec)
		}
	}()
	task()
}

// weakFactory stands in for weak-pointer invalidation: closures bound to
// a generation become no-ops once the factory is invalidated.
type weakFactory struct {
	gen atomic.Uint64
}

// Bind wraps f so it only runs while the current generation is live.
func (w *weakFactory) Bind(f func()) func() {
	g := w.gen.Load()
	return func() {
		if w.gen.Load() == g {
			f()
		}
	}
}

// Generation returns the current generation.
func (w *weakFactory) Generation() uint64 { return w.gen.Load() }

// Token pins the current generation. Closures bound through a token
// become no-ops once the factory is invalidated, even if they are bound
// after the invalidation.
func (w *weakFactory) Token() weakToken { return weakToken{w: w, gen: w.gen.Load()} }

// Invalidate cancels every closure bound so far.
func (w *weakFactory) Invalidate() { w.gen.Add(1) }

type weakToken struct {
	w   *weakFactory
	gen uint64
}

// Valid reports whether the pinned generation is still current.
func (t weakToken) Valid() bool { return t.w.gen.Load() == t.gen }

// Bind wraps f so it only runs while the token is valid.
func (t weakToken) Bind(f func()) func() {
	return func() {
		if t.Valid() {
			f()
		}
	}
}

// cancelableTask is a single pending delayed task that can be re-armed or
// cancelled from its owning runner.
type cancelableTask struct {
	timer Timer
	w     weakFactory
}

// Schedule cancels any pending run and arms f after d.
func (c *cancelableTask) Schedule(r *TaskRunner, d time.Duration, f func()) {
	c.Cancel()
	bound := c.w.Bind(func() {
		c.timer = nil
		f()
	})
	c.timer = r.PostDelayedTask(d, bound)
}

// Pending reports whether a run is armed.
func (c *cancelableTask) Pending() bool { return c.timer != nil }

// Cancel drops the pending run, if any.
func (c *cancelableTask) Cancel() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.w.Invalidate()
}
