package kernelschedule

import (
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	defaultMaxThreads  = 4
	defaultTimeSliceMS = 10
)

// Kernel holds the fixed-size thread table and the scheduler's global
// state (§3 "Kernel globals"). Slot 0 is always the bootstrap task: the
// goroutine that called Boot and continues to run the caller's own
// program.
type Kernel struct {
	threads     []*tcb
	maxThreads  int
	timeSliceMS uint32

	currentIndex atomic.Int32
	sysTicks     atomic.Uint32

	critical sync.Mutex

	logger             *zap.Logger
	clk                clock.Clock
	eagerOverflowCheck bool

	booted bool
}

// Option configures a Kernel at construction time.
type Option func(*Kernel)

// WithMaxThreads sets the fixed thread-table size (MAX_THREADS), design
// default 3-8; slot 0 is always reserved for the bootstrap task.
func WithMaxThreads(n int) Option {
	return func(k *Kernel) {
		if n > 0 {
			k.maxThreads = n
		}
	}
}

// WithTimeSliceMS sets the scheduler's time-slice period (TIME_SLICE_MS),
// design target ~10-20ms.
func WithTimeSliceMS(ms uint32) Option {
	return func(k *Kernel) {
		if ms > 0 {
			k.timeSliceMS = ms
		}
	}
}

// WithLogger attaches structured diagnostics. The default is a no-op
// logger, so the kernel is silent and alloc-free unless a caller opts in.
func WithLogger(logger *zap.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// WithClock injects the clock used by the reference trampoline's ticker.
// Tests use a mock clock (github.com/benbjohnson/clock) to drive
// sys_ticks deterministically instead of sleeping on a real timer.
func WithClock(c clock.Clock) Option {
	return func(k *Kernel) {
		if c != nil {
			k.clk = c
		}
	}
}

// WithEagerOverflowCheck enables checking every managed thread's stack
// sentinel on every ContextSwitch pass, forcing a corrupted thread to
// Unused immediately rather than waiting for an explicit IsCorrupted
// call. Disabled by default, matching the original source's lazy-only
// behavior (§4.2/§7 note this as an optional enrichment).
func WithEagerOverflowCheck(enabled bool) Option {
	return func(k *Kernel) { k.eagerOverflowCheck = enabled }
}

// New allocates a kernel with the given options. It does not start any
// task: call Boot to bring up the bootstrap slot and arm the scheduler.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		maxThreads:  defaultMaxThreads,
		timeSliceMS: defaultTimeSliceMS,
		logger:      zap.NewNop(),
		clk:         clock.New(),
	}
	for _, opt := range opts {
		opt(k)
	}

	k.threads = make([]*tcb, k.maxThreads)
	for i := range k.threads {
		k.threads[i] = newTCB()
	}
	return k
}

// Boot brings up the kernel: slot 0 becomes the RUNNING bootstrap task
// (no kernel-managed stack bounds), every other slot is UNUSED, and
// sys_ticks/current_index are zeroed. It does not itself start the
// reference trampoline's ticker — call Run (see trampoline.go) to
// actually drive preemption.
func (k *Kernel) Boot() {
	k.threads[0].setState(Running)
	k.threads[0].stackBuf = nil
	for i := 1; i < k.maxThreads; i++ {
		k.threads[i].setState(Unused)
	}
	k.sysTicks.Store(0)
	k.currentIndex.Store(0)
	k.booted = true

	k.logger.Info("kernel booted",
		zap.Int("max_threads", k.maxThreads),
		zap.Uint32("time_slice_ms", k.timeSliceMS),
	)
}

// Ticks returns sys_ticks, the monotonic millisecond tick counter. It
// wraps at 2^32ms (~49 days); see SPEC_FULL.md / DESIGN.md for why this
// module does not adopt modular comparison for wake deadlines.
func (k *Kernel) Ticks() uint32 {
	return k.sysTicks.Load()
}

// CurrentIndex returns the index of the currently RUNNING thread.
func (k *Kernel) CurrentIndex() int {
	return int(k.currentIndex.Load())
}

// MaxThreads returns the fixed thread-table size.
func (k *Kernel) MaxThreads() int {
	return k.maxThreads
}

// ActiveThreads counts non-UNUSED thread slots, inside a critical
// section as the external-interfaces table requires.
func (k *Kernel) ActiveThreads() int {
	k.critical.Lock()
	defer k.critical.Unlock()

	n := 0
	for _, t := range k.threads {
		if t.getState() != Unused {
			n++
		}
	}
	return n
}

// EnterCritical disables preemption: it is not reentrant-counted — a
// task that is already inside a critical section must not call it
// again without restoring the prior state itself (§4.1).
func (k *Kernel) EnterCritical() {
	k.critical.Lock()
}

// ExitCritical re-enables preemption. Any timer tick that arrived while
// the critical section was held is latched and takes effect as soon as
// the underlying lock is released.
func (k *Kernel) ExitCritical() {
	k.critical.Unlock()
}

// CriticalGuard is an RAII-style scoped critical section: acquired by
// EnterGuard, released by Release, with release guaranteed on every
// exit path when used with defer.
type CriticalGuard struct {
	k *Kernel
}

// EnterGuard acquires a scoped critical section.
func (k *Kernel) EnterGuard() *CriticalGuard {
	k.EnterCritical()
	return &CriticalGuard{k: k}
}

// Release leaves the critical section. Calling it more than once is a
// no-op.
func (g *CriticalGuard) Release() {
	if g.k == nil {
		return
	}
	g.k.ExitCritical()
	g.k = nil
}
