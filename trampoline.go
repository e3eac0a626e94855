package kernelschedule

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// This file is the reference trampoline: the Go-portable stand-in for
// the architecture-specific register-save/restore stub and the timer
// ISR entry stub, both explicitly out of scope for the core (§1). A
// real trampoline suspends and resumes machine context; Go offers no
// portable way to force-pause an arbitrary goroutine, so this one
// parks and wakes one goroutine per thread on a per-TCB channel
// instead. See SPEC_FULL.md §0 for the full rationale, including the
// one real divergence from true hardware preemption: a tick() that
// decides to switch away from the running thread cannot suspend that
// thread's goroutine out from under it the way a real ISR suspends
// machine context. It can only flag the thread and let it park itself
// at its next cooperative checkpoint (Yield, Sleep, a blocking Lock, or
// an explicit PreemptionPoint call). Tasks driven by this trampoline
// that want prompt round-robin fairness should call one of those
// periodically; the kernel's own scheduling logic (scheduler.go) has no
// such caveat and is exercised directly by tests with no trampoline at
// all.

// wake signals thread idx's resume channel without blocking if it is
// already pending.
func (k *Kernel) wake(idx int) {
	select {
	case k.threads[idx].resume <- struct{}{}:
	default:
	}
}

// park blocks the calling goroutine until thread idx is dispatched.
func (k *Kernel) park(idx int) {
	<-k.threads[idx].resume
}

// dispatchSwitch runs a full ContextSwitch from the perspective of the
// thread at idx's own goroutine (Yield, Sleep, and a contended Lock all
// go through this): it makes a fresh scheduling decision and, if the
// decision moves control elsewhere, wakes the new thread and parks the
// calling goroutine until it is dispatched again.
func (k *Kernel) dispatchSwitch(idx int) {
	old := StackPointer(k.threads[idx].stackPointer)
	k.ContextSwitch(old)
	selected := k.CurrentIndex()
	if selected != idx {
		k.wake(selected)
		k.park(idx)
	}
}

// Yield triggers the scheduler synchronously. From the caller's
// perspective it is a normal function call that may return arbitrarily
// later, once this thread is dispatched again (§4.4).
func (k *Kernel) Yield() {
	k.dispatchSwitch(k.CurrentIndex())
}

// PreemptionPoint honors a pending tick-driven preemption request
// without making a fresh scheduling decision — the decision was already
// made by the tick call that set the flag. A task loop that wants to
// cooperate with the reference trampoline's timer-driven preemption
// should call this (or Yield) periodically.
func (k *Kernel) PreemptionPoint() {
	idx := k.CurrentIndex()
	if k.threads[idx].preemptRequested.CAS(true, false) {
		k.park(idx)
	}
}

// Sleep blocks the current thread until at least ms milliseconds from
// now have elapsed (§4.4): it must never be called from an interrupt
// context.
func (k *Kernel) Sleep(ms uint32) {
	idx := k.CurrentIndex()

	k.critical.Lock()
	now := k.sysTicks.Load()
	k.threads[idx].wakeTime.Store(now + ms)
	k.threads[idx].setState(Sleep)
	k.critical.Unlock()

	k.Yield()
}

// IsCorrupted reports whether the current thread's stack sentinel has
// been overwritten. The bootstrap task (no managed stack) always
// returns false.
func (k *Kernel) IsCorrupted() bool {
	return k.threads[k.CurrentIndex()].corrupted()
}

// ConsumeStack simulates the current thread consuming n more bytes of
// its declared stack, as unbounded recursion would on real hardware.
// Go's own goroutine stack is never touched by task code in this
// module (task functions run on the real Go stack, not the supplied
// buffer), so this is the mechanism by which a task can exercise
// overflow detection (scenario 5, B3) without relying on a call depth
// deep enough to fault a real stack.
func (k *Kernel) ConsumeStack(n int) {
	idx := k.CurrentIndex()
	t := k.threads[idx]
	if t.stackBuf == nil || n <= 0 {
		return
	}
	end := t.stackPointer
	start := end - n
	if start < 0 {
		start = 0
	}
	for i := start; i < end; i++ {
		t.stackBuf[i] = 0
	}
	t.stackPointer = start
}

// NewThread scans slots 1..N-1 for the first UNUSED slot, builds its
// synthetic frame in stackBuf, and returns a handle — or ErrNoFreeThread
// if the table is full, or ErrStackTooSmall if the buffer can't hold
// the frame. Slot 0 is reserved for the bootstrap task.
func (k *Kernel) NewThread(entry EntryFunc, stackBuf []byte) (*ThreadHandle, error) {
	if !k.booted {
		return nil, ErrNotBooted
	}

	k.critical.Lock()

	idx := -1
	for i := 1; i < k.maxThreads; i++ {
		if k.threads[i].getState() == Unused {
			idx = i
			break
		}
	}
	if idx == -1 {
		k.critical.Unlock()
		k.logger.Warn("no free thread slot")
		return nil, ErrNoFreeThread
	}

	sp, err := buildFrame(stackBuf)
	if err != nil {
		k.critical.Unlock()
		return nil, err
	}

	t := k.threads[idx]
	t.stackBuf = stackBuf
	t.stackPointer = int(sp)
	t.entry = entry
	t.setState(Ready)

	k.critical.Unlock()

	go k.runTask(idx)

	return &ThreadHandle{index: idx}, nil
}

// ThreadHandle is a non-owning reference to a created thread.
type ThreadHandle struct {
	index int
}

// Index returns the thread's slot index.
func (h *ThreadHandle) Index() int { return h.index }

// runTask is the goroutine body spawned by NewThread: it waits to be
// dispatched for the first time, runs the task's entry function, and
// retires the slot when it returns.
func (k *Kernel) runTask(idx int) {
	k.park(idx)
	entry := k.threads[idx].entry
	entry()
	k.exitThread(idx)
}

// exitThread is the internal, non-user-callable exit trampoline (§4.4):
// it retires the slot to UNUSED and triggers a context switch. Unlike
// the AVR original, it does not need to guarantee it never returns by
// spinning forever afterward — letting the goroutine function return is
// safe and idiomatic in Go, and frees the slot for reuse without a
// goroutine leak.
func (k *Kernel) exitThread(idx int) {
	k.critical.Lock()
	k.threads[idx].setState(Unused)
	k.threads[idx].stackBuf = nil
	old := StackPointer(k.threads[idx].stackPointer)
	k.contextSwitchLocked(old)
	selected := int(k.currentIndex.Load())
	k.critical.Unlock()

	if selected != idx {
		k.wake(selected)
	}
}

// tick is the timer-ISR-equivalent entry point: it makes a fresh
// scheduling decision on behalf of whichever thread is currently
// running and, if that decision moves control elsewhere, wakes the new
// thread and flags the old one to park at its next cooperative
// checkpoint (see the file-level comment for why it cannot suspend the
// old thread's goroutine directly).
func (k *Kernel) tick() {
	idx := k.CurrentIndex()
	old := StackPointer(k.threads[idx].stackPointer)

	k.ContextSwitch(old)
	selected := k.CurrentIndex()

	if selected != idx {
		k.threads[idx].preemptRequested.Store(true)
		k.wake(selected)
	}
}

// Run drives tick at the kernel's configured time slice until ctx is
// done.
func (k *Kernel) Run(ctx context.Context) {
	ticker := k.clk.Ticker(time.Duration(k.timeSliceMS) * time.Millisecond)
	defer ticker.Stop()

	k.logger.Info("trampoline started", zap.Uint32("time_slice_ms", k.timeSliceMS))

	for {
		select {
		case <-ctx.Done():
			k.logger.Info("trampoline stopped")
			return
		case <-ticker.C:
			k.tick()
		}
	}
}
