package kernelschedule

import "go.uber.org/zap"

// ContextSwitch is the sole entry point from the architecture-specific
// trampoline (§6 "ISR boundary"): it accepts the outgoing thread's saved
// stack pointer and returns the incoming thread's. It is the only
// kernel symbol ever called from interrupt context.
//
// Given identical thread-table state, ContextSwitch is a pure function
// of that state (§4.3 "Determinism") — it can be called directly,
// without any goroutine or trampoline involved, to exercise the
// scheduler's selection and sleep-sweep logic in isolation.
func (k *Kernel) ContextSwitch(oldSP StackPointer) StackPointer {
	k.critical.Lock()
	defer k.critical.Unlock()
	return k.contextSwitchLocked(oldSP)
}

// contextSwitchLocked implements C4's five steps. Callers must already
// hold k.critical.
func (k *Kernel) contextSwitchLocked(oldSP StackPointer) StackPointer {
	cur := int(k.currentIndex.Load())
	k.threads[cur].stackPointer = int(oldSP)

	k.sysTicks.Add(k.timeSliceMS)
	now := k.sysTicks.Load()

	if k.eagerOverflowCheck {
		k.checkOverflowLocked()
	}

	// Sleep sweep: runs before selection, so a deadline reached at this
	// tick is eligible for dispatch in this same pass.
	for i, t := range k.threads {
		if t.getState() == Sleep && now >= t.wakeTime.Load() {
			t.setState(Ready)
			k.logger.Debug("thread woke from sleep", zap.Int("thread", i), zap.Uint32("tick", now))
		}
	}

	selected := k.selectNextLocked(cur)

	if selected != cur {
		if k.threads[cur].getState() == Running {
			k.threads[cur].setState(Ready)
		}
		k.threads[selected].setState(Running)
		k.currentIndex.Store(int32(selected))
		k.logger.Debug("context switch", zap.Int("from", cur), zap.Int("to", selected), zap.Uint32("tick", now))
	}

	return StackPointer(k.threads[k.currentIndex.Load()].stackPointer)
}

// selectNextLocked implements the round-robin scan of §4.3 step 4:
// starting just after cur, scan all N slots in circular order and pick
// the first READY one. If none is READY, keep cur whether it is still
// RUNNING (idle self-continuation) or not (the always-runnable
// fallback, typically the bootstrap task).
func (k *Kernel) selectNextLocked(cur int) int {
	n := len(k.threads)
	next := cur
	for i := 0; i < n; i++ {
		next = (next + 1) % n
		if k.threads[next].getState() == Ready {
			return next
		}
	}
	return cur
}

// checkOverflowLocked is the WithEagerOverflowCheck enrichment: on every
// pass, force any corrupted, still-live thread to Unused instead of
// waiting for an explicit IsCorrupted call.
func (k *Kernel) checkOverflowLocked() {
	for i, t := range k.threads {
		if i == 0 {
			continue // bootstrap task has no managed stack bounds
		}
		if t.getState() == Unused {
			continue
		}
		if t.corrupted() {
			t.setState(Unused)
			k.logger.Warn("stack overflow detected, forcing thread unused", zap.Int("thread", i))
		}
	}
}
