package kernelschedule

import (
	"math/bits"

	"go.uber.org/zap"
)

// Mutex is a blocking lock with direct ownership hand-off (§4.5,
// C7): Unlock never merely wakes a waiter to race for the lock again —
// it hands ownership straight to the lowest-index waiter and leaves the
// lock held throughout. Its own bookkeeping rides on the kernel's
// single critical section rather than a private lock of its own,
// mirroring the original's uniprocessor assumption that any global
// interrupt disable already serializes every mutex operation against
// the scheduler.
type Mutex struct {
	k *Kernel

	locked  bool
	owner   int
	waiting uint32 // bitset over thread indices blocked on this mutex
}

// NewMutex creates a mutex bound to k. A mutex is only meaningful once
// k has been booted, since waiters are parked and woken through the
// kernel's own thread table.
func NewMutex(k *Kernel) *Mutex {
	return &Mutex{k: k}
}

// Lock acquires the mutex, blocking the calling thread if it is already
// held. A thread that already owns the mutex must not call Lock again;
// this mutex is not reentrant (§4.5).
func (m *Mutex) Lock() {
	idx := m.k.CurrentIndex()

	m.k.critical.Lock()
	if !m.locked {
		m.locked = true
		m.owner = idx
		m.k.critical.Unlock()
		return
	}

	m.waiting |= 1 << uint(idx)
	m.k.threads[idx].setState(Blocked)
	m.k.critical.Unlock()

	m.k.logger.Debug("thread blocked on mutex", zap.Int("thread", idx))

	// Parks until Unlock hands this thread ownership directly and wakes
	// it; no retry loop, since ownership is never contested after hand-off.
	m.k.dispatchSwitch(idx)
}

// Unlock releases the mutex. If any thread is waiting, ownership passes
// directly to the lowest-index waiter (§4.5's direct hand-off, mirroring
// the original's linear scan for the first waiting bit), and that
// waiter becomes the current thread without the mutex ever observing an
// unlocked state in between. Since this hands off the CPU as well as
// the lock, the caller itself parks until it is dispatched again — the
// same thing it would do were it to Yield instead.
//
// A non-owner calling Unlock is a silent no-op (§4.5 step 2, §7),
// mirroring KernelSchedule.cpp's `if (owner_index == OS::current_index)`
// guard.
func (m *Mutex) Unlock() {
	cur := m.k.CurrentIndex()

	m.k.critical.Lock()

	if !m.locked || m.owner != cur {
		m.k.critical.Unlock()
		return
	}

	if m.waiting == 0 {
		m.locked = false
		m.k.critical.Unlock()
		return
	}

	next := bits.TrailingZeros32(m.waiting)
	m.waiting &^= 1 << uint(next)
	m.owner = next

	if m.k.threads[cur].getState() == Running {
		m.k.threads[cur].setState(Ready)
	}
	m.k.threads[next].setState(Running)
	m.k.currentIndex.Store(int32(next))

	m.k.critical.Unlock()

	m.k.logger.Debug("mutex handed off", zap.Int("to", next))
	m.k.wake(next)
	m.k.park(cur)
}

// Owner returns the index of the thread currently holding the mutex and
// whether it is held at all.
func (m *Mutex) Owner() (idx int, held bool) {
	m.k.critical.Lock()
	defer m.k.critical.Unlock()
	return m.owner, m.locked
}
