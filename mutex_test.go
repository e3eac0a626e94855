package kernelschedule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMutexUncontendedLockReportsOwner(t *testing.T) {
	k := New(WithMaxThreads(2))
	k.Boot()
	mtx := NewMutex(k)

	_, held := mtx.Owner()
	require.False(t, held)

	mtx.Lock() // bootstrap thread (index 0), nothing else contends
	idx, held := mtx.Owner()
	require.True(t, held)
	require.Equal(t, 0, idx)

	mtx.Unlock()
	_, held = mtx.Owner()
	require.False(t, held)
}

// TestMutexBlocksAndHandsOffDirectly exercises the contended path: thread
// 2 must genuinely block (not spin) while thread 1 holds the mutex
// across a Sleep, then receive ownership directly from Unlock without
// ever observing the mutex as momentarily free.
func TestMutexBlocksAndHandsOffDirectly(t *testing.T) {
	k := New(WithMaxThreads(3), WithTimeSliceMS(10))
	k.Boot()
	mtx := NewMutex(k)

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	buf1 := make([]byte, 128)
	buf2 := make([]byte, 128)

	_, err := k.NewThread(func() {
		mtx.Lock()
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		k.Sleep(20) // holds the mutex while asleep, forcing thread 2 to block
		mtx.Unlock()
	}, buf1)
	require.NoError(t, err)

	_, err = k.NewThread(func() {
		mtx.Lock()
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		close(done)
	}, buf2)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		k.Yield()
	}

	select {
	case <-done:
	case <-time.After(defaultTestTimeout):
		t.Fatal("thread 2 never acquired the mutex")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}

// TestMutexNonOwnerUnlockIsNoop exercises §4.5 step 2 / §7: a thread
// that does not hold the mutex calling Unlock must leave its state
// entirely unchanged.
func TestMutexNonOwnerUnlockIsNoop(t *testing.T) {
	k := New(WithMaxThreads(2), WithTimeSliceMS(10))
	k.Boot()
	mtx := NewMutex(k)

	mtx.Lock() // bootstrap (thread 0) acquires uncontended

	ranNoop := make(chan struct{})
	buf := make([]byte, 128)
	_, err := k.NewThread(func() {
		mtx.Unlock() // thread 1 does not own it: must be a no-op
		close(ranNoop)
	}, buf)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		k.Yield()
	}

	select {
	case <-ranNoop:
	case <-time.After(defaultTestTimeout):
		t.Fatal("thread 1 never ran its no-op unlock")
	}

	idx, held := mtx.Owner()
	require.True(t, held)
	require.Equal(t, 0, idx, "a non-owner unlock must not change ownership")
}

// TestMutexHandsOffToLowestIndexWaiterFirst exercises scenario 4 (§8):
// with two threads blocked on the same mutex, ownership passes to the
// lowest-index waiter first, and only a subsequent unlock reaches the
// other.
func TestMutexHandsOffToLowestIndexWaiterFirst(t *testing.T) {
	k := New(WithMaxThreads(3), WithTimeSliceMS(10))
	k.Boot()
	mtx := NewMutex(k)

	mtx.Lock() // bootstrap (thread 0) acquires uncontended

	var mu sync.Mutex
	var order []int

	buf1 := make([]byte, 128)
	buf2 := make([]byte, 128)

	_, err := k.NewThread(func() {
		mtx.Lock() // blocks behind thread 0
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		mtx.Unlock() // hands off to the remaining waiter: thread 2
	}, buf1)
	require.NoError(t, err)

	_, err = k.NewThread(func() {
		mtx.Lock() // blocks behind thread 0
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}, buf2)
	require.NoError(t, err)

	// let both threads 1 and 2 reach Lock() and block behind thread 0
	for i := 0; i < 4; i++ {
		k.Yield()
	}
	require.Equal(t, Blocked, k.threads[1].getState())
	require.Equal(t, Blocked, k.threads[2].getState())

	done := make(chan struct{})
	go func() {
		mtx.Unlock() // hands off to the lowest-index waiter first: thread 1
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(defaultTestTimeout):
		t.Fatal("the 1-then-2 hand-off chain never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}
