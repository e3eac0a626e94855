package kernelschedule

import (
	"encoding/binary"

	"go.uber.org/atomic"
)

// EntryFunc is a task's entry point. It runs on its own goroutine under
// the reference trampoline (see trampoline.go); when it returns, the
// owning thread retires to Unused.
type EntryFunc func()

// StackPointer is the synthetic saved stack pointer exchanged across the
// ContextSwitch boundary. It is an offset into the owning thread's stack
// buffer rather than a real machine address — see SPEC_FULL.md §0 for
// why a portable Go module tracks this symbolically instead of as a raw
// pointer.
type StackPointer int

const (
	// stackSentinel is written to byte 0 of every managed stack buffer.
	// Its alteration signals stack overflow (invariant 6).
	stackSentinel byte = 0xAA

	// frameExitMarker and frameEntryMarker stand in for the two
	// big-endian code addresses a real trampoline frame holds (the exit
	// trampoline and the entry function). Go task functions aren't
	// 16-bit addresses, so the real dispatch information travels
	// alongside in the TCB's entry field; these markers exist so the
	// frame's byte layout and size match the spec exactly and remain
	// testable (B3, P3, P7).
	frameExitMarker  uint16 = 0xE017
	frameEntryMarker uint16 = 0xE57A

	frameRegisterBytes = 31 // remaining general-purpose registers, zeroed
	frameSize           = 2 + 2 + 1 + 1 + frameRegisterBytes

	// minStackBufBytes leaves byte 0 (the sentinel) distinct from the
	// frame itself, so a freshly built frame never overlaps it.
	minStackBufBytes = 1 + frameSize
)

// tcb is one thread control block slot. Slot 0 is always the bootstrap
// task and has a nil stackBuf (no kernel-managed bounds, per invariant 6).
type tcb struct {
	state            atomic.Uint32 // ThreadState, declared atomic per §9
	stackPointer     int
	stackBuf         []byte
	wakeTime         atomic.Uint32
	entry            EntryFunc
	resume           chan struct{} // buffered 1; the reference trampoline's wake signal
	preemptRequested atomic.Bool
}

func newTCB() *tcb {
	t := &tcb{resume: make(chan struct{}, 1)}
	t.state.Store(uint32(Unused))
	return t
}

func (t *tcb) getState() ThreadState { return ThreadState(t.state.Load()) }
func (t *tcb) setState(s ThreadState) { t.state.Store(uint32(s)) }

// corrupted reports whether this thread's sentinel byte has been
// overwritten. The bootstrap task (nil stackBuf) is never corrupted.
func (t *tcb) corrupted() bool {
	if t.stackBuf == nil {
		return false
	}
	return t.stackBuf[0] != stackSentinel
}

// buildFrame lays out a synthetic interrupt-return frame at the top of
// buf, per §4.2: sentinel at byte 0, then (top of buffer downward) the
// exit marker, the entry marker, the last-register-restored byte, the
// status register byte with interrupts enabled, and 31 zeroed
// general-purpose register bytes. It returns the final decremented
// offset, i.e. the synthetic stack pointer.
func buildFrame(buf []byte) (StackPointer, error) {
	if len(buf) < minStackBufBytes {
		return 0, ErrStackTooSmall
	}

	buf[0] = stackSentinel

	cursor := len(buf)

	cursor -= 2
	binary.BigEndian.PutUint16(buf[cursor:], frameExitMarker)

	cursor -= 2
	binary.BigEndian.PutUint16(buf[cursor:], frameEntryMarker)

	cursor--
	buf[cursor] = 0 // last-register-restored slot (r0)

	cursor--
	buf[cursor] = 0x80 // status register: global-interrupts-enabled bit set

	cursor -= frameRegisterBytes
	for i := 0; i < frameRegisterBytes; i++ {
		buf[cursor+i] = 0
	}

	return StackPointer(cursor), nil
}
