package kernelschedule

import "errors"

// Sentinel errors returned across the kernel's API boundary. Nothing in
// this package panics or throws across the boundary; every failure is
// either one of these or an observable state transition (an UNUSED
// slot, a mutex's locked flag), matching §7's "no exceptions are thrown
// across kernel boundaries."
var (
	// ErrNoFreeThread is returned by NewThread when every non-bootstrap
	// slot is already in use.
	ErrNoFreeThread = errors.New("kernelschedule: no free thread slot")

	// ErrStackTooSmall is returned by NewThread when the supplied stack
	// buffer cannot hold the synthetic frame without overwriting the
	// overflow sentinel. Go's bounds-checked slices can't silently
	// corrupt adjacent memory the way a raw AVR stack can, so an
	// undersized buffer is rejected at creation instead of producing an
	// instant, confusing IsCorrupted() on first use.
	ErrStackTooSmall = errors.New("kernelschedule: stack buffer too small")

	// ErrNotBooted is returned by NewThread when called before Boot.
	ErrNotBooted = errors.New("kernelschedule: kernel not booted")
)
