// Package kernelschedule implements a cooperative-plus-preemptive
// multithreading microkernel for a small single-core target: a thread
// control block table, a synthetic stack-frame builder, a round-robin
// context switcher driven by a periodic time slice, a sleep/wake sweep,
// and a blocking mutex with direct ownership hand-off.
//
// The kernel does not allocate: callers supply the stack buffer backing
// each thread, and its lifetime is owned by the caller for as long as
// the thread is live. There is no priority scheduling, no message
// queues, no signals, and no SMP support — see SPEC_FULL.md for the
// full scope discussion.
package kernelschedule
