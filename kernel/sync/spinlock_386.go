package sync

import "sync/atomic"

// archAcquireSpinlock busy-waits using a CAS loop until it manages to swap
// state from 0 to 1. After attemptsBeforeYielding unsuccessful attempts it
// calls yieldFn (if set) so the scheduler can run some other thread instead
// of burning the current quantum spinning.
func archAcquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	var attempts uint32

	for !atomic.CompareAndSwapUint32(state, 0, 1) {
		pause()

		attempts++
		if attempts >= attemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// pause issues the PAUSE instruction, hinting to the CPU that this is a
// spin-wait loop so it can de-prioritize the speculative execution of the
// loop body and save power.
func pause()
