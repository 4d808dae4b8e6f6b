package irq

import "github.com/d4ilyrun/kernel-sub002/kernel"

const (
	pitChannel0 = 0x40
	pitCommand  = 0x43

	// pitInternalFreq is the PIT's fixed oscillator frequency, in Hz.
	pitInternalFreq = 1193182

	pitModeSquareWave = 0x36 // channel 0, lobyte/hibyte, mode 3, binary
)

var (
	errInvalidPITFreq = &kernel.Error{Module: "irq", Message: "PIT: invalid frequency"}

	// outBFn/currentFreq are test seams: unit tests exercise the divisor
	// arithmetic without touching real I/O ports.
	outBFn      = portOutB
	currentFreq uint32
)

// SetPITFrequency programs PIT channel 0 to fire at freqHz. A frequency of
// zero is rejected; frequencies above the PIT's internal oscillator rate are
// clamped to that rate (the smallest achievable divisor is 1).
func SetPITFrequency(freqHz uint32) *kernel.Error {
	if freqHz == 0 {
		return errInvalidPITFreq
	}
	if freqHz > pitInternalFreq {
		freqHz = pitInternalFreq
	}

	divisor := pitInternalFreq / freqHz
	if divisor > 0xFFFF {
		divisor = 0xFFFF
	} else if divisor == 0 {
		divisor = 1
	}

	outBFn(pitCommand, pitModeSquareWave)
	outBFn(pitChannel0, uint8(divisor&0xFF))
	outBFn(pitChannel0, uint8((divisor>>8)&0xFF))

	currentFreq = pitInternalFreq / divisor
	return nil
}

// PITFrequency returns the frequency that the last successful call to
// SetPITFrequency actually programmed (which may differ slightly from the
// requested value due to integer divisor rounding).
func PITFrequency() uint32 {
	return currentFreq
}
