package device

import (
	"io"

	"github.com/d4ilyrun/kernel-sub002/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Init-time diagnostics are
	// written to w rather than the not-yet-active console.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn attempts to detect a particular piece of hardware, returning the
// matching Driver or nil if it isn't present.
type ProbeFn func() Driver

// DetectOrder controls the order in which registered drivers are probed.
// Lower values run first.
type DetectOrder int

const (
	// DetectOrderEarly runs before anything that depends on ACPI having
	// already been probed (e.g. a boot console, needed for logging).
	DetectOrderEarly DetectOrder = iota

	// DetectOrderBeforeACPI runs after DetectOrderEarly but before the
	// ACPI driver itself, reserved for drivers ACPI detection depends on.
	DetectOrderBeforeACPI

	// DetectOrderACPI is the order the ACPI driver itself probes at.
	DetectOrderACPI

	// DetectOrderAfterACPI runs once ACPI tables (if any) are available.
	DetectOrderAfterACPI

	// DetectOrderLast runs after everything else.
	DetectOrderLast
)

// DriverInfo associates a probe function with the order it should run at.
type DriverInfo struct {
	Order DetectOrder
	Probe ProbeFn
}

// DriverInfoList implements sort.Interface, ordering entries by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver adds info to the set of drivers probed by
// hal.DetectHardware. Drivers register themselves via an init() function.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns every driver registered so far.
func DriverList() DriverInfoList {
	return registeredDrivers
}
