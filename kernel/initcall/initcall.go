// Package initcall runs kernel subsystem initializers in a fixed, staged
// order. It generalizes device/driver.go's ordered probe list: instead of
// "probe every driver, keep whichever succeed", each registered call runs
// unconditionally within its stage, and a failure is either fatal or merely
// logged depending on how early the stage is.
package initcall

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/kfmt"
	"sort"
)

// Stage controls when a registered call runs relative to the others.
// Earlier stages run first; a failure in Bootstrap or Early is fatal since
// nothing later can be trusted to work without it.
type Stage int

const (
	// StageBootstrap covers the interrupt/exception plumbing and memory
	// managers: gate, irq, pmm, vmm, heap. Nothing else can run without
	// these, so a failure here panics.
	StageBootstrap Stage = iota

	// StageEarly covers the Go runtime bootstrap and the scheduler. A
	// failure here also panics.
	StageEarly

	// StageNormal covers hardware detection and driver init. A failure
	// here is logged and the call is treated as having not run; the
	// kernel keeps booting without whatever it provided.
	StageNormal

	// StageLate covers anything that should run once the system is
	// otherwise up (e.g. spawning the first userspace process). Failures
	// are logged the same as StageNormal.
	StageLate
)

// Func is a registered initializer. A nil error means success.
type Func func() *kernel.Error

// call pairs a Func with the metadata needed to run and report on it.
type call struct {
	stage Stage
	name  string
	fn    Func
}

type callList []call

func (l callList) Len() int           { return len(l) }
func (l callList) Less(i, j int) bool { return l[i].stage < l[j].stage }
func (l callList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registered callList

// Register adds fn to the set of initializers run by RunStage(stage). name
// is used only for log output on failure. Calls at the same stage run in
// registration (link) order relative to one another.
func Register(stage Stage, name string, fn Func) {
	registered = append(registered, call{stage: stage, name: name, fn: fn})
}

// RunStage runs every call registered at stage, in registration order.
// A failing call at StageBootstrap or StageEarly halts the kernel; at
// StageNormal or StageLate the error is logged and the call is skipped.
func RunStage(stage Stage) {
	// sort.Stable preserves registration order among equal stages; the
	// rest of the list (other stages) is untouched by a given RunStage
	// call since only matching entries are visited below.
	sort.Stable(registered)

	for _, c := range registered {
		if c.stage != stage {
			continue
		}

		if err := c.fn(); err != nil {
			if stage <= StageEarly {
				panic(err)
			}
			kfmt.Printf("[initcall] %s failed: %s\n", c.name, err.Message)
		}
	}
}
