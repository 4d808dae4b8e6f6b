// Package early re-exports kfmt.Printf under a name that makes it obvious,
// at the call site, that the log line may run before a console is attached.
// kfmt.Printf already buffers its output in a ring buffer until
// kfmt.SetOutputSink is called by the HAL, so no separate implementation is
// required; the package exists purely so that boot-time code (the PMM
// and boot memory allocators) can document that intent.
package early

import "github.com/d4ilyrun/kernel-sub002/kernel/kfmt"

// Printf behaves exactly like kfmt.Printf.
func Printf(format string, args ...interface{}) {
	kfmt.Printf(format, args...)
}
