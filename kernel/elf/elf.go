// Package elf declares the collaborator interface execve loads a program
// image through. As with kernel/vfs, no parser lives here: a concrete
// Loader for whatever executable format is supported is wired in
// separately.
package elf

import "github.com/d4ilyrun/kernel-sub002/kernel/proc"

// Loader populates a fresh process's address space from a mapped
// executable image and returns the entry point execution should resume
// at.
type Loader interface {
	Load(p *proc.Process, image []byte) (entry uintptr, err error)
}
