package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/vfs"
)

var errBadFD = &kernel.Error{Module: "proc", Message: "file descriptor not open in this process"}

// AddFile installs an already-open file in the process's descriptor
// table and returns the lowest descriptor number not currently in use.
// 0, 1 and 2 are reserved for stdin/stdout/stderr by convention, even
// though nothing backs them yet.
func (p *Process) AddFile(f vfs.File) int {
	p.lock.Acquire()
	defer p.lock.Release()

	if p.files == nil {
		p.files = map[int]vfs.File{}
	}

	fd := 3
	for {
		if _, used := p.files[fd]; !used {
			break
		}
		fd++
	}
	p.files[fd] = f
	return fd
}

// File returns the open file installed under fd.
func (p *Process) File(fd int) (vfs.File, *kernel.Error) {
	p.lock.Acquire()
	defer p.lock.Release()

	f, ok := p.files[fd]
	if !ok {
		return nil, errBadFD
	}
	return f, nil
}

// CloseFile closes and removes fd from the process's descriptor table.
func (p *Process) CloseFile(fd int) *kernel.Error {
	p.lock.Acquire()
	f, ok := p.files[fd]
	if !ok {
		p.lock.Release()
		return errBadFD
	}
	delete(p.files, fd)
	p.lock.Release()

	if err := f.Close(); err != nil {
		return &kernel.Error{Module: "proc", Message: "close: " + err.Error()}
	}
	return nil
}
