package proc

import (
	"github.com/d4ilyrun/kernel-sub002/kernel"
	"github.com/d4ilyrun/kernel-sub002/kernel/sched"
	"github.com/d4ilyrun/kernel-sub002/kernel/sync"
)

var errNoSuchChild = &kernel.Error{Module: "proc", Message: "no such child process"}

// currentWaiterFn, blockCurrentFn, unblockFn and exitFn are test seams so
// unit tests can exercise waitpid/Exit bookkeeping without driving the real
// scheduler.
var (
	currentWaiterFn = func() sync.Waiter { return sched.Current() }
	blockCurrentFn  = sched.BlockCurrent
	unblockFn       = sched.Unblock
	exitFn          = sched.Exit
)

// Exit marks p as a zombie, hands its exit status to its parent (waking it
// up if it is already blocked in Waitpid) and switches away from its
// thread for good. kernel/syscall calls this for the exit/exit_group
// syscalls.
func (p *Process) Exit(status int) {
	procLock.Acquire()
	p.state = StateZombie
	p.exitStatus = status
	procLock.Release()

	if parent, ok := Lookup(p.ParentID); ok {
		parent.lock.Acquire()
		parent.zombieQueue = append(parent.zombieQueue, p)
		w, hasWaiter := parent.waiters.Dequeue()
		parent.lock.Release()
		if hasWaiter {
			unblockFn(w)
		}
	}

	exitFn()
}

// Waitpid blocks the calling thread until a child matching pid becomes a
// zombie, then reaps it and returns its PID and exit status. pid == 0
// matches any child. Reaping releases the child's address space and
// removes it from the process registry.
func (p *Process) Waitpid(pid uint32) (uint32, int, *kernel.Error) {
	for {
		p.lock.Acquire()

		if len(p.zombieQueue) == 0 && !p.hasChildLocked(pid) {
			p.lock.Release()
			return 0, 0, errNoSuchChild
		}

		for i, z := range p.zombieQueue {
			if pid != 0 && z.PID != pid {
				continue
			}
			p.zombieQueue = append(p.zombieQueue[:i:i], p.zombieQueue[i+1:]...)
			p.removeChildLocked(z.PID)
			p.lock.Release()

			zpid, status := z.PID, z.exitStatus
			z.teardown()
			return zpid, status, nil
		}

		p.waiters.Enqueue(currentWaiterFn())
		p.lock.Release()

		blockCurrentFn()
	}
}

// hasChildLocked reports whether p has a live or zombie child matching
// pid. The caller must hold p.lock.
func (p *Process) hasChildLocked(pid uint32) bool {
	for _, cid := range p.children {
		if pid == 0 || cid == pid {
			return true
		}
	}
	return false
}

// removeChildLocked drops pid from p.children once it has been reaped. The
// caller must hold p.lock.
func (p *Process) removeChildLocked(pid uint32) {
	for i, cid := range p.children {
		if cid == pid {
			p.children = append(p.children[:i:i], p.children[i+1:]...)
			return
		}
	}
}
