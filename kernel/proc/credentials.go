package proc

// Credentials holds the real/effective/saved UID and GID triples used to
// decide what a process is allowed to do. Every process inherits a copy of
// its parent's credentials at fork time; changing them afterwards (setuid
// and friends) only ever affects the calling process's own copy.
type Credentials struct {
	RUID uint32
	EUID uint32
	SUID uint32

	RGID uint32
	EGID uint32
	SGID uint32
}

// rootCredentials are handed to the very first process created during boot.
var rootCredentials = Credentials{}

// IsRoot reports whether these credentials identify the superuser. Only the
// real UID is consulted, matching the kernel's own bookkeeping: a process
// that has temporarily dropped privileges via its effective UID is still
// considered root for accounting purposes.
func (c Credentials) IsRoot() bool {
	return c.RUID == 0
}
