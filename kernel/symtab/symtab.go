// Package symtab resolves addresses to function names for panic backtraces.
//
// The kernel has no runtime symbol table of its own (the freestanding build
// strips everything the Go runtime would normally use for this); instead a
// build step similar to how device/video/console/logo generates its image
// data from a source asset generates a Go source file calling Load with the
// addresses and names pulled out of the kernel's own symbol table, and that
// generated file's init function registers it here.
package symtab

import "sort"

// Symbol associates a function's entry address with its name.
type Symbol struct {
	Addr uintptr
	Name string
}

type symbolTable []Symbol

func (t symbolTable) Len() int           { return len(t) }
func (t symbolTable) Less(i, j int) bool { return t[i].Addr < t[j].Addr }
func (t symbolTable) Swap(i, j int)      { t[i], t[j] = t[j], t[i] }

var table symbolTable

// Load replaces the active symbol table with symbols, sorted by address.
func Load(symbols []Symbol) {
	table = symbolTable(append([]Symbol(nil), symbols...))
	sort.Sort(table)
}

// Loaded reports whether a non-empty symbol table is active.
func Loaded() bool {
	return len(table) > 0
}

// Lookup returns the name of the symbol covering addr and the offset of addr
// within it. ok is false if addr falls before the first known symbol or no
// table has been loaded.
func Lookup(addr uintptr) (name string, offset uintptr, ok bool) {
	if len(table) == 0 || addr < table[0].Addr {
		return "", 0, false
	}

	// Find the last symbol whose address is <= addr.
	i := sort.Search(len(table), func(i int) bool { return table[i].Addr > addr }) - 1

	sym := table[i]
	return sym.Name, addr - sym.Addr, true
}
