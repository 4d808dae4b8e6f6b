package symtab

import "testing"

func TestLookup(t *testing.T) {
	Load([]Symbol{
		{Addr: 0x2000, Name: "bar"},
		{Addr: 0x1000, Name: "foo"},
		{Addr: 0x3000, Name: "baz"},
	})

	specs := []struct {
		addr      uintptr
		expName   string
		expOffset uintptr
		expOK     bool
	}{
		{0x0fff, "", 0, false},
		{0x1000, "foo", 0, true},
		{0x1500, "foo", 0x500, true},
		{0x2000, "bar", 0, true},
		{0x2fff, "bar", 0xfff, true},
		{0x4000, "baz", 0x1000, true},
	}

	for _, spec := range specs {
		name, offset, ok := Lookup(spec.addr)
		if ok != spec.expOK {
			t.Fatalf("Lookup(0x%x): expected ok=%v; got %v", spec.addr, spec.expOK, ok)
		}
		if !ok {
			continue
		}
		if name != spec.expName || offset != spec.expOffset {
			t.Fatalf("Lookup(0x%x): expected (%s, 0x%x); got (%s, 0x%x)", spec.addr, spec.expName, spec.expOffset, name, offset)
		}
	}
}

func TestLookupEmptyTable(t *testing.T) {
	Load(nil)

	if _, _, ok := Lookup(0x1000); ok {
		t.Fatal("expected Lookup to fail against an empty table")
	}
}
