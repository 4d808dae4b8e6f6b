package proc

import (
	"testing"

	"github.com/d4ilyrun/kernel-sub002/kernel/mm"
)

func TestSbrkEstablishesHeapOnFirstGrow(t *testing.T) {
	spaces := withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	old, err := p.Sbrk(int(mm.PageSize))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if old != heapBase {
		t.Errorf("expected first Sbrk to return heapBase; got %x", old)
	}
	if len(spaces[p]) != 0 {
		t.Errorf("expected no pages backed until faulted in; got %d mapped", len(spaces[p]))
	}
	if len(p.Segments) != 1 || p.Segments[0].Start != heapBase {
		t.Fatalf("expected a heap segment at heapBase; got %+v", p.Segments)
	}
}

func TestSbrkZeroIncrementQueriesCurrentBreak(t *testing.T) {
	withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Sbrk(int(mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := p.Sbrk(0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != heapBase+mm.PageSize {
		t.Errorf("expected query to report the current break; got %x", got)
	}
}

func TestSbrkGrowsExistingHeapSegmentInPlace(t *testing.T) {
	spaces := withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Sbrk(int(mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.Sbrk(int(mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(p.Segments) != 1 {
		t.Fatalf("expected still exactly one heap segment; got %d", len(p.Segments))
	}
	if p.Segments[0].Size != 2*mm.PageSize {
		t.Errorf("expected the heap segment to have grown to 2 pages; got %d", p.Segments[0].Size)
	}
	if len(spaces[p]) != 0 {
		t.Errorf("expected growth to stay lazy; got %d pages already mapped", len(spaces[p]))
	}
}

func TestSbrkShrinkUnmapsTrailingPages(t *testing.T) {
	spaces := withFakeAddressSpaces(t)

	p, err := NewProcess("p", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := p.Sbrk(int(2 * mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Touch both heap pages so there's something for the shrink to
	// actually release.
	seg := p.Segments[0]
	if err := seg.driver.fault(p, seg, heapBase); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}
	if err := seg.driver.fault(p, seg, heapBase+mm.PageSize); err != nil {
		t.Fatalf("unexpected fault error: %v", err)
	}

	if _, err := p.Sbrk(-int(mm.PageSize)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(spaces[p]) != 1 {
		t.Errorf("expected one page to remain mapped; got %d", len(spaces[p]))
	}
	if p.Segments[0].Size != mm.PageSize {
		t.Errorf("expected the heap segment to shrink to 1 page; got %d", p.Segments[0].Size)
	}
}
