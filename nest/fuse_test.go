package nest_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/nest"
)

func TestFuseErrors(t *testing.T) {
	a := newDomain(t, 4, 3)
	b := newDomain(t, 4, 3)
	sa, sb := a.CreateSchedule(), b.CreateSchedule()
	if _, err := nest.Fuse(1, sa); err == nil {
		t.Errorf("expected an error fusing a single schedule")
	}
	if _, err := nest.Fuse(3, sa, sb); err == nil {
		t.Errorf("expected an error sharing more dimensions than the rank")
	}
	if _, err := nest.Fuse(1, sa, sa); err == nil {
		t.Errorf("expected an error fusing a schedule with itself")
	}
	if _, err := nest.Fuse(-1, sa, sb); err == nil {
		t.Errorf("expected an error on a negative shared count")
	}
}

func TestFuseStructure(t *testing.T) {
	a := newDomain(t, 4, 3)
	b := newDomain(t, 4, 2)
	sa, sb := a.CreateSchedule(), b.CreateSchedule()
	f, err := nest.FuseAll(sa, sb)
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	if !f.Fused() {
		t.Fatalf("fusion result does not report itself fused")
	}
	if got, want := names(f.Order()), []string{"f", "i", "j"}; !cmp.Equal(got, want) {
		t.Fatalf("got order %v but want %v", got, want)
	}
	sel := f.Selector()
	if sel == nil || !sel.IsSelector() {
		t.Errorf("fusion result has no selector index")
	}
	if got, err := f.TripCount(sel); err != nil || got != 2 {
		t.Errorf("got selector trip (%d, %v) but want (2, nil)", got, err)
	}
	shared := f.SharedIndices()
	if len(shared) != 2 {
		t.Fatalf("got %d shared indices but want 2", len(shared))
	}
	// Unequal extents adopt the maximum.
	if got, err := f.TripCount(shared[1]); err != nil || got != 3 {
		t.Errorf("got shared trip (%d, %v) but want (3, nil)", got, err)
	}
	if !sa.Sealed() || !sb.Sealed() {
		t.Errorf("fusing did not seal the input schedules")
	}
	if _, err := sa.Split(a.Indices()[0], nest.Int(2)); err == nil {
		t.Errorf("expected an error transforming a fused branch")
	}
}

func TestFuseCarriesUnfusedIndices(t *testing.T) {
	a := newDomain(t, 4, 3)
	b := newDomain(t, 4)
	sa, sb := a.CreateSchedule(), b.CreateSchedule()
	f, err := nest.Fuse(1, sa, sb)
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	if got, want := names(f.Order()), []string{"f", "i", "j"}; !cmp.Equal(got, want) {
		t.Fatalf("got order %v but want %v", got, want)
	}
	j := f.Order()[2]
	br, ok := f.BranchOf(j)
	if !ok || br != 0 {
		t.Errorf("got branch (%d, %t) for %s but want (0, true)", br, ok, j)
	}
	if got := f.UnfusedIndices(0); len(got) != 1 || got[0] != j {
		t.Errorf("got unfused indices %v for branch 0 but want [j]", names(got))
	}
	if got := f.UnfusedIndices(1); len(got) != 0 {
		t.Errorf("got unfused indices %v for branch 1 but want none", names(got))
	}
}

func TestFuseUniquifiesCarriedNames(t *testing.T) {
	a := newDomain(t, 4, 3)
	b := newDomain(t, 4, 3)
	sa, sb := a.CreateSchedule(), b.CreateSchedule()
	f, err := nest.Fuse(1, sa, sb)
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	got := names(f.Order())
	if want := []string{"f", "i", "j", "j_2"}; !cmp.Equal(got, want) {
		t.Fatalf("got order %v but want %v", got, want)
	}
	seen := map[string]bool{}
	for _, name := range got {
		if seen[name] {
			t.Errorf("index name %s appears twice in the order", name)
		}
		seen[name] = true
	}
	// The rename keeps the branch tags intact.
	if br, ok := f.BranchOf(f.Order()[2]); !ok || br != 0 {
		t.Errorf("got branch (%d, %t) for %s but want (0, true)", br, ok, f.Order()[2])
	}
	if br, ok := f.BranchOf(f.Order()[3]); !ok || br != 1 {
		t.Errorf("got branch (%d, %t) for %s but want (1, true)", br, ok, f.Order()[3])
	}
}

func TestFusePrecedence(t *testing.T) {
	a := newDomain(t, 4, 3)
	b := newDomain(t, 4)
	sa, sb := a.CreateSchedule(), b.CreateSchedule()
	f, err := nest.Fuse(1, sa, sb)
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	sel, i, j := f.Order()[0], f.Order()[1], f.Order()[2]
	if err := f.Reorder(j, sel, i); err == nil {
		t.Errorf("expected a rejection moving an unfused index above the selector")
	}
	// The selector may sink below shared indices.
	if err := f.Reorder(i, sel, j); err != nil {
		t.Errorf("legal reorder rejected: %v", err)
	}
}

type visitRec struct {
	Kernel string
	Coord  []int
}

func TestFusedVisitSelectorInnermost(t *testing.T) {
	a := newDomain(t, 2, 2)
	b := newDomain(t, 2, 2)
	define(t, a, "first")
	define(t, b, "second")
	f, err := nest.FuseAll(a.CreateSchedule(), b.CreateSchedule())
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	sel, i, j := f.Order()[0], f.Order()[1], f.Order()[2]
	if err := f.Reorder(i, j, sel); err != nil {
		t.Fatalf("cannot reorder: %v", err)
	}
	var got []visitRec
	err = f.Visit(func(k *expr.Kernel, at func(expr.Iter) int) error {
		r := visitRec{Kernel: k.Name()}
		if k.Name() == "first" {
			r.Coord = []int{at(a.Indices()[0].Iter()), at(a.Indices()[1].Iter())}
		} else {
			r.Coord = []int{at(b.Indices()[0].Iter()), at(b.Indices()[1].Iter())}
		}
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("cannot visit schedule: %v", err)
	}
	// With the selector innermost both kernels run back to back at every
	// shared coordinate.
	var want []visitRec
	for iv := 0; iv < 2; iv++ {
		for jv := 0; jv < 2; jv++ {
			want = append(want,
				visitRec{Kernel: "first", Coord: []int{iv, jv}},
				visitRec{Kernel: "second", Coord: []int{iv, jv}},
			)
		}
	}
	if !cmp.Equal(got, want) {
		t.Errorf("unexpected visit sequence:\n%s", cmp.Diff(want, got))
	}
}

func TestFusedVisitUnequalExtents(t *testing.T) {
	a := newDomain(t, 2, 3)
	b := newDomain(t, 2, 2)
	define(t, a, "wide")
	define(t, b, "narrow")
	f, err := nest.FuseAll(a.CreateSchedule(), b.CreateSchedule())
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	counts := map[string]int{}
	err = f.Visit(func(k *expr.Kernel, _ func(expr.Iter) int) error {
		counts[k.Name()]++
		return nil
	})
	if err != nil {
		t.Fatalf("cannot visit schedule: %v", err)
	}
	want := map[string]int{"wide": 6, "narrow": 4}
	if !cmp.Equal(counts, want) {
		t.Errorf("got kernel counts %v but want %v", counts, want)
	}
}

func TestDisjointFusionConcatenates(t *testing.T) {
	a := newDomain(t, 3)
	b := newDomain(t, 5)
	define(t, a, "first")
	define(t, b, "second")
	f, err := nest.Fuse(0, a.CreateSchedule(), b.CreateSchedule())
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	var seq []string
	err = f.Visit(func(k *expr.Kernel, _ func(expr.Iter) int) error {
		seq = append(seq, k.Name())
		return nil
	})
	if err != nil {
		t.Fatalf("cannot visit schedule: %v", err)
	}
	want := []string{
		"first", "first", "first",
		"second", "second", "second", "second", "second",
	}
	if !cmp.Equal(seq, want) {
		t.Errorf("got kernel sequence %v but want %v", seq, want)
	}
}

func TestCascadingFusion(t *testing.T) {
	a := newDomain(t, 4)
	b := newDomain(t, 4)
	c := newDomain(t, 4)
	define(t, a, "a")
	define(t, b, "b")
	define(t, c, "c")
	f1, err := nest.FuseAll(a.CreateSchedule(), b.CreateSchedule())
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	// Lift the shared dimension above the inner selector so the second
	// fusion can share it.
	if err := f1.Reorder(f1.Order()[1], f1.Order()[0]); err != nil {
		t.Fatalf("cannot reorder: %v", err)
	}
	f2, err := nest.Fuse(1, f1, c.CreateSchedule())
	if err != nil {
		t.Fatalf("cannot fuse: %v", err)
	}
	counts := map[string]int{}
	err = f2.Visit(func(k *expr.Kernel, _ func(expr.Iter) int) error {
		counts[k.Name()]++
		return nil
	})
	if err != nil {
		t.Fatalf("cannot visit schedule: %v", err)
	}
	want := map[string]int{"a": 4, "b": 4, "c": 4}
	if !cmp.Equal(counts, want) {
		t.Errorf("got kernel counts %v but want %v", counts, want)
	}
}
