package nest_test

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/nest"
)

func newDomain(t *testing.T, extents ...int) *nest.Domain {
	t.Helper()
	sizes := make([]nest.Size, len(extents))
	for i, e := range extents {
		sizes[i] = nest.Int(e)
	}
	d, err := nest.NewDomain(sizes...)
	if err != nil {
		t.Fatalf("cannot create domain: %v", err)
	}
	return d
}

func define(t *testing.T, d *nest.Domain, name string) {
	t.Helper()
	if err := d.Define(expr.NewKernel(name)); err != nil {
		t.Fatalf("cannot attach kernel: %v", err)
	}
}

func names(indices []*nest.Index) []string {
	got := make([]string, len(indices))
	for i, ix := range indices {
		got[i] = ix.Name()
	}
	return got
}

func TestNewDomainErrors(t *testing.T) {
	if _, err := nest.NewDomain(); err == nil {
		t.Errorf("expected an error for a domain with no dimension")
	}
	if _, err := nest.NewDomain(nest.Int(4), nest.Int(0)); err == nil {
		t.Errorf("expected an error for a non-positive extent")
	}
	if _, err := nest.NewDomain(nest.Int(4), nest.Unbounded); err == nil {
		t.Errorf("expected an error for an unbounded inner dimension")
	}
}

func TestUnboundedOuter(t *testing.T) {
	d, err := nest.NewDomain(nest.Unbounded, nest.Int(8))
	if err != nil {
		t.Fatalf("cannot create domain: %v", err)
	}
	if err := d.Define(expr.NewKernel("k")); err == nil {
		t.Fatalf("expected an error attaching a kernel to an unresolved domain")
	}
	if err := d.ResolveOuter(16); err != nil {
		t.Fatalf("cannot resolve outer dimension: %v", err)
	}
	if err := d.ResolveOuter(16); err == nil {
		t.Errorf("expected an error on a second resolution")
	}
	define(t, d, "k")
	s := d.CreateSchedule()
	i := d.Indices()[0]
	if got, err := s.TripCount(i); err != nil || got != 16 {
		t.Errorf("got trip count (%d, %v) but want (16, nil)", got, err)
	}
}

func TestDefineTwice(t *testing.T) {
	d := newDomain(t, 4)
	define(t, d, "k")
	if err := d.Define(expr.NewKernel("again")); err == nil {
		t.Errorf("expected an error attaching a second kernel")
	}
}

func TestSplitTripCounts(t *testing.T) {
	tests := []struct {
		extent, size        int
		wantOuter, wantTail int
	}{
		{extent: 10, size: 4, wantOuter: 3, wantTail: 2},
		{extent: 10, size: 5, wantOuter: 2, wantTail: 5},
		{extent: 10, size: 10, wantOuter: 1, wantTail: 10},
		// A size beyond the extent degenerates to one clipped iteration.
		{extent: 3, size: 5, wantOuter: 1, wantTail: 3},
		{extent: 1, size: 1, wantOuter: 1, wantTail: 1},
	}
	for _, test := range tests {
		d := newDomain(t, test.extent)
		s := d.CreateSchedule()
		i := d.Indices()[0]
		ii, err := s.Split(i, nest.Int(test.size))
		if err != nil {
			t.Errorf("split(%d, %d): %v", test.extent, test.size, err)
			continue
		}
		outer, err := s.TripCount(i)
		if err != nil || outer != test.wantOuter {
			t.Errorf("split(%d, %d): got outer trip (%d, %v) but want %d", test.extent, test.size, outer, err, test.wantOuter)
		}
		tail, err := s.TailCount(ii)
		if err != nil || tail != test.wantTail {
			t.Errorf("split(%d, %d): got tail count (%d, %v) but want %d", test.extent, test.size, tail, err, test.wantTail)
		}
		if ii.Parent() != i {
			t.Errorf("split(%d, %d): inner index does not point to its parent", test.extent, test.size)
		}
	}
}

func TestSplitInsertion(t *testing.T) {
	d := newDomain(t, 16, 8)
	s := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	if _, err := s.Split(i, nest.Int(4)); err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	if got, want := names(s.Order()), []string{"i", "ii", "j"}; !cmp.Equal(got, want) {
		t.Fatalf("got order %v but want %v", got, want)
	}
	if _, err := s.Split(j, nest.Int(2)); err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	if got, want := names(s.Order()), []string{"i", "ii", "j", "jj"}; !cmp.Equal(got, want) {
		t.Errorf("got order %v but want %v", got, want)
	}
}

func TestSplitForeignIndex(t *testing.T) {
	a := newDomain(t, 8)
	b := newDomain(t, 8)
	s := a.CreateSchedule()
	if _, err := s.Split(b.Indices()[0], nest.Int(2)); err == nil {
		t.Errorf("expected an error splitting a foreign index")
	}
	if err := s.Pad(b.Indices()[0], nest.Int(2)); err == nil {
		t.Errorf("expected an error padding a foreign index")
	}
}

func TestTile(t *testing.T) {
	d := newDomain(t, 16, 12)
	s := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	inners, err := s.Tile(
		nest.TilePair{Index: i, Size: nest.Int(4)},
		nest.TilePair{Index: j, Size: nest.Int(3)},
	)
	if err != nil {
		t.Fatalf("cannot tile: %v", err)
	}
	if got, want := names(inners), []string{"ii", "jj"}; !cmp.Equal(got, want) {
		t.Errorf("got inner indices %v but want %v", got, want)
	}
	if got, want := names(s.Order()), []string{"i", "ii", "j", "jj"}; !cmp.Equal(got, want) {
		t.Errorf("got order %v but want %v", got, want)
	}
}

func TestReorderRejectsAndLeavesOrderUnchanged(t *testing.T) {
	d := newDomain(t, 16, 8)
	s := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	ii, err := s.Split(i, nest.Int(4))
	if err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	before := names(s.Order())

	tests := []struct {
		name string
		perm []*nest.Index
	}{
		{name: "childbeforeparent", perm: []*nest.Index{ii, i, j}},
		{name: "incomplete", perm: []*nest.Index{i, j}},
		{name: "duplicate", perm: []*nest.Index{i, i, j}},
	}
	for _, test := range tests {
		if err := s.Reorder(test.perm...); err == nil {
			t.Errorf("%s: expected a reorder rejection", test.name)
		}
		if got := names(s.Order()); !cmp.Equal(got, before) {
			t.Errorf("%s: rejection mutated the order: got %v but want %v", test.name, got, before)
		}
	}

	if err := s.Reorder(j, i, ii); err != nil {
		t.Fatalf("legal reorder rejected: %v", err)
	}
	if got, want := names(s.Order()), []string{"j", "i", "ii"}; !cmp.Equal(got, want) {
		t.Errorf("got order %v but want %v", got, want)
	}
}

func visitCoords(t *testing.T, s *nest.Schedule, indices ...*nest.Index) [][]int {
	t.Helper()
	var got [][]int
	err := s.Visit(func(_ *expr.Kernel, at func(expr.Iter) int) error {
		point := make([]int, len(indices))
		for d, ix := range indices {
			point[d] = at(ix.Iter())
		}
		got = append(got, point)
		return nil
	})
	if err != nil {
		t.Fatalf("cannot visit schedule: %v", err)
	}
	return got
}

func sortPoints(points [][]int) {
	sort.Slice(points, func(a, b int) bool {
		for d := range points[a] {
			if points[a][d] != points[b][d] {
				return points[a][d] < points[b][d]
			}
		}
		return false
	})
}

func TestSplitBijection(t *testing.T) {
	for _, size := range []int{1, 3, 4, 5, 16} {
		d := newDomain(t, 10)
		define(t, d, "body")
		s := d.CreateSchedule()
		i := d.Indices()[0]
		if _, err := s.Split(i, nest.Int(size)); err != nil {
			t.Fatalf("cannot split: %v", err)
		}
		got := visitCoords(t, s, i)
		sortPoints(got)
		var want [][]int
		for v := 0; v < 10; v++ {
			want = append(want, []int{v})
		}
		if !cmp.Equal(got, want) {
			t.Errorf("size %d: visited points are not a bijection onto [0, 10): %v", size, got)
		}
	}
}

func TestPadThenSplitSkipsPaddedPoints(t *testing.T) {
	d := newDomain(t, 10)
	define(t, d, "body")
	s := d.CreateSchedule()
	i := d.Indices()[0]
	if err := s.Pad(i, nest.Int(3)); err != nil {
		t.Fatalf("cannot pad: %v", err)
	}
	if _, err := s.Split(i, nest.Int(4)); err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	got := visitCoords(t, s, i)
	sortPoints(got)
	var want [][]int
	for v := 0; v < 10; v++ {
		want = append(want, []int{v})
	}
	if !cmp.Equal(got, want) {
		t.Errorf("padded visit is not a bijection onto the original range: %v", got)
	}
}

func TestPadRejectsDerivedIndex(t *testing.T) {
	d := newDomain(t, 10)
	define(t, d, "body")
	s := d.CreateSchedule()
	i := d.Indices()[0]
	ii, err := s.Split(i, nest.Int(2))
	if err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	if err := s.Pad(ii, nest.Int(1)); err == nil {
		t.Fatalf("expected a rejection padding the split-derived index %s", ii)
	}
	// The rejection must leave the schedule untouched: every logical
	// point is still visited exactly once.
	got := visitCoords(t, s, i)
	sortPoints(got)
	var want [][]int
	for v := 0; v < 10; v++ {
		want = append(want, []int{v})
	}
	if !cmp.Equal(got, want) {
		t.Errorf("visited points are not a bijection onto [0, 10): %v", got)
	}
}

func TestSkewSymmetry(t *testing.T) {
	d0 := newDomain(t, 4, 3)
	define(t, d0, "body")
	ref := d0.CreateSchedule()
	base := visitCoords(t, ref, d0.Indices()[0], d0.Indices()[1])
	sortPoints(base)

	for _, swap := range []bool{false, true} {
		d := newDomain(t, 4, 3)
		define(t, d, "body")
		s := d.CreateSchedule()
		i, j := d.Indices()[0], d.Indices()[1]
		skewed, other := i, j
		if swap {
			skewed, other = j, i
		}
		if err := s.Skew(skewed, other, nest.UnrollBelow(2)); err != nil {
			t.Fatalf("cannot skew: %v", err)
		}
		got := visitCoords(t, s, i, j)
		sortPoints(got)
		if !cmp.Equal(got, base) {
			t.Errorf("swap=%t: skewed visit differs from the unskewed nest:\n%s", swap, cmp.Diff(base, got))
		}
	}
}

func TestSkewErrors(t *testing.T) {
	d := newDomain(t, 4, 3)
	s := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	if err := s.Skew(i, i); err == nil {
		t.Errorf("expected an error skewing an index with itself")
	}
	ii, err := s.Split(i, nest.Int(2))
	if err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	if err := s.Skew(ii, j); err == nil {
		t.Errorf("expected an error skewing a derived index")
	}
	if err := s.Skew(j, i); err == nil {
		t.Errorf("expected an error skewing with a divided reference")
	}
}

func TestSealRejectsTransforms(t *testing.T) {
	d := newDomain(t, 8)
	s := d.CreateSchedule()
	s.Seal()
	if _, err := s.Split(d.Indices()[0], nest.Int(2)); err == nil {
		t.Errorf("expected an error splitting a sealed schedule")
	}
	if err := s.Reorder(d.Indices()[0]); err == nil {
		t.Errorf("expected an error reordering a sealed schedule")
	}
}
