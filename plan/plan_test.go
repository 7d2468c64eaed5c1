package plan_test

import (
	"testing"

	"github.com/gx-org/affine/nest"
	"github.com/gx-org/affine/param"
	"github.com/gx-org/affine/plan"
	"github.com/gx-org/affine/target"
)

// testCPU has 4 lanes of float32.
func testCPU() *target.Target {
	return target.New("testcpu", target.CPU, 16, 8, 4)
}

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

func TestVectorizeLanes(t *testing.T) {
	tests := []struct {
		extent  int
		wantErr bool
	}{
		{extent: 2},
		{extent: 4},
		{extent: 5, wantErr: true},
	}
	for _, test := range tests {
		d := newDomain(t, 8, test.extent)
		p := plan.ForDomain(d, plan.WithTarget(testCPU()))
		err := p.Vectorize(d.Indices()[1])
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("vectorize extent %d: got error %v but want error=%t", test.extent, err, test.wantErr)
		}
	}
}

func TestParallelizeContiguity(t *testing.T) {
	d := newDomain(t, 16, 8, 4)
	s := d.CreateSchedule()
	i, j, k := d.Indices()[0], d.Indices()[1], d.Indices()[2]
	p := plan.New(s, plan.WithTarget(testCPU()))

	tests := []struct {
		name    string
		run     []*nest.Index
		wantErr bool
	}{
		{name: "single", run: []*nest.Index{i}},
		{name: "pair", run: []*nest.Index{i, j}},
		{name: "innerpair", run: []*nest.Index{j, k}},
		{name: "all", run: []*nest.Index{i, j, k}},
		{name: "gap", run: []*nest.Index{i, k}, wantErr: true},
		{name: "reversed", run: []*nest.Index{j, i}, wantErr: true},
		{name: "empty", run: nil, wantErr: true},
	}
	for _, test := range tests {
		err := p.Parallelize(test.run, plan.Static)
		if gotErr := err != nil; gotErr != test.wantErr {
			t.Errorf("%s: got error %v but want error=%t", test.name, err, test.wantErr)
		}
	}

	if err := p.Parallelize([]*nest.Index{i, j}, plan.Dynamic); err != nil {
		t.Fatalf("cannot parallelize: %v", err)
	}
	run, policy := p.Parallelized()
	if len(run) != 2 || run[0] != i || run[1] != j || policy != plan.Dynamic {
		t.Errorf("got parallel run (%v, %s) but want ([i j], dynamic)", run, policy)
	}
}

func TestUnrollUnknownIndex(t *testing.T) {
	a := newDomain(t, 8)
	b := newDomain(t, 8)
	p := plan.ForDomain(a)
	if err := p.Unroll(b.Indices()[0]); err == nil {
		t.Errorf("expected an error unrolling a foreign index")
	}
}

func TestKernelize(t *testing.T) {
	d := newDomain(t, 16, 8)
	s := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	jj, err := s.Split(j, nest.Int(4))
	if err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	p := plan.New(s, plan.WithTarget(testCPU()))
	if err := p.Kernelize([]*nest.Index{i, j}, []*nest.Index{jj}); err != nil {
		t.Fatalf("cannot kernelize: %v", err)
	}
	if got := p.Unrolled(); len(got) != 2 {
		t.Errorf("got %d unrolled indices but want 2", len(got))
	}
	if got := p.Vectorized(); len(got) != 1 || got[0] != jj {
		t.Errorf("got vectorized indices %v but want [jj]", got)
	}
}

func TestBind(t *testing.T) {
	d := newDomain(t, 32, 32, 8)
	s := d.CreateSchedule()
	i, j, k := d.Indices()[0], d.Indices()[1], d.Indices()[2]
	p := plan.New(s, plan.WithTarget(target.DefaultGPU()))
	err := p.Bind(
		plan.Binding{Unit: target.BlockX, Index: i},
		plan.Binding{Unit: target.ThreadX, Index: j},
	)
	if err != nil {
		t.Fatalf("cannot bind: %v", err)
	}
	if err := p.Bind(plan.Binding{Unit: target.BlockX, Index: k}); err == nil {
		t.Errorf("expected an error reusing a grid unit")
	}
	if err := p.Bind(plan.Binding{Unit: target.BlockY, Index: i}); err == nil {
		t.Errorf("expected an error reusing an index")
	}
	if got := p.Bindings(); len(got) != 2 {
		t.Errorf("got %d bindings but want 2", len(got))
	}

	cpu := plan.New(d.CreateSchedule(), plan.WithTarget(testCPU()))
	if err := cpu.Bind(plan.Binding{Unit: target.BlockX, Index: i}); err == nil {
		t.Errorf("expected an error binding a grid unit on a CPU target")
	}
}

func TestSealRejectsIntent(t *testing.T) {
	d := newDomain(t, 8)
	p := plan.ForDomain(d, plan.WithTarget(testCPU()))
	p.Seal()
	i := d.Indices()[0]
	if err := p.Unroll(i); err == nil {
		t.Errorf("expected an error unrolling on a sealed plan")
	}
	if !p.Schedule().Sealed() {
		t.Errorf("sealing the plan did not seal its schedule")
	}
}

func TestPlanInstantiate(t *testing.T) {
	sizeP := param.Named("s")
	d := newDomain(t, 16, 16)
	tplSched := d.CreateSchedule()
	i, j := d.Indices()[0], d.Indices()[1]
	jj, err := tplSched.Split(j, nest.Sym(sizeP))
	if err != nil {
		t.Fatalf("cannot split: %v", err)
	}
	tpl := plan.New(tplSched, plan.WithTarget(testCPU()))
	if err := tpl.Vectorize(jj); err != nil {
		t.Fatalf("cannot vectorize: %v", err)
	}
	if err := tpl.Parallelize([]*nest.Index{i}, plan.Dynamic); err != nil {
		t.Fatalf("cannot parallelize: %v", err)
	}

	inst, err := tpl.Instantiate(param.NewSubst().Bind(sizeP, 4))
	if err != nil {
		t.Fatalf("cannot instantiate: %v", err)
	}
	got := inst.Vectorized()
	if len(got) != 1 {
		t.Fatalf("got %d vectorized indices but want 1", len(got))
	}
	if n, err := inst.Schedule().TripCount(got[0]); err != nil || n != 4 {
		t.Errorf("got vectorized trip (%d, %v) but want (4, nil)", n, err)
	}
	run, policy := inst.Parallelized()
	if len(run) != 1 || policy != plan.Dynamic {
		t.Errorf("got parallel run (%v, %s) but want one dynamic index", run, policy)
	}

	// A lane overflow hidden behind the parameter surfaces at
	// instantiation.
	if _, err := tpl.Instantiate(param.NewSubst().Bind(sizeP, 8)); err == nil {
		t.Errorf("expected a lane overflow error at instantiation")
	}
}

func TestUnrollSym(t *testing.T) {
	ixP := param.Named("ix")
	d := newDomain(t, 8, 4)
	tplSched := d.CreateSchedule()
	j := d.Indices()[1]
	tpl := plan.New(tplSched, plan.WithTarget(testCPU()))
	if err := tpl.UnrollSym(ixP); err != nil {
		t.Fatalf("cannot record symbolic unroll: %v", err)
	}
	inst, err := tpl.Instantiate(param.NewSubst().Bind(ixP, j))
	if err != nil {
		t.Fatalf("cannot instantiate: %v", err)
	}
	if got := inst.Unrolled(); len(got) != 1 {
		t.Errorf("got %d unrolled indices but want 1", len(got))
	}
	if _, err := tpl.Instantiate(param.NewSubst()); err == nil {
		t.Errorf("expected an error instantiating without an index binding")
	}
}
