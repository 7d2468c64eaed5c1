// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package plan augments a schedule with caching and execution intent:
// memory staging hierarchies, unrolling, vectorization, parallelization
// and accelerator grid bindings. A plan records and validates intent for
// a code generation collaborator; it executes nothing itself.
package plan

import (
	"fmt"
	"strings"

	"github.com/gx-org/affine/nest"
	"github.com/gx-org/affine/param"
	"github.com/gx-org/affine/target"
	"github.com/gx-org/backend/dtype"
	"github.com/pkg/errors"
)

// Policy selects the work distribution strategy of a parallelized run of
// indices.
type Policy int

const (
	// Static splits iterations evenly across workers ahead of time.
	Static Policy = iota
	// Dynamic hands iterations to workers as they become available.
	Dynamic
)

// String representation of the policy.
func (p Policy) String() string {
	switch p {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	}
	return fmt.Sprintf("policy(%d)", int(p))
}

type parallelSpec struct {
	indices []*nest.Index
	policy  Policy
}

// Plan is a caching and execution-qualifier layer over one schedule.
type Plan struct {
	sched *nest.Schedule
	tgt   *target.Target

	caches   []*Cache
	unrolls  []*nest.Index
	vects    []*nest.Index
	parallel *parallelSpec
	binds    []Binding

	hist   []planOp
	sealed bool
}

// Option configures a plan at creation.
type Option func(*Plan)

// WithTarget sets the capability record the plan validates against.
func WithTarget(t *target.Target) Option {
	return func(p *Plan) { p.tgt = t }
}

// New returns a plan over a schedule. Without options the plan validates
// against the host target.
func New(s *nest.Schedule, opts ...Option) *Plan {
	p := &Plan{sched: s, tgt: target.Host()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ForDomain returns a plan over the domain's natural loop order.
func ForDomain(d *nest.Domain, opts ...Option) *Plan {
	return New(d.CreateSchedule(), opts...)
}

// Schedule returns the underlying schedule.
func (p *Plan) Schedule() *nest.Schedule { return p.sched }

// Target returns the capability record the plan validates against.
func (p *Plan) Target() *target.Target { return p.tgt }

// Sealed returns true once the plan has been handed to a packaging
// collaborator.
func (p *Plan) Sealed() bool { return p.sealed }

// Seal marks the plan and its schedule read-only.
func (p *Plan) Seal() {
	p.sealed = true
	p.sched.Seal()
}

func (p *Plan) checkMutable() error {
	if p.sealed {
		return errors.Errorf("plan has been sealed and is read-only")
	}
	return nil
}

// Unrolled returns the indices marked for full unrolling.
func (p *Plan) Unrolled() []*nest.Index {
	return append([]*nest.Index{}, p.unrolls...)
}

// Vectorized returns the indices marked for SIMD execution.
func (p *Plan) Vectorized() []*nest.Index {
	return append([]*nest.Index{}, p.vects...)
}

// Parallelized returns the parallelized run of indices and its policy.
func (p *Plan) Parallelized() ([]*nest.Index, Policy) {
	if p.parallel == nil {
		return nil, Static
	}
	return append([]*nest.Index{}, p.parallel.indices...), p.parallel.policy
}

// Unroll marks an index for full unrolling. The index extent must be
// fully known; a parameterized extent defers the check to instantiation.
func (p *Plan) Unroll(ix *nest.Index) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	if err := p.unroll(ix); err != nil {
		return err
	}
	p.hist = append(p.hist, &unrollOp{ix: ix})
	return nil
}

func (p *Plan) unroll(ix *nest.Index) error {
	if _, err := p.sched.Position(ix); err != nil {
		return errors.Errorf("cannot unroll: %s", err)
	}
	// TripCount fails only on a parameterized extent, which defers the
	// known-extent requirement to instantiation.
	p.unrolls = append(p.unrolls, ix)
	return nil
}

// UnrollSym records an unroll whose index is a parameter bound to a
// *nest.Index or []*nest.Index at instantiation time.
func (p *Plan) UnrollSym(pr *param.Param) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	p.hist = append(p.hist, &unrollSymOp{p: pr})
	return nil
}

func (p *Plan) elemSize() int {
	size := 4
	for _, k := range p.sched.Kernels() {
		for _, a := range k.Arrays() {
			if s := dtype.Sizeof(a.Shape().DType); s > size {
				size = s
			}
		}
	}
	return size
}

// Vectorize marks an index for SIMD execution. The engine records the
// intent and validates that the index trip count fits the target's
// vector lanes; it does not lower anything to vector instructions.
func (p *Plan) Vectorize(ix *nest.Index) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	if err := p.vectorize(ix); err != nil {
		return err
	}
	p.hist = append(p.hist, &vectorizeOp{ix: ix})
	return nil
}

func (p *Plan) vectorize(ix *nest.Index) error {
	if _, err := p.sched.Position(ix); err != nil {
		return errors.Errorf("cannot vectorize: %s", err)
	}
	n, err := p.sched.TripCount(ix)
	if err != nil {
		// Parameterized extent: re-checked at instantiation.
		p.vects = append(p.vects, ix)
		return nil
	}
	lanes := p.tgt.VectorBytes() / p.elemSize()
	if lanes < 1 {
		lanes = 1
	}
	if n > lanes {
		return errors.Errorf("cannot vectorize %s: trip count %d exceeds the %d lanes of %s", ix, n, lanes, p.tgt.Name())
	}
	p.vects = append(p.vects, ix)
	return nil
}

// VectorizeSym records a vectorize whose index is a parameter bound at
// instantiation time.
func (p *Plan) VectorizeSym(pr *param.Param) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	p.hist = append(p.hist, &vectorizeSymOp{p: pr})
	return nil
}

// Kernelize applies Unroll to each unroll index and Vectorize to each
// vectorize index in one call. It is identical to the individual calls.
func (p *Plan) Kernelize(unroll, vectorize []*nest.Index) error {
	for _, ix := range unroll {
		if err := p.Unroll(ix); err != nil {
			return err
		}
	}
	for _, ix := range vectorize {
		if err := p.Vectorize(ix); err != nil {
			return err
		}
	}
	return nil
}

// Parallelize marks a contiguous outer-to-inner run of indices for
// parallel execution under the given policy. The selection is validated
// before any mutation; hazards carried across the parallel indices are
// the caller's responsibility, not detected here.
func (p *Plan) Parallelize(indices []*nest.Index, policy Policy) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	if err := p.parallelize(indices, policy); err != nil {
		return err
	}
	p.hist = append(p.hist, &parallelizeOp{indices: append([]*nest.Index{}, indices...), policy: policy})
	return nil
}

func (p *Plan) parallelize(indices []*nest.Index, policy Policy) error {
	if policy != Static && policy != Dynamic {
		return errors.Errorf("unknown parallelization policy %s", policy)
	}
	if len(indices) == 0 {
		return errors.Errorf("cannot parallelize an empty index run")
	}
	prev := -1
	for i, ix := range indices {
		pos, err := p.sched.Position(ix)
		if err != nil {
			return errors.Errorf("cannot parallelize: %s", err)
		}
		if i > 0 && pos != prev+1 {
			return errors.Errorf("cannot parallelize: %s at position %d does not follow %s at position %d: want a contiguous outer-to-inner run", ix, pos, indices[i-1], prev)
		}
		prev = pos
	}
	p.parallel = &parallelSpec{indices: append([]*nest.Index{}, indices...), policy: policy}
	return nil
}

// ParallelizeSym records a parallelize whose index run, policy or both
// are parameters bound at instantiation time.
func (p *Plan) ParallelizeSym(indices *param.Param, policy *param.Param) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	p.hist = append(p.hist, &parallelizeSymOp{indices: indices, policy: policy})
	return nil
}

// Binding associates a schedule index with a grid unit of an accelerator
// target.
type Binding struct {
	Unit  target.GridUnit
	Index *nest.Index
}

// Bind associates indices with grid units of the plan's target. The
// mapping is recorded for the code generation collaborator and validated
// for axis and index uniqueness only.
func (p *Plan) Bind(bindings ...Binding) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	if err := p.bind(bindings); err != nil {
		return err
	}
	p.hist = append(p.hist, &bindOp{bindings: append([]Binding{}, bindings...)})
	return nil
}

func (p *Plan) bind(bindings []Binding) error {
	seenUnit := map[target.GridUnit]bool{}
	seenIx := map[*nest.Index]bool{}
	for _, b := range p.binds {
		seenUnit[b.Unit] = true
		seenIx[b.Index] = true
	}
	for _, b := range bindings {
		if !p.tgt.HasGridUnit(b.Unit) {
			return errors.Errorf("cannot bind %s: target %s has no such grid unit", b.Unit, p.tgt.Name())
		}
		if _, err := p.sched.Position(b.Index); err != nil {
			return errors.Errorf("cannot bind %s: %s", b.Unit, err)
		}
		if seenUnit[b.Unit] {
			return errors.Errorf("grid unit %s is already bound", b.Unit)
		}
		if seenIx[b.Index] {
			return errors.Errorf("index %s is already bound to a grid unit", b.Index)
		}
		seenUnit[b.Unit] = true
		seenIx[b.Index] = true
	}
	p.binds = append(p.binds, bindings...)
	return nil
}

// Bindings returns the recorded grid bindings.
func (p *Plan) Bindings() []Binding {
	return append([]Binding{}, p.binds...)
}

// String renders the plan: its schedule followed by the recorded intent.
func (p *Plan) String() string {
	var b strings.Builder
	b.WriteString(p.sched.String())
	for _, ix := range p.unrolls {
		fmt.Fprintf(&b, "unroll %s\n", ix)
	}
	for _, ix := range p.vects {
		fmt.Fprintf(&b, "vectorize %s\n", ix)
	}
	if p.parallel != nil {
		names := make([]string, len(p.parallel.indices))
		for i, ix := range p.parallel.indices {
			names[i] = ix.Name()
		}
		fmt.Fprintf(&b, "parallelize %s policy=%s\n", strings.Join(names, ","), p.parallel.policy)
	}
	for _, bd := range p.binds {
		fmt.Fprintf(&b, "bind %s=%s\n", bd.Unit, bd.Index)
	}
	for _, c := range p.caches {
		fmt.Fprintf(&b, "%s\n", c)
	}
	return b.String()
}
