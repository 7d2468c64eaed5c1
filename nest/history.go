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

package nest

import (
	"github.com/gx-org/affine/param"
	"github.com/pkg/errors"
)

// refMap maps template indices to their instantiated copies.
type refMap struct {
	m map[*Index]*Index
}

func newRefMap() *refMap {
	return &refMap{m: map[*Index]*Index{}}
}

func (m *refMap) set(tpl, inst *Index) {
	m.m[tpl] = inst
}

func (m *refMap) of(tpl *Index) (*Index, error) {
	inst, ok := m.m[tpl]
	if !ok {
		return nil, errors.Errorf("index %s has no instantiated counterpart", tpl)
	}
	return inst, nil
}

func (m *refMap) slice(tpls []*Index) ([]*Index, error) {
	insts := make([]*Index, len(tpls))
	for i, tpl := range tpls {
		inst, err := m.of(tpl)
		if err != nil {
			return nil, err
		}
		insts[i] = inst
	}
	return insts, nil
}

// schedOp is a recorded schedule transform, replayed when a parameterized
// schedule is instantiated with concrete values.
type schedOp interface {
	replay(out *Schedule, sub *param.Subst, m *refMap) error
}

type reorderOp struct {
	perm []*Index
}

func (op *reorderOp) replay(out *Schedule, sub *param.Subst, m *refMap) error {
	perm, err := m.slice(op.perm)
	if err != nil {
		return err
	}
	return out.Reorder(perm...)
}

type reorderSymOp struct {
	p *param.Param
}

func (op *reorderSymOp) replay(out *Schedule, sub *param.Subst, m *refMap) error {
	v, ok := sub.Value(op.p)
	if !ok {
		return errors.Errorf("reorder parameter %s has no binding", op.p)
	}
	perm, ok := v.([]*Index)
	if !ok {
		return errors.Errorf("reorder parameter %s is bound to %T: want []*nest.Index", op.p, v)
	}
	mapped, err := m.slice(perm)
	if err != nil {
		return err
	}
	return out.Reorder(mapped...)
}

type splitOp struct {
	ix    *Index
	size  Size
	inner *Index
}

func (op *splitOp) replay(out *Schedule, sub *param.Subst, m *refMap) error {
	ix, err := m.of(op.ix)
	if err != nil {
		return err
	}
	size, err := op.size.resolve(sub)
	if err != nil {
		return err
	}
	inner, err := out.Split(ix, size)
	if err != nil {
		return err
	}
	m.set(op.inner, inner)
	return nil
}

type padOp struct {
	ix     *Index
	amount Size
}

func (op *padOp) replay(out *Schedule, sub *param.Subst, m *refMap) error {
	ix, err := m.of(op.ix)
	if err != nil {
		return err
	}
	amount, err := op.amount.resolve(sub)
	if err != nil {
		return err
	}
	return out.Pad(ix, amount)
}

type skewOp struct {
	ix, ref *Index
	opts    []SkewOption
}

func (op *skewOp) replay(out *Schedule, sub *param.Subst, m *refMap) error {
	ix, err := m.of(op.ix)
	if err != nil {
		return err
	}
	ref, err := m.of(op.ref)
	if err != nil {
		return err
	}
	return out.Skew(ix, ref, op.opts...)
}

// ReorderSym records a reorder whose permutation is a parameter bound to
// a []*Index of template indices. The reorder, and all of its legality
// checks, is deferred to instantiation time; the current order is left
// untouched until then.
func (s *Schedule) ReorderSym(p *param.Param) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	s.hist = append(s.hist, &reorderSymOp{p: p})
	return nil
}

// Instantiate produces a fresh concrete schedule by rebuilding the
// domain (or fusion) with substituted extents and replaying the recorded
// transform history with substituted arguments. Every structural check
// deferred by a symbolic argument is re-run; the result is identical to a
// schedule built directly from the concrete values.
func (s *Schedule) Instantiate(sub *param.Subst) (*Schedule, error) {
	return s.instantiate(sub, newRefMap())
}

func (s *Schedule) instantiate(sub *param.Subst, m *refMap) (*Schedule, error) {
	var out *Schedule
	if s.fus != nil {
		branches := make([]*Schedule, len(s.fus.branches))
		for b, branch := range s.fus.branches {
			inst, err := branch.instantiate(sub, m)
			if err != nil {
				return nil, err
			}
			branches[b] = inst
		}
		var err error
		out, err = Fuse(s.fus.nShared, branches...)
		if err != nil {
			return nil, err
		}
		m.set(s.fus.sel, out.fus.sel)
		for pos, sh := range s.fus.shared {
			m.set(sh, out.fus.shared[pos])
		}
	} else {
		dom, err := s.dom.instantiate(sub, m)
		if err != nil {
			return nil, err
		}
		out = dom.CreateSchedule()
	}
	for _, op := range s.hist {
		if err := op.replay(out, sub, m); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InstantiateMapped instantiates the schedule and also returns a lookup
// translating template indices into their instantiated counterparts.
// Plans replay their own recorded operations through this lookup.
func (s *Schedule) InstantiateMapped(sub *param.Subst) (*Schedule, func(*Index) (*Index, error), error) {
	m := newRefMap()
	out, err := s.instantiate(sub, m)
	if err != nil {
		return nil, nil, err
	}
	return out, m.of, nil
}
