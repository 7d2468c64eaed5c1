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
	"github.com/gx-org/affine/expr"
	"github.com/pkg/errors"
)

// PointFunc receives one live logical point: the kernel to replay and the
// coordinate value of each iteration symbol in its scope.
type PointFunc func(k *expr.Kernel, at func(expr.Iter) int) error

// Visit walks the schedule's loop nest in order and calls visit once per
// live logical point, exactly as the transformed execution would. Points
// introduced by padding, partial tiles, skew boundaries or fused branches
// of smaller extent are no-ops and skipped. The schedule must be fully
// concrete and every domain reachable from it must have a kernel.
func (s *Schedule) Visit(visit PointFunc) error {
	if err := s.checkRunnable(); err != nil {
		return err
	}
	trips := make([]int, len(s.order))
	for pos, ix := range s.order {
		n, err := s.TripCount(ix)
		if err != nil {
			return err
		}
		trips[pos] = n
	}
	env := map[*Index]int{}
	var rec func(depth int) error
	rec = func(depth int) error {
		if depth == len(s.order) {
			return s.visitPoint(env, visit)
		}
		ix := s.order[depth]
		for v := 0; v < trips[depth]; v++ {
			env[ix] = v
			if err := rec(depth + 1); err != nil {
				return err
			}
		}
		return nil
	}
	return rec(0)
}

func (s *Schedule) checkRunnable() error {
	for _, ix := range s.order {
		if _, err := s.TripCount(ix); err != nil {
			return errors.Errorf("schedule is not concrete: %s", err)
		}
	}
	for _, op := range s.hist {
		if _, ok := op.(*reorderSymOp); ok {
			return errors.Errorf("schedule has a pending symbolic reorder: instantiate it first")
		}
	}
	if s.fus != nil {
		for _, branch := range s.fus.branches {
			if err := branch.checkRunnable(); err != nil {
				return err
			}
		}
		return nil
	}
	if s.dom.kernel == nil {
		return errors.Errorf("domain has no kernel attached")
	}
	return nil
}

// compose folds the raw loop values of an index and of the descendants
// split off it, at this schedule level, back into the index's logical
// value: value = (...(outer*f2+mid)*f1+inner) - front padding.
func (s *Schedule) compose(ix *Index, env map[*Index]int) (int, error) {
	v := env[ix]
	kids := s.children[ix]
	for i := len(kids) - 1; i >= 0; i-- {
		kid := kids[i]
		f, ok := kid.factor.Concrete()
		if !ok {
			return 0, errors.Errorf("split size of %s is not concrete", kid)
		}
		kv, err := s.compose(kid, env)
		if err != nil {
			return 0, err
		}
		v = v*f + kv
	}
	for _, pad := range s.pads[ix] {
		p, ok := pad.Concrete()
		if !ok {
			return 0, errors.Errorf("pad amount of %s is not concrete", ix)
		}
		v -= p
	}
	return v, nil
}

// rootValues computes the logical value of every root index of the
// schedule from the raw loop values, then applies the skews recorded at
// this level.
func (s *Schedule) rootValues(env map[*Index]int) (map[*Index]int, error) {
	vals := make(map[*Index]int, len(s.roots))
	for _, root := range s.roots {
		v, err := s.compose(root, env)
		if err != nil {
			return nil, err
		}
		vals[root] = v
	}
	for _, sk := range s.skews {
		vals[sk.skewed] -= vals[sk.ref]
	}
	return vals, nil
}

// visitPoint resolves one full assignment of raw loop values into a
// kernel invocation, recursing through fusion levels. It returns without
// visiting when the point is a logical no-op.
func (s *Schedule) visitPoint(env map[*Index]int, visit PointFunc) error {
	vals, err := s.rootValues(env)
	if err != nil {
		return err
	}
	if s.fus == nil {
		at := map[expr.Iter]int{}
		for pos, ix := range s.dom.indices {
			v := vals[ix]
			ext, _ := s.dom.dims[pos].extent.Concrete()
			if v < 0 || v >= ext {
				return nil
			}
			at[ix.Iter()] = v
		}
		return visit(s.dom.kernel, func(it expr.Iter) int { return at[it] })
	}
	b := vals[s.fus.sel]
	if b < 0 || b >= len(s.fus.branches) {
		return nil
	}
	for ix, br := range s.fus.unfused {
		if br != b && vals[ix] != 0 {
			return nil
		}
	}
	branch := s.fus.branches[b]
	branchEnv := make(map[*Index]int, len(branch.order))
	// A value beyond the branch's native range at any dimension makes the
	// whole arm a no-op for this branch: this is the automatic end-padding
	// of fused schedules with unequal extents.
	bind := func(src *Index, v int) (bool, error) {
		n, err := branch.TripCount(src)
		if err != nil {
			return false, err
		}
		if v < 0 || v >= n {
			return false, nil
		}
		branchEnv[src] = v
		return true, nil
	}
	for _, sh := range s.fus.shared {
		live, err := bind(sh.shared.of[b], vals[sh])
		if err != nil || !live {
			return err
		}
	}
	for ix, br := range s.fus.unfused {
		if br != b {
			continue
		}
		live, err := bind(ix, vals[ix])
		if err != nil || !live {
			return err
		}
	}
	return branch.visitPoint(branchEnv, visit)
}
