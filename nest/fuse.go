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
	"github.com/gx-org/affine/base/iter"
	"github.com/pkg/errors"
)

// fusion records how several schedules were combined into one.
type fusion struct {
	branches []*Schedule
	nShared  int
	// sel is the synthetic selector index choosing which branch's kernel
	// executes at each shared coordinate.
	sel *Index
	// shared holds one index per fused dimension position.
	shared []*Index
	// unfused tags the indices carried through from each branch.
	unfused map[*Index]int
}

// Fuse combines schedules into one. The first shared dimensions of every
// input, by position in its current order, become the shared indices of
// the result; the remaining indices of each input are carried through,
// renamed on a name collision with an earlier branch, and tagged with
// their originating branch. A synthetic selector
// index, positioned first, chooses which branch executes at each shared
// coordinate.
//
// Shared dimensions of unequal extent adopt the maximum: a branch whose
// native extent is smaller silently skips coordinates beyond it. With
// shared = 0 fusion is a pure concatenation under the selector. A fusion
// result may itself be fused again; its selector and shared indices then
// count as ordinary dimensions of that branch.
//
// Fusing seals the input schedules: they keep describing their branch and
// must not be transformed independently afterwards.
func Fuse(shared int, schedules ...*Schedule) (*Schedule, error) {
	if len(schedules) < 2 {
		return nil, errors.Errorf("fusion requires at least two schedules, got %d", len(schedules))
	}
	if shared < 0 {
		return nil, errors.Errorf("shared dimension count %d: want a non-negative count", shared)
	}
	for b, branch := range schedules {
		if len(branch.order) < shared {
			return nil, errors.Errorf("cannot share %d dimensions: schedule %d has rank %d", shared, b, len(branch.order))
		}
		for other := b + 1; other < len(schedules); other++ {
			if schedules[other] == branch {
				return nil, errors.Errorf("schedule %d and %d are the same schedule", b, other)
			}
		}
	}

	s := emptySchedule()
	fus := &fusion{
		branches: append([]*Schedule{}, schedules...),
		nShared:  shared,
		unfused:  map[*Index]int{},
	}
	s.fus = fus
	s.fusions = append(s.fusions, fus)
	for _, branch := range schedules {
		branch.Seal()
		s.fusions = append(s.fusions, branch.fusions...)
	}

	fus.sel = &Index{name: s.uniqueName("f"), sel: fus}
	s.order = append(s.order, fus.sel)
	s.ext[fus.sel] = sizeExt{s: Int(len(schedules))}

	for pos := 0; pos < shared; pos++ {
		dim := &sharedDim{fus: fus, pos: pos}
		exts := make([]extent, len(schedules))
		for b, branch := range schedules {
			src := branch.order[pos]
			dim.of = append(dim.of, src)
			exts[b] = branch.ext[src]
		}
		ix := &Index{name: s.uniqueName(schedules[0].order[pos].name), shared: dim}
		fus.shared = append(fus.shared, ix)
		s.order = append(s.order, ix)
		s.ext[ix] = maxExt{of: exts}
	}

	for b, branch := range schedules {
		for _, ix := range branch.order[shared:] {
			fus.unfused[ix] = b
			s.order = append(s.order, ix)
			s.ext[ix] = branch.ext[ix]
			// Sibling branches may carry indices of the same name. The
			// rename is visible through the sealed branch as well: the
			// index object is shared with it.
			ix.name = s.uniqueName(ix.name)
		}
	}
	s.roots = append(s.roots, s.order...)
	return s, nil
}

// FuseAll fuses schedules sharing as many leading dimensions as the
// smallest rank among them allows.
func FuseAll(schedules ...*Schedule) (*Schedule, error) {
	if len(schedules) < 2 {
		return nil, errors.Errorf("fusion requires at least two schedules, got %d", len(schedules))
	}
	shared := len(schedules[0].order)
	for _, s := range schedules[1:] {
		if len(s.order) < shared {
			shared = len(s.order)
		}
	}
	return Fuse(shared, schedules...)
}

// UnfusedIndices returns the indices carried through the fusion from the
// given branch, in order.
func (s *Schedule) UnfusedIndices(branch int) []*Index {
	if s.fus == nil {
		return nil
	}
	var out []*Index
	for ix := range iter.Filter(func(ix *Index) bool {
		b, ok := s.fus.unfused[ix]
		return ok && b == branch
	}, s.order) {
		out = append(out, ix)
	}
	return out
}
