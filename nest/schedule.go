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
	"fmt"
	"strings"

	gxfmt "github.com/gx-org/affine/base/fmt"
	"github.com/gx-org/affine/expr"
	"github.com/pkg/errors"
)

type skewRec struct {
	skewed, ref *Index
	unrollBelow int
}

// Schedule is an ordered loop-nest view over one iteration domain or a
// fusion result. Its order, from outermost to innermost, is the
// authoritative definition of loop nesting. Transform operators validate
// atomically: a rejected operation leaves the schedule unchanged.
type Schedule struct {
	dom *Domain
	fus *fusion
	// fusions aggregates the schedule's own fusion and every fusion
	// reachable through its branches, for precedence checks.
	fusions []*fusion

	order []*Index
	// roots are the indices the schedule started with; later splits only
	// add descendants below them.
	roots []*Index

	ext      map[*Index]extent
	splitNum map[*Index]extent
	children map[*Index][]*Index
	pads     map[*Index][]Size
	skews    []skewRec
	names    map[string]bool

	hist   []schedOp
	sealed bool
}

func emptySchedule() *Schedule {
	return &Schedule{
		ext:      map[*Index]extent{},
		splitNum: map[*Index]extent{},
		children: map[*Index][]*Index{},
		pads:     map[*Index][]Size{},
		names:    map[string]bool{},
	}
}

func newSchedule(d *Domain) *Schedule {
	s := emptySchedule()
	s.dom = d
	for pos, ix := range d.indices {
		s.order = append(s.order, ix)
		s.roots = append(s.roots, ix)
		s.ext[ix] = sizeExt{s: d.dims[pos].extent}
		s.names[ix.name] = true
	}
	return s
}

// Domain returns the iteration domain of the schedule, nil for a fusion
// result.
func (s *Schedule) Domain() *Domain { return s.dom }

// Fused returns true if the schedule is a fusion result.
func (s *Schedule) Fused() bool { return s.fus != nil }

// Order returns the loop order, outermost first.
func (s *Schedule) Order() []*Index {
	return append([]*Index{}, s.order...)
}

// Position returns the nesting position of an index in the order
// (0 is outermost).
func (s *Schedule) Position(ix *Index) (int, error) {
	for pos, o := range s.order {
		if o == ix {
			return pos, nil
		}
	}
	return 0, errors.Errorf("index %s does not belong to this schedule", ix)
}

func (s *Schedule) has(ix *Index) bool {
	_, err := s.Position(ix)
	return err == nil
}

// Sealed returns true once the schedule has been handed to a packaging
// collaborator; further transforms are rejected.
func (s *Schedule) Sealed() bool { return s.sealed }

// Seal marks the schedule read-only.
func (s *Schedule) Seal() {
	s.sealed = true
}

func (s *Schedule) checkMutable() error {
	if s.sealed {
		return errors.Errorf("schedule has been sealed and is read-only")
	}
	return nil
}

// TripCount returns the concrete trip count of an index. It errors if
// an extent along the index depends on an unbound parameter.
func (s *Schedule) TripCount(ix *Index) (int, error) {
	ext, ok := s.ext[ix]
	if !ok {
		return 0, errors.Errorf("index %s does not belong to this schedule", ix)
	}
	return ext.eval(nil)
}

// TailCount returns the trip count of the final iteration of a derived
// index: the split remainder when the parent extent does not divide
// evenly, the full split size otherwise. If the split size exceeded the
// parent extent, the single iteration is clipped to the parent extent.
func (s *Schedule) TailCount(ix *Index) (int, error) {
	num, ok := s.splitNum[ix]
	if !ok {
		return 0, errors.Errorf("index %s is not a derived index of this schedule", ix)
	}
	n, err := num.eval(nil)
	if err != nil {
		return 0, err
	}
	size, err := (sizeExt{s: ix.factor}).eval(nil)
	if err != nil {
		return 0, err
	}
	if n < size {
		return n, nil
	}
	if rem := n % size; rem != 0 {
		return rem, nil
	}
	return size, nil
}

// Selector returns the fuse-selector index, nil if the schedule is not a
// fusion result.
func (s *Schedule) Selector() *Index {
	if s.fus == nil {
		return nil
	}
	return s.fus.sel
}

// SharedIndices returns the shared indices of a fusion result, in
// dimension order.
func (s *Schedule) SharedIndices() []*Index {
	if s.fus == nil {
		return nil
	}
	return append([]*Index{}, s.fus.shared...)
}

// BranchOf returns the originating branch of an unfused index carried
// through a fusion.
func (s *Schedule) BranchOf(ix *Index) (int, bool) {
	if s.fus == nil {
		return 0, false
	}
	b, ok := s.fus.unfused[ix]
	return b, ok
}

// Kernels returns the kernels of every domain reachable through the
// schedule, branch order first.
func (s *Schedule) Kernels() []*expr.Kernel {
	if s.fus == nil {
		if s.dom.kernel == nil {
			return nil
		}
		return []*expr.Kernel{s.dom.kernel}
	}
	var ks []*expr.Kernel
	for _, b := range s.fus.branches {
		ks = append(ks, b.Kernels()...)
	}
	return ks
}

// RootIter returns the iteration symbol an index ultimately composes
// into: the domain index at the top of its parent chain, resolved through
// fused shared indices using their first branch. Selector indices have no
// root symbol.
func (s *Schedule) RootIter(ix *Index) expr.Iter {
	r := ix.root()
	switch {
	case r.dim != nil:
		return r.Iter()
	case r.shared != nil:
		return r.shared.fus.branches[0].RootIter(r.shared.of[0])
	}
	if s.fus != nil {
		if b, ok := s.fus.unfused[r]; ok {
			return s.fus.branches[b].RootIter(r)
		}
	}
	return nil
}

// uniqueName registers a name, appending a numeric suffix on collision.
func (s *Schedule) uniqueName(base string) string {
	name := base
	for n := 2; s.names[name]; n++ {
		name = fmt.Sprintf("%s_%d", base, n)
	}
	s.names[name] = true
	return name
}

func childName(parent *Index) string {
	return parent.name + string([]rune(parent.name)[0:1])
}

// checkOrder verifies the precedence invariants of a candidate order:
// a derived index never precedes its parent and an unfused index never
// precedes its fusion's selector.
func (s *Schedule) checkOrder(order []*Index) error {
	pos := make(map[*Index]int, len(order))
	for p, ix := range order {
		pos[ix] = p
	}
	// A branch index fused into a shared index is represented by that
	// shared index in the fused order.
	repr := map[*Index]*Index{}
	for _, fus := range s.fusions {
		for _, sh := range fus.shared {
			for _, src := range sh.shared.of {
				repr[src] = sh
			}
		}
	}
	for _, ix := range order {
		if ix.parent == nil {
			continue
		}
		parent := ix.parent
		for repr[parent] != nil {
			parent = repr[parent]
		}
		pp, ok := pos[parent]
		if !ok {
			// The parent is internal to a sealed branch: the branch's own
			// order already fixed its nesting.
			continue
		}
		if pp > pos[ix] {
			return errors.Errorf("derived index %s cannot precede its parent %s", ix, parent)
		}
	}
	for _, fus := range s.fusions {
		fp, ok := pos[fus.sel]
		if !ok {
			continue
		}
		for ix := range fus.unfused {
			up, ok := pos[ix]
			if !ok {
				continue
			}
			if up < fp {
				return errors.Errorf("unfused index %s cannot precede selector %s: it has no meaning outside its branch", ix, fus.sel)
			}
		}
	}
	return nil
}

// Reorder replaces the loop order with perm, a permutation of the current
// index set. The whole reorder either succeeds or leaves the order
// unchanged.
func (s *Schedule) Reorder(perm ...*Index) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.reorder(perm); err != nil {
		return err
	}
	s.hist = append(s.hist, &reorderOp{perm: append([]*Index{}, perm...)})
	return nil
}

func (s *Schedule) reorder(perm []*Index) error {
	if len(perm) != len(s.order) {
		return errors.Errorf("permutation has %d indices but the schedule has %d", len(perm), len(s.order))
	}
	seen := make(map[*Index]bool, len(perm))
	for _, ix := range perm {
		if !s.has(ix) {
			return errors.Errorf("index %s does not belong to this schedule", ix)
		}
		if seen[ix] {
			return errors.Errorf("index %s appears twice in the permutation", ix)
		}
		seen[ix] = true
	}
	if err := s.checkOrder(perm); err != nil {
		return err
	}
	s.order = append(s.order[:0:0], perm...)
	return nil
}

// String renders the loop nest: one line per index with its trip-count
// expression and its annotations.
func (s *Schedule) String() string {
	return s.render(0)
}

func (s *Schedule) render(depth int) string {
	if depth == len(s.order) {
		return ""
	}
	ix := s.order[depth]
	var b strings.Builder
	fmt.Fprintf(&b, "for %s in [0, %s)", ix.name, s.ext[ix])
	for _, tag := range s.tags(ix) {
		b.WriteString(" " + tag)
	}
	b.WriteString("\n")
	b.WriteString(gxfmt.Indent(s.render(depth + 1)))
	return b.String()
}

func (s *Schedule) tags(ix *Index) []string {
	var tags []string
	if ix.IsSelector() {
		tags = append(tags, "selector")
	}
	if ix.IsShared() {
		tags = append(tags, "shared")
	}
	if s.fus != nil {
		if br, ok := s.fus.unfused[ix]; ok {
			tags = append(tags, fmt.Sprintf("branch=%d", br))
		}
	}
	for _, p := range s.pads[ix] {
		tags = append(tags, fmt.Sprintf("pad=%s", p))
	}
	for _, sk := range s.skews {
		if sk.skewed == ix {
			tag := fmt.Sprintf("skew(%s)", sk.ref)
			if sk.unrollBelow > 0 {
				tag += fmt.Sprintf(" unroll_below=%d", sk.unrollBelow)
			}
			tags = append(tags, tag)
		}
	}
	return tags
}

// SkewHint describes a recorded skew: the reshaped index, its reference
// index and the full-unroll threshold for short residual loops (0 when
// unset).
type SkewHint struct {
	Skewed, Ref *Index
	UnrollBelow int
}

// Skews returns the skew hints recorded at this schedule level.
func (s *Schedule) Skews() []SkewHint {
	var out []SkewHint
	for _, sk := range s.skews {
		out = append(out, SkewHint{Skewed: sk.skewed, Ref: sk.ref, UnrollBelow: sk.unrollBelow})
	}
	return out
}
