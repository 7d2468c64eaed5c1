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
	"github.com/pkg/errors"
)

// Split divides an index into tiles of the given size and returns the new
// inner derived index. The split index becomes the outer index in place:
// its trip count is the tile count ceil(extent/size) and the final tile is
// partial when the extent does not divide evenly. The inner index is
// inserted immediately after the split index in the order.
//
// A symbolic size defers the positivity check to instantiation time.
func (s *Schedule) Split(ix *Index, size Size) (*Index, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	inner, err := s.split(ix, size)
	if err != nil {
		return nil, err
	}
	s.hist = append(s.hist, &splitOp{ix: ix, size: size, inner: inner})
	return inner, nil
}

func (s *Schedule) split(ix *Index, size Size) (*Index, error) {
	pos, err := s.Position(ix)
	if err != nil {
		return nil, errors.Errorf("cannot split: %s", err)
	}
	if n, ok := size.Concrete(); ok && n <= 0 {
		return nil, errors.Errorf("cannot split %s by %d: want a positive size", ix, n)
	}
	inner := &Index{
		name:   s.uniqueName(childName(ix)),
		parent: ix,
		factor: size,
	}
	s.order = append(s.order, nil)
	copy(s.order[pos+2:], s.order[pos+1:])
	s.order[pos+1] = inner
	preSplit := s.ext[ix]
	s.splitNum[inner] = preSplit
	s.ext[inner] = sizeExt{s: size}
	s.ext[ix] = ceilDivExt{num: preSplit, den: size}
	s.children[ix] = append(s.children[ix], inner)
	return inner, nil
}

// TilePair associates an index with its tile size.
type TilePair struct {
	Index *Index
	Size  Size
}

// Tile splits each index by its paired size, in pair order, and returns
// the inner indices in the same order. The whole tiling is validated
// before any split is applied.
func (s *Schedule) Tile(pairs ...TilePair) ([]*Index, error) {
	if err := s.checkMutable(); err != nil {
		return nil, err
	}
	for _, p := range pairs {
		if !s.has(p.Index) {
			return nil, errors.Errorf("cannot tile: index %s does not belong to this schedule", p.Index)
		}
		if n, ok := p.Size.Concrete(); ok && n <= 0 {
			return nil, errors.Errorf("cannot tile %s by %d: want a positive size", p.Index, n)
		}
	}
	inners := make([]*Index, len(pairs))
	for i, p := range pairs {
		inner, err := s.Split(p.Index, p.Size)
		if err != nil {
			return nil, err
		}
		inners[i] = inner
	}
	return inners, nil
}

// Pad shifts the logical range of an index to begin amount iterations
// earlier. A later split on the padded index yields a genuine partial
// tile at the front; iterations falling before the original domain start
// or beyond its end are no-op logical points. Only original dimensions
// accept padding; split-derived indices are rejected.
func (s *Schedule) Pad(ix *Index, amount Size) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.pad(ix, amount); err != nil {
		return err
	}
	s.hist = append(s.hist, &padOp{ix: ix, amount: amount})
	return nil
}

func (s *Schedule) pad(ix *Index, amount Size) error {
	if !s.has(ix) {
		return errors.Errorf("cannot pad: index %s does not belong to this schedule", ix)
	}
	if ix.IsSelector() {
		return errors.Errorf("cannot pad selector %s", ix)
	}
	// Padding a split-derived index would let adjacent outer iterations
	// compose onto overlapping logical values. Only original dimensions
	// can be padded; pad first, then split.
	if ix.parent != nil {
		return errors.Errorf("cannot pad %s: only an original dimension can be padded", ix)
	}
	if n, ok := amount.Concrete(); ok && n <= 0 {
		return errors.Errorf("cannot pad %s by %d: want a positive amount", ix, n)
	}
	s.ext[ix] = padExt{of: s.ext[ix], pad: amount}
	s.pads[ix] = append(s.pads[ix], amount)
	return nil
}

// SkewOption configures a skew.
type SkewOption func(*skewRec)

// UnrollBelow fully unrolls any skew-produced loop whose trip count falls
// below the threshold. This is a code-shape hint with no semantic effect.
func UnrollBelow(threshold int) SkewOption {
	return func(sk *skewRec) {
		sk.unrollBelow = threshold
	}
}

// Skew reshapes the iteration space spanned by ix and ref into a
// parallelogram: the effective range of ix is offset by the current value
// of ref, changing per-iteration trip counts while visiting the exact
// same set of logical coordinate pairs. Skewing ref with respect to ix is
// the symmetric transform.
//
// Both indices must still be undivided top-level indices of the schedule.
func (s *Schedule) Skew(ix, ref *Index, opts ...SkewOption) error {
	if err := s.checkMutable(); err != nil {
		return err
	}
	if err := s.skew(ix, ref, opts); err != nil {
		return err
	}
	s.hist = append(s.hist, &skewOp{ix: ix, ref: ref, opts: opts})
	return nil
}

func (s *Schedule) skew(ix, ref *Index, opts []SkewOption) error {
	if ix == ref {
		return errors.Errorf("cannot skew %s with respect to itself", ix)
	}
	for _, i := range []*Index{ix, ref} {
		if !s.has(i) {
			return errors.Errorf("cannot skew: index %s does not belong to this schedule", i)
		}
		if i.IsSelector() {
			return errors.Errorf("cannot skew selector %s", i)
		}
		if len(s.children[i]) > 0 || i.parent != nil {
			return errors.Errorf("cannot skew %s: skew requires undivided top-level indices", i)
		}
	}
	for _, sk := range s.skews {
		if sk.skewed == ix {
			return errors.Errorf("index %s is already skewed", ix)
		}
	}
	rec := skewRec{skewed: ix, ref: ref}
	for _, opt := range opts {
		opt(&rec)
	}
	s.ext[ix] = skewExt{a: s.ext[ix], b: s.ext[ref]}
	s.skews = append(s.skews, rec)
	return nil
}
