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
)

// Dimension is one axis of an iteration domain.
type Dimension struct {
	name      string
	extent    Size
	unbounded bool
}

// Name of the dimension.
func (d *Dimension) Name() string { return d.name }

// Extent of the dimension.
func (d *Dimension) Extent() Size { return d.extent }

// Unbounded returns true while the dimension extent is unresolved.
func (d *Dimension) Unbounded() bool { return d.unbounded }

type (
	// Index is a loop dimension in a schedule order. Indices are immutable:
	// transforms create new indices, never change existing ones.
	Index struct {
		name string
		// dim is set for an original index bound 1:1 to a domain dimension.
		dim *Dimension
		// parent and factor are set for an inner index derived by a split.
		parent *Index
		factor Size
		// sel is set for the synthetic selector of a fusion.
		sel *fusion
		// shared is set for a fused shared index.
		shared *sharedDim
		// alias is the iteration symbol kernels refer to. It differs from
		// the index itself only for instantiated copies of a parameterized
		// template, where kernels still reference the template indices.
		alias expr.Iter
	}

	// sharedDim records a shared index of a fusion: the per-branch source
	// indices fused at one dimension position.
	sharedDim struct {
		fus *fusion
		pos int
		of  []*Index
	}
)

var _ expr.Iter = (*Index)(nil)

// Name of the index.
func (ix *Index) Name() string { return ix.name }

// IterName implements expr.Iter so an index can be used inside array
// coordinates.
func (ix *Index) IterName() string { return ix.name }

// Iter returns the iteration symbol kernels use to refer to this index.
func (ix *Index) Iter() expr.Iter {
	if ix.alias != nil {
		return ix.alias
	}
	return ix
}

// Parent returns the index this index derives from, or nil for an
// original, shared or selector index.
func (ix *Index) Parent() *Index { return ix.parent }

// Factor returns the split size of a derived index.
func (ix *Index) Factor() Size { return ix.factor }

// Dim returns the domain dimension of an original index, nil otherwise.
func (ix *Index) Dim() *Dimension { return ix.dim }

// IsSelector returns true for the synthetic selector of a fusion.
func (ix *Index) IsSelector() bool { return ix.sel != nil }

// IsShared returns true for a shared index of a fusion.
func (ix *Index) IsShared() bool { return ix.shared != nil }

// root returns the index at the top of the parent chain.
func (ix *Index) root() *Index {
	r := ix
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// String representation of the index.
func (ix *Index) String() string { return ix.name }
