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

// Package expr models opaque computation kernels attached to iteration
// domains: arrays, affine coordinate expressions over iteration symbols,
// and recorded arithmetic statements. The engine never interprets kernel
// semantics; it only replays statements once per live logical point and
// passes array read/write effects through to its collaborators.
package expr

import (
	"fmt"
	"strings"

	"github.com/gx-org/backend/shape"
	"github.com/pkg/errors"
)

// Layout is the physical dimension order of an array or cache.
type Layout int

const (
	// DeferredLayout leaves the physical layout unassigned until a cache
	// placement binds it. Only constant-role arrays may defer their layout.
	DeferredLayout Layout = iota
	// FirstMajor orders dimensions first-to-last (row-major for rank 2).
	FirstMajor
	// LastMajor orders dimensions last-to-first (column-major for rank 2).
	LastMajor
)

// String representation of the layout.
func (l Layout) String() string {
	switch l {
	case DeferredLayout:
		return "deferred"
	case FirstMajor:
		return "first_major"
	case LastMajor:
		return "last_major"
	}
	return fmt.Sprintf("layout(%d)", int(l))
}

// Role describes how a kernel argument array is used.
type Role int

const (
	// Input arrays are read-only.
	Input Role = iota
	// InputOutput arrays are read and written.
	InputOutput
	// Const arrays are read-only values baked into the built function.
	Const
	// Temp arrays are engine-internal scratch storage.
	Temp
)

// String representation of the role.
func (r Role) String() string {
	switch r {
	case Input:
		return "input"
	case InputOutput:
		return "input_output"
	case Const:
		return "const"
	case Temp:
		return "temp"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Unbounded marks the outermost axis of an array as unbounded.
// The axis must be resolved to a concrete extent before the kernel
// using the array is attached to a domain.
const Unbounded = -1

// Array is a multidimensional kernel argument. Arrays are identified by
// instance: two arrays with the same name are distinct operands.
type Array struct {
	name   string
	role   Role
	layout Layout
	sh     *shape.Shape
}

// NewArray returns a new array given its role, layout, element type and
// axis lengths. Only the outermost axis may be Unbounded, and only for
// input or input-output arrays. A deferred layout is only valid for
// constant-role arrays.
func NewArray(name string, role Role, layout Layout, sh *shape.Shape) (*Array, error) {
	if layout == DeferredLayout && role != Const {
		return nil, errors.Errorf("array %s: a deferred layout requires the %s role, got %s", name, Const, role)
	}
	for i, axis := range sh.AxisLengths {
		if axis == Unbounded {
			if i > 0 {
				return nil, errors.Errorf("array %s: axis %d is unbounded: only the outermost axis may be", name, i)
			}
			if role != Input && role != InputOutput {
				return nil, errors.Errorf("array %s: an unbounded axis requires an input or input-output role, got %s", name, role)
			}
			continue
		}
		if axis <= 0 {
			return nil, errors.Errorf("array %s: axis %d has length %d: want a positive length", name, i, axis)
		}
	}
	return &Array{name: name, role: role, layout: layout, sh: &shape.Shape{
		DType:       sh.DType,
		AxisLengths: append([]int{}, sh.AxisLengths...),
	}}, nil
}

// Name of the array.
func (a *Array) Name() string { return a.name }

// Role of the array.
func (a *Array) Role() Role { return a.role }

// Layout returns the array's physical layout.
// It is DeferredLayout until bound (see BindLayout).
func (a *Array) Layout() Layout { return a.layout }

// Shape of the array.
func (a *Array) Shape() *shape.Shape { return a.sh }

// Rank of the array.
func (a *Array) Rank() int { return len(a.sh.AxisLengths) }

// Unbounded returns true if the outermost axis has not been resolved yet.
func (a *Array) Unbounded() bool {
	return len(a.sh.AxisLengths) > 0 && a.sh.AxisLengths[0] == Unbounded
}

// ResolveUnbounded assigns a concrete extent to the unbounded outermost axis.
func (a *Array) ResolveUnbounded(extent int) error {
	if !a.Unbounded() {
		return errors.Errorf("array %s has no unbounded axis to resolve", a.name)
	}
	if extent <= 0 {
		return errors.Errorf("array %s: cannot resolve the unbounded axis to %d: want a positive extent", a.name, extent)
	}
	a.sh.AxisLengths[0] = extent
	return nil
}

// BindLayout assigns a concrete layout to a deferred-layout array.
// Binding twice, or binding an array built with a concrete layout,
// is a duplicate-binding error.
func (a *Array) BindLayout(layout Layout) error {
	if a.layout != DeferredLayout {
		return errors.Errorf("array %s already has a concrete %s layout", a.name, a.layout)
	}
	if layout == DeferredLayout {
		return errors.Errorf("array %s: cannot bind a deferred layout", a.name)
	}
	a.layout = layout
	return nil
}

// At returns a reference to the array element at the given coordinates.
// The reference reads when used as an expression and writes when used as
// an assignment target.
func (a *Array) At(coords ...Coord) *Ref {
	return &Ref{array: a, coords: coords}
}

// String representation of the array.
func (a *Array) String() string {
	axes := make([]string, len(a.sh.AxisLengths))
	for i, axis := range a.sh.AxisLengths {
		if axis == Unbounded {
			axes[i] = "?"
			continue
		}
		axes[i] = fmt.Sprint(axis)
	}
	return fmt.Sprintf("%s[%s]", a.name, strings.Join(axes, ","))
}
