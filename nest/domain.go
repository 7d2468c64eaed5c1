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

// Package nest builds symbolic iteration spaces over multidimensional
// arrays and schedules them: loop order, tiling, skewing, padding and
// fusion of several computations into one loop nest. A schedule is a
// purely structural description checked for legality at every transform;
// it never executes anything itself.
package nest

import (
	"fmt"

	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/param"
	"github.com/pkg/errors"
)

var dimNames = []string{"i", "j", "k", "l", "m", "n"}

func dimName(pos int) string {
	if pos < len(dimNames) {
		return dimNames[pos]
	}
	return fmt.Sprintf("d%d", pos)
}

// Domain is a Cartesian iteration space with one opaque kernel attached,
// invoked conceptually once per domain point. The kernel is expressed
// independently of loop order; schedules created from the domain decide
// how its points are visited.
type Domain struct {
	dims    []*Dimension
	indices []*Index
	kernel  *expr.Kernel
}

// NewDomain returns a domain given the extent of each dimension in
// declaration order. At most one extent may be Unbounded and only the
// outermost one.
func NewDomain(extents ...Size) (*Domain, error) {
	if len(extents) == 0 {
		return nil, errors.Errorf("cannot create a domain with no dimension")
	}
	d := &Domain{}
	for pos, ext := range extents {
		unbounded := ext.unbounded()
		if unbounded && pos > 0 {
			return nil, errors.Errorf("dimension %d is unbounded: only the outermost dimension may be", pos)
		}
		if n, ok := ext.Concrete(); ok && !unbounded && n <= 0 {
			return nil, errors.Errorf("dimension %d has extent %d: want a positive extent", pos, n)
		}
		dim := &Dimension{name: dimName(pos), extent: ext, unbounded: unbounded}
		d.dims = append(d.dims, dim)
		d.indices = append(d.indices, &Index{name: dim.name, dim: dim})
	}
	return d, nil
}

// Indices returns one index per dimension, in declaration order.
func (d *Domain) Indices() []*Index {
	return append([]*Index{}, d.indices...)
}

// Dimensions returns the domain dimensions in declaration order.
func (d *Domain) Dimensions() []*Dimension {
	return append([]*Dimension{}, d.dims...)
}

// Rank returns the number of dimensions.
func (d *Domain) Rank() int { return len(d.dims) }

// ResolveOuter assigns a concrete extent to the unbounded outermost
// dimension. It must be called before a kernel is attached.
func (d *Domain) ResolveOuter(extent int) error {
	dim := d.dims[0]
	if !dim.unbounded {
		return errors.Errorf("dimension %s is not unbounded", dim.name)
	}
	if extent <= 0 {
		return errors.Errorf("cannot resolve dimension %s to extent %d: want a positive extent", dim.name, extent)
	}
	dim.extent = Int(extent)
	dim.unbounded = false
	return nil
}

// Define attaches the kernel invoked once per domain point. A domain
// accepts exactly one kernel; any unbounded dimension and any unbounded
// kernel array must have been resolved beforehand.
func (d *Domain) Define(k *expr.Kernel) error {
	if d.kernel != nil {
		return errors.Errorf("domain already has kernel %s attached", d.kernel.Name())
	}
	if d.dims[0].unbounded {
		return errors.Errorf("cannot attach kernel %s: dimension %s is still unbounded", k.Name(), d.dims[0].name)
	}
	for _, a := range k.Arrays() {
		if a.Unbounded() {
			return errors.Errorf("cannot attach kernel %s: array %s is still unbounded", k.Name(), a.Name())
		}
	}
	d.kernel = k
	return nil
}

// Kernel returns the attached kernel, nil if none has been defined.
func (d *Domain) Kernel() *expr.Kernel { return d.kernel }

// CreateSchedule returns a schedule over the domain's natural
// (declaration) loop order.
func (d *Domain) CreateSchedule() *Schedule {
	return newSchedule(d)
}

// instantiate returns a concrete copy of the domain under a substitution,
// registering fresh indices in the reference map. Kernels keep referring
// to the template indices: fresh indices alias them.
func (d *Domain) instantiate(sub *param.Subst, m *refMap) (*Domain, error) {
	inst := &Domain{kernel: d.kernel}
	for pos, dim := range d.dims {
		if dim.unbounded {
			return nil, errors.Errorf("cannot instantiate: dimension %s is still unbounded", dim.name)
		}
		ext, err := dim.extent.resolve(sub)
		if err != nil {
			return nil, err
		}
		if n, _ := ext.Concrete(); n <= 0 {
			return nil, errors.Errorf("dimension %s has extent %d under %s: want a positive extent", dim.name, n, sub)
		}
		instDim := &Dimension{name: dim.name, extent: ext}
		inst.dims = append(inst.dims, instDim)
		ix := &Index{name: dim.name, dim: instDim, alias: d.indices[pos].Iter()}
		inst.indices = append(inst.indices, ix)
		m.set(d.indices[pos], ix)
	}
	return inst, nil
}
