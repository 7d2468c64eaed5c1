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

	"github.com/gx-org/affine/param"
	"github.com/pkg/errors"
)

const unboundedExtent = -1

// Size is a scalar schedule argument: a loop extent, a split size or a
// pad amount. It is either a concrete positive integer or a symbolic
// parameter resolved at instantiation time.
type Size struct {
	n int
	p *param.Param
}

// Unbounded is the extent placeholder for the outermost dimension of a
// domain. It must be resolved to a concrete extent before a kernel is
// attached (see Domain.ResolveOuter).
var Unbounded = Size{n: unboundedExtent}

// Int returns a concrete size.
func Int(n int) Size {
	return Size{n: n}
}

// Sym returns a size standing for a parameter.
func Sym(p *param.Param) Size {
	return Size{p: p}
}

// IsSym returns true if the size is a parameter placeholder.
func (s Size) IsSym() bool { return s.p != nil }

// Param returns the parameter backing a symbolic size.
func (s Size) Param() *param.Param { return s.p }

// Concrete returns the size value and true if the size is not symbolic.
func (s Size) Concrete() (int, bool) {
	if s.p != nil {
		return 0, false
	}
	return s.n, true
}

func (s Size) unbounded() bool {
	return s.p == nil && s.n == unboundedExtent
}

// resolve returns the concrete value of the size under a substitution.
func (s Size) resolve(sub *param.Subst) (Size, error) {
	if s.p == nil {
		return s, nil
	}
	n, err := sub.Int(s.p)
	if err != nil {
		return Size{}, err
	}
	return Int(n), nil
}

// String representation of the size.
func (s Size) String() string {
	if s.p != nil {
		return s.p.Name()
	}
	if s.n == unboundedExtent {
		return "?"
	}
	return fmt.Sprint(s.n)
}

type (
	// extent is a symbolic trip-count expression.
	extent interface {
		fmt.Stringer
		eval(sub *param.Subst) (int, error)
	}

	sizeExt struct {
		s Size
	}

	// ceilDivExt is the outer trip count of a split: ceil(num/den).
	ceilDivExt struct {
		num extent
		den Size
	}

	// padExt is a front-padded extent: of+pad.
	padExt struct {
		of  extent
		pad Size
	}

	// skewExt is the extent of a skewed index: i+j-1.
	skewExt struct {
		a, b extent
	}

	// maxExt is the per-dimension extent of a fused shared index.
	maxExt struct {
		of []extent
	}
)

func (e sizeExt) eval(sub *param.Subst) (int, error) {
	s, err := e.s.resolve(sub)
	if err != nil {
		return 0, err
	}
	n, _ := s.Concrete()
	if n <= 0 {
		return 0, errors.Errorf("extent %s resolves to %d: want a positive extent", e.s, n)
	}
	return n, nil
}

func (e sizeExt) String() string { return e.s.String() }

func (e ceilDivExt) eval(sub *param.Subst) (int, error) {
	num, err := e.num.eval(sub)
	if err != nil {
		return 0, err
	}
	den, err := e.den.resolve(sub)
	if err != nil {
		return 0, err
	}
	d, _ := den.Concrete()
	if d <= 0 {
		return 0, errors.Errorf("split size %s resolves to %d: want a positive size", e.den, d)
	}
	return (num + d - 1) / d, nil
}

func (e ceilDivExt) String() string {
	return fmt.Sprintf("ceil(%s/%s)", e.num, e.den)
}

func (e padExt) eval(sub *param.Subst) (int, error) {
	of, err := e.of.eval(sub)
	if err != nil {
		return 0, err
	}
	pad, err := e.pad.resolve(sub)
	if err != nil {
		return 0, err
	}
	p, _ := pad.Concrete()
	if p <= 0 {
		return 0, errors.Errorf("pad amount %s resolves to %d: want a positive amount", e.pad, p)
	}
	return of + p, nil
}

func (e padExt) String() string {
	return fmt.Sprintf("%s+%s", e.of, e.pad)
}

func (e skewExt) eval(sub *param.Subst) (int, error) {
	a, err := e.a.eval(sub)
	if err != nil {
		return 0, err
	}
	b, err := e.b.eval(sub)
	if err != nil {
		return 0, err
	}
	return a + b - 1, nil
}

func (e skewExt) String() string {
	return fmt.Sprintf("%s+%s-1", e.a, e.b)
}

func (e maxExt) eval(sub *param.Subst) (int, error) {
	m := 0
	for _, of := range e.of {
		n, err := of.eval(sub)
		if err != nil {
			return 0, err
		}
		if n > m {
			m = n
		}
	}
	return m, nil
}

func (e maxExt) String() string {
	s := "max("
	for i, of := range e.of {
		if i > 0 {
			s += ","
		}
		s += of.String()
	}
	return s + ")"
}
