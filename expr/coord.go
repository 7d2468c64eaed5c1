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

package expr

import (
	"fmt"
	"strings"
)

// Iter is an iteration symbol usable inside array coordinates.
// Loop indices created by the scheduling layer satisfy this interface.
type Iter interface {
	IterName() string
}

type coordTerm struct {
	it    Iter
	coeff int
}

// Coord is an affine coordinate expression over iteration symbols:
// a sum of scaled symbols plus a constant offset.
type Coord struct {
	terms  []coordTerm
	offset int
}

// Axis returns the coordinate expression for a single iteration symbol.
func Axis(it Iter) Coord {
	return Coord{terms: []coordTerm{{it: it, coeff: 1}}}
}

// ConstCoord returns a constant coordinate.
func ConstCoord(n int) Coord {
	return Coord{offset: n}
}

// Add returns the sum of two coordinate expressions.
func (c Coord) Add(o Coord) Coord {
	r := Coord{
		terms:  append(append([]coordTerm{}, c.terms...), o.terms...),
		offset: c.offset + o.offset,
	}
	return r
}

// AddConst returns the coordinate shifted by a constant.
func (c Coord) AddConst(n int) Coord {
	return Coord{terms: c.terms, offset: c.offset + n}
}

// Scale returns the coordinate with all symbols scaled by a factor.
func (c Coord) Scale(n int) Coord {
	terms := make([]coordTerm, len(c.terms))
	for i, t := range c.terms {
		terms[i] = coordTerm{it: t.it, coeff: t.coeff * n}
	}
	return Coord{terms: terms, offset: c.offset * n}
}

// Eval computes the coordinate value given the value of each symbol.
func (c Coord) Eval(at func(Iter) int) int {
	v := c.offset
	for _, t := range c.terms {
		v += t.coeff * at(t.it)
	}
	return v
}

// Iters returns the iteration symbols referenced by the coordinate.
func (c Coord) Iters() []Iter {
	its := make([]Iter, len(c.terms))
	for i, t := range c.terms {
		its[i] = t.it
	}
	return its
}

// String representation of the coordinate.
func (c Coord) String() string {
	var parts []string
	for _, t := range c.terms {
		if t.coeff == 1 {
			parts = append(parts, t.it.IterName())
			continue
		}
		parts = append(parts, fmt.Sprintf("%d*%s", t.coeff, t.it.IterName()))
	}
	if c.offset != 0 || len(parts) == 0 {
		parts = append(parts, fmt.Sprint(c.offset))
	}
	return strings.Join(parts, "+")
}
