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

// Package param provides symbolic placeholders substitutable for concrete
// schedule and plan arguments. A parameterized structure defers its
// structural checks until a substitution map supplies concrete values.
package param

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Param is an opaque placeholder for a concrete value.
// Two parameters are equal only if they are the same instance.
type Param struct {
	name string
}

// Named returns a fresh parameter with a name used in error messages
// and string representations.
func Named(name string) *Param {
	return &Param{name: name}
}

// Create returns n fresh parameters named p0, p1, ...
func Create(n int) []*Param {
	ps := make([]*Param, n)
	for i := range ps {
		ps[i] = Named(fmt.Sprintf("p%d", i))
	}
	return ps
}

// Name of the parameter.
func (p *Param) Name() string { return p.name }

// String representation of the parameter.
func (p *Param) String() string { return p.name }

// Subst binds parameters to concrete values.
// Bindings keep their insertion order for deterministic rendering.
type Subst struct {
	keys   []*Param
	values map[*Param]any
}

// NewSubst returns an empty substitution map.
func NewSubst() *Subst {
	return &Subst{values: make(map[*Param]any)}
}

// Bind a parameter to a concrete value, overwriting a previous binding.
func (s *Subst) Bind(p *Param, v any) *Subst {
	if _, ok := s.values[p]; !ok {
		s.keys = append(s.keys, p)
	}
	s.values[p] = v
	return s
}

// Value returns the value bound to a parameter.
func (s *Subst) Value(p *Param) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[p]
	return v, ok
}

// Int returns the integer value bound to a parameter.
func (s *Subst) Int(p *Param) (int, error) {
	v, ok := s.Value(p)
	if !ok {
		return 0, errors.Errorf("parameter %s has no binding", p.Name())
	}
	n, ok := v.(int)
	if !ok {
		return 0, errors.Errorf("parameter %s is bound to %T: want int", p.Name(), v)
	}
	return n, nil
}

// Params returns the bound parameters in insertion order.
func (s *Subst) Params() []*Param {
	return s.keys
}

// String representation of the substitution map.
func (s *Subst) String() string {
	var b strings.Builder
	b.WriteString("{")
	for i, p := range s.keys {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%s=%v", p.Name(), s.values[p])
	}
	b.WriteString("}")
	return b.String()
}

// Axis pairs a parameter with its candidate values for grid expansion.
type Axis struct {
	Param  *Param
	Values []any
}

// Grid expands axes into the cross product of substitution maps,
// one map per combination. The order is lexicographic over the input
// lists: the last axis varies fastest.
func Grid(axes ...Axis) []*Subst {
	subs := []*Subst{NewSubst()}
	for _, axis := range axes {
		next := make([]*Subst, 0, len(subs)*len(axis.Values))
		for _, sub := range subs {
			for _, v := range axis.Values {
				n := NewSubst()
				for _, p := range sub.keys {
					n.Bind(p, sub.values[p])
				}
				n.Bind(axis.Param, v)
				next = append(next, n)
			}
		}
		subs = next
	}
	return subs
}
