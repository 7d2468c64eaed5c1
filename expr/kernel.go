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

	"github.com/gx-org/affine/base/ordered"
)

type (
	// Stmt is a recorded kernel statement.
	Stmt interface {
		fmt.Stringer
		stmt()
		// Target returns the element reference written by the statement.
		Target() *Ref
		// Value returns the expression assigned to the target.
		Value() Node
	}

	assignStmt struct {
		op  string
		dst *Ref
		src Node
	}
)

func (*assignStmt) stmt() {}

// Target returns the written element reference.
func (s *assignStmt) Target() *Ref { return s.dst }

// Value returns the assigned expression.
func (s *assignStmt) Value() Node { return s.src }

// Op returns the assignment operator ("=", "+=" or "*=").
func (s *assignStmt) Op() string { return s.op }

// String representation of the statement.
func (s *assignStmt) String() string {
	return fmt.Sprintf("%s %s %s", s.dst, s.op, s.src)
}

// Assign records dst = src.
func Assign(dst *Ref, src Node) Stmt { return &assignStmt{op: "=", dst: dst, src: src} }

// AddAssign records dst += src. The target is both read and written.
func AddAssign(dst *Ref, src Node) Stmt { return &assignStmt{op: "+=", dst: dst, src: src} }

// MulAssign records dst *= src. The target is both read and written.
func MulAssign(dst *Ref, src Node) Stmt { return &assignStmt{op: "*=", dst: dst, src: src} }

// StmtOp returns the assignment operator of a statement.
func StmtOp(s Stmt) string {
	return s.(*assignStmt).op
}

// Kernel is an opaque unit of work invoked once per logical iteration.
// It is a recorded statement list, not an executable closure: the engine
// replays its statements in the order the schedule dictates and never
// interprets their arithmetic.
type Kernel struct {
	name  string
	stmts []Stmt
}

// NewKernel returns a kernel from an ordered statement list.
func NewKernel(name string, stmts ...Stmt) *Kernel {
	return &Kernel{name: name, stmts: stmts}
}

// Name of the kernel.
func (k *Kernel) Name() string { return k.name }

// Stmts returns the recorded statements in order.
func (k *Kernel) Stmts() []Stmt { return k.stmts }

func collect(m *ordered.Map[*Array, bool], n Node) {
	switch nT := n.(type) {
	case *Ref:
		m.Store(nT.array, true)
	case *Binary:
		collect(m, nT.X)
		collect(m, nT.Y)
	}
}

// Arrays returns all arrays referenced by the kernel, in first-use order.
func (k *Kernel) Arrays() []*Array {
	m := ordered.NewMap[*Array, bool]()
	for _, s := range k.stmts {
		m.Store(s.Target().array, true)
		collect(m, s.Value())
	}
	var arrays []*Array
	for a := range m.Keys() {
		arrays = append(arrays, a)
	}
	return arrays
}

// Writes returns the arrays written by the kernel, in first-write order.
func (k *Kernel) Writes() []*Array {
	m := ordered.NewMap[*Array, bool]()
	for _, s := range k.stmts {
		m.Store(s.Target().array, true)
	}
	var arrays []*Array
	for a := range m.Keys() {
		arrays = append(arrays, a)
	}
	return arrays
}

// Reads returns the arrays read by the kernel, in first-read order.
// A compound assignment reads its own target.
func (k *Kernel) Reads() []*Array {
	m := ordered.NewMap[*Array, bool]()
	for _, s := range k.stmts {
		if StmtOp(s) != "=" {
			m.Store(s.Target().array, true)
		}
		collect(m, s.Value())
	}
	var arrays []*Array
	for a := range m.Keys() {
		arrays = append(arrays, a)
	}
	return arrays
}

// Accesses returns every element reference of the kernel touching the
// given array, targets included.
func (k *Kernel) Accesses(a *Array) []*Ref {
	var refs []*Ref
	var walk func(n Node)
	walk = func(n Node) {
		switch nT := n.(type) {
		case *Ref:
			if nT.array == a {
				refs = append(refs, nT)
			}
		case *Binary:
			walk(nT.X)
			walk(nT.Y)
		}
	}
	for _, s := range k.stmts {
		if s.Target().array == a {
			refs = append(refs, s.Target())
		}
		walk(s.Value())
	}
	return refs
}

// String representation of the kernel.
func (k *Kernel) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kernel %s {\n", k.name)
	for _, s := range k.stmts {
		fmt.Fprintf(&b, "\t%s\n", s)
	}
	b.WriteString("}")
	return b.String()
}
