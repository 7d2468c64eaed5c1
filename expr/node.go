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

type (
	// Node is a recorded scalar expression inside a kernel.
	Node interface {
		fmt.Stringer
		node()
	}

	// Ref is a reference to an array element. It reads the element when
	// used as an expression and designates it when used as an assignment
	// target.
	Ref struct {
		array  *Array
		coords []Coord
	}

	// Num is a numeric literal.
	Num struct {
		Value float64
	}

	// BinOp is a binary arithmetic operator.
	BinOp int

	// Binary is the application of a binary operator to two operands.
	Binary struct {
		Op   BinOp
		X, Y Node
	}
)

const (
	// AddOp adds two operands.
	AddOp BinOp = iota
	// SubOp subtracts the second operand from the first.
	SubOp
	// MulOp multiplies two operands.
	MulOp
	// DivOp divides the first operand by the second.
	DivOp
)

var binOpStrings = map[BinOp]string{
	AddOp: "+",
	SubOp: "-",
	MulOp: "*",
	DivOp: "/",
}

// String representation of the operator.
func (op BinOp) String() string {
	s, ok := binOpStrings[op]
	if !ok {
		return fmt.Sprintf("op(%d)", int(op))
	}
	return s
}

func (*Ref) node()    {}
func (*Num) node()    {}
func (*Binary) node() {}

// Array returns the array referenced by the element reference.
func (r *Ref) Array() *Array { return r.array }

// Coords returns the coordinate expressions of the element reference.
func (r *Ref) Coords() []Coord { return r.coords }

// String representation of the reference.
func (r *Ref) String() string {
	coords := make([]string, len(r.coords))
	for i, c := range r.coords {
		coords[i] = c.String()
	}
	return fmt.Sprintf("%s[%s]", r.array.Name(), strings.Join(coords, ","))
}

// String representation of the literal.
func (n *Num) String() string { return fmt.Sprint(n.Value) }

// String representation of the operation.
func (b *Binary) String() string {
	return fmt.Sprintf("(%s%s%s)", b.X, b.Op, b.Y)
}

// Lit returns a numeric literal node.
func Lit(v float64) Node { return &Num{Value: v} }

// Add returns the sum of two expressions.
func Add(x, y Node) Node { return &Binary{Op: AddOp, X: x, Y: y} }

// Sub returns the difference of two expressions.
func Sub(x, y Node) Node { return &Binary{Op: SubOp, X: x, Y: y} }

// Mul returns the product of two expressions.
func Mul(x, y Node) Node { return &Binary{Op: MulOp, X: x, Y: y} }

// Div returns the quotient of two expressions.
func Div(x, y Node) Node { return &Binary{Op: DivOp, X: x, Y: y} }
