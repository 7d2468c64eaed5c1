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

package interp

import (
	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/nest"
	"github.com/gx-org/affine/plan"
	"github.com/pkg/errors"
)

// Env binds kernel arrays to their buffers for one execution.
type Env struct {
	bufs map[*expr.Array]*Buffer
}

// NewEnv returns an empty execution environment.
func NewEnv() *Env {
	return &Env{bufs: map[*expr.Array]*Buffer{}}
}

// Bind associates an array with its buffer.
func (e *Env) Bind(b *Buffer) *Env {
	e.bufs[b.arr] = b
	return e
}

// Buffer returns the buffer bound to an array.
func (e *Env) Buffer(a *expr.Array) (*Buffer, error) {
	b, ok := e.bufs[a]
	if !ok {
		return nil, errors.Errorf("array %s has no bound buffer", a.Name())
	}
	return b, nil
}

func (e *Env) evalCoords(ref *expr.Ref, at func(expr.Iter) int) []int {
	coords := make([]int, len(ref.Coords()))
	for i, c := range ref.Coords() {
		coords[i] = c.Eval(at)
	}
	return coords
}

func (e *Env) evalNode(n expr.Node, at func(expr.Iter) int) (float64, error) {
	switch nT := n.(type) {
	case *expr.Num:
		return nT.Value, nil
	case *expr.Ref:
		b, err := e.Buffer(nT.Array())
		if err != nil {
			return 0, err
		}
		return b.At(e.evalCoords(nT, at)...)
	case *expr.Binary:
		x, err := e.evalNode(nT.X, at)
		if err != nil {
			return 0, err
		}
		y, err := e.evalNode(nT.Y, at)
		if err != nil {
			return 0, err
		}
		switch nT.Op {
		case expr.AddOp:
			return x + y, nil
		case expr.SubOp:
			return x - y, nil
		case expr.MulOp:
			return x * y, nil
		case expr.DivOp:
			return x / y, nil
		}
		return 0, errors.Errorf("unknown operator %s", nT.Op)
	}
	return 0, errors.Errorf("unknown expression node %T", n)
}

func (e *Env) execStmt(s expr.Stmt, at func(expr.Iter) int) error {
	v, err := e.evalNode(s.Value(), at)
	if err != nil {
		return err
	}
	dst := s.Target()
	b, err := e.Buffer(dst.Array())
	if err != nil {
		return err
	}
	coords := e.evalCoords(dst, at)
	switch op := expr.StmtOp(s); op {
	case "=":
	case "+=", "*=":
		cur, err := b.At(coords...)
		if err != nil {
			return err
		}
		if op == "+=" {
			v = cur + v
		} else {
			v = cur * v
		}
	default:
		return errors.Errorf("unknown assignment operator %s", op)
	}
	return b.Set(v, coords...)
}

// Run executes a concrete schedule over the environment, invoking each
// live logical point's kernel in schedule order.
func Run(s *nest.Schedule, env *Env) error {
	return s.Visit(func(k *expr.Kernel, at func(expr.Iter) int) error {
		for _, stmt := range k.Stmts() {
			if err := env.execStmt(stmt, at); err != nil {
				return errors.Errorf("kernel %s: %s", k.Name(), err)
			}
		}
		return nil
	})
}

// RunPlan executes a concrete plan. Caching and execution qualifiers are
// recorded intent with no observable effect on results, so execution
// follows the plan's schedule.
func RunPlan(p *plan.Plan, env *Env) error {
	return Run(p.Schedule(), env)
}
