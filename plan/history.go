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

package plan

import (
	"github.com/gx-org/affine/nest"
	"github.com/gx-org/affine/param"
	"github.com/pkg/errors"
)

// replayCtx carries everything an operation needs when a parameterized
// plan is instantiated: the substitution, the index translation from the
// schedule instantiation, and the cache handle translation built as cache
// operations replay.
type replayCtx struct {
	sub    *param.Subst
	ixOf   func(*nest.Index) (*nest.Index, error)
	caches map[*Cache]*Cache
}

func (ctx *replayCtx) indices(ixs []*nest.Index) ([]*nest.Index, error) {
	out := make([]*nest.Index, len(ixs))
	for i, ix := range ixs {
		inst, err := ctx.ixOf(ix)
		if err != nil {
			return nil, err
		}
		out[i] = inst
	}
	return out, nil
}

// resolveIndices resolves a parameter bound to *nest.Index or
// []*nest.Index into instantiated indices.
func (ctx *replayCtx) resolveIndices(pr *param.Param) ([]*nest.Index, error) {
	v, ok := ctx.sub.Value(pr)
	if !ok {
		return nil, errors.Errorf("parameter %s has no binding", pr)
	}
	switch vT := v.(type) {
	case *nest.Index:
		return ctx.indices([]*nest.Index{vT})
	case []*nest.Index:
		return ctx.indices(vT)
	}
	return nil, errors.Errorf("parameter %s is bound to %T: want *nest.Index or []*nest.Index", pr, v)
}

type planOp interface {
	replay(out *Plan, ctx *replayCtx) error
}

type unrollOp struct {
	ix *nest.Index
}

func (op *unrollOp) replay(out *Plan, ctx *replayCtx) error {
	ix, err := ctx.ixOf(op.ix)
	if err != nil {
		return err
	}
	return out.Unroll(ix)
}

type unrollSymOp struct {
	p *param.Param
}

func (op *unrollSymOp) replay(out *Plan, ctx *replayCtx) error {
	ixs, err := ctx.resolveIndices(op.p)
	if err != nil {
		return err
	}
	for _, ix := range ixs {
		if err := out.Unroll(ix); err != nil {
			return err
		}
	}
	return nil
}

type vectorizeOp struct {
	ix *nest.Index
}

func (op *vectorizeOp) replay(out *Plan, ctx *replayCtx) error {
	ix, err := ctx.ixOf(op.ix)
	if err != nil {
		return err
	}
	return out.Vectorize(ix)
}

type vectorizeSymOp struct {
	p *param.Param
}

func (op *vectorizeSymOp) replay(out *Plan, ctx *replayCtx) error {
	ixs, err := ctx.resolveIndices(op.p)
	if err != nil {
		return err
	}
	for _, ix := range ixs {
		if err := out.Vectorize(ix); err != nil {
			return err
		}
	}
	return nil
}

type parallelizeOp struct {
	indices []*nest.Index
	policy  Policy
}

func (op *parallelizeOp) replay(out *Plan, ctx *replayCtx) error {
	ixs, err := ctx.indices(op.indices)
	if err != nil {
		return err
	}
	return out.Parallelize(ixs, op.policy)
}

type parallelizeSymOp struct {
	indices *param.Param
	policy  *param.Param
}

func (op *parallelizeSymOp) replay(out *Plan, ctx *replayCtx) error {
	ixs, err := ctx.resolveIndices(op.indices)
	if err != nil {
		return err
	}
	policy := Static
	if op.policy != nil {
		v, ok := ctx.sub.Value(op.policy)
		if !ok {
			return errors.Errorf("policy parameter %s has no binding", op.policy)
		}
		policy, ok = v.(Policy)
		if !ok {
			return errors.Errorf("policy parameter %s is bound to %T: want plan.Policy", op.policy, v)
		}
	}
	return out.Parallelize(ixs, policy)
}

type bindOp struct {
	bindings []Binding
}

func (op *bindOp) replay(out *Plan, ctx *replayCtx) error {
	mapped := make([]Binding, len(op.bindings))
	for i, b := range op.bindings {
		ix, err := ctx.ixOf(b.Index)
		if err != nil {
			return err
		}
		mapped[i] = Binding{Unit: b.Unit, Index: ix}
	}
	return out.Bind(mapped...)
}

type cacheOp struct {
	src Source
	cfg *cacheConfig
	out *Cache
}

func (op *cacheOp) replay(out *Plan, ctx *replayCtx) error {
	src := op.src
	if srcCache, ok := src.(*Cache); ok {
		inst, ok := ctx.caches[srcCache]
		if !ok {
			return errors.Errorf("source cache has no instantiated counterpart")
		}
		src = inst
	}
	cfg := *op.cfg
	var err error
	if cfg.index != nil {
		if cfg.index, err = ctx.ixOf(cfg.index); err != nil {
			return err
		}
	}
	if cfg.trigIndex != nil {
		if cfg.trigIndex, err = ctx.ixOf(cfg.trigIndex); err != nil {
			return err
		}
	}
	if cfg.hasLevel {
		level, err := resolveSize(cfg.level, ctx.sub)
		if err != nil {
			return err
		}
		cfg.level = nest.Int(level)
	}
	if cfg.hasTrigLevel {
		level, err := resolveSize(cfg.trigLevel, ctx.sub)
		if err != nil {
			return err
		}
		cfg.trigLevel = nest.Int(level)
	}
	c, err := out.cache(src, &cfg, ctx.sub)
	if err != nil {
		return err
	}
	out.hist = append(out.hist, &cacheOp{src: src, cfg: &cfg, out: c})
	ctx.caches[op.out] = c
	return nil
}

type deferredLayoutOp struct {
	c *Cache
}

func (op *deferredLayoutOp) replay(out *Plan, ctx *replayCtx) error {
	c, ok := ctx.caches[op.c]
	if !ok {
		return errors.Errorf("cache has no instantiated counterpart")
	}
	// Arrays are shared between a template and its instances: the
	// binding recorded here may already have been applied to the array.
	if a := c.src.sourceArray(); a.Layout() == c.layout {
		out.hist = append(out.hist, &deferredLayoutOp{c: c})
		return nil
	}
	return out.DeferredLayout(c)
}

// Instantiate produces a fresh concrete plan under a substitution: the
// schedule is instantiated and the recorded plan operations replay with
// substituted arguments, re-running every deferred structural check. The
// result is identical to a plan built directly from the concrete values.
func (p *Plan) Instantiate(sub *param.Subst) (*Plan, error) {
	sched, ixOf, err := p.sched.InstantiateMapped(sub)
	if err != nil {
		return nil, err
	}
	out := New(sched, WithTarget(p.tgt))
	ctx := &replayCtx{sub: sub, ixOf: ixOf, caches: map[*Cache]*Cache{}}
	for _, op := range p.hist {
		if err := op.replay(out, ctx); err != nil {
			return nil, err
		}
	}
	return out, nil
}
