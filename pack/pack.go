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

// Package pack builds named, addressable function handles from plans and
// argument bindings. It runs the configuration checks the engine defers
// to build time: argument roles against how the kernels use each array,
// and layout bindings left deferred. Adding a plan seals it; re-adding
// the same plan under different parameter bindings is permitted and
// produces independent functions.
package pack

import (
	"fmt"
	"hash/fnv"

	"github.com/gx-org/affine/base/fmterr"
	"github.com/gx-org/affine/base/ordered"
	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/param"
	"github.com/gx-org/affine/plan"
	"github.com/pkg/errors"
)

// Function is an addressable built function: one concrete plan with its
// argument arrays, under one substitution when parameterized.
type Function struct {
	name string
	pl   *plan.Plan
	args []*expr.Array
	sub  *param.Subst
}

// Name of the function.
func (f *Function) Name() string { return f.name }

// Plan returns the concrete plan of the function.
func (f *Function) Plan() *plan.Plan { return f.pl }

// Args returns the argument arrays in declaration order.
func (f *Function) Args() []*expr.Array {
	return append([]*expr.Array{}, f.args...)
}

// Subst returns the substitution the function was instantiated with,
// nil when the plan was concrete.
func (f *Function) Subst() *param.Subst { return f.sub }

// Package is a registry of built functions.
type Package struct {
	name  string
	funcs *ordered.Map[string, *Function]
}

// NewPackage returns an empty package.
func NewPackage(name string) *Package {
	return &Package{name: name, funcs: ordered.NewMap[string, *Function]()}
}

// Name of the package.
func (p *Package) Name() string { return p.name }

// Function returns a built function by name.
func (p *Package) Function(name string) (*Function, bool) {
	return p.funcs.Load(name)
}

// Functions iterates over the built functions in addition order.
func (p *Package) Functions() func(func(*Function) bool) {
	return func(yield func(*Function) bool) {
		for _, f := range p.funcs.Iter() {
			if !yield(f) {
				return
			}
		}
	}
}

// addConfig collects Add options.
type addConfig struct {
	subs []*param.Subst
}

// AddOption configures an Add call.
type AddOption func(*addConfig)

// WithParams instantiates the plan once per substitution map, producing
// one function per map.
func WithParams(subs ...*param.Subst) AddOption {
	return func(cfg *addConfig) {
		cfg.subs = append(cfg.subs, subs...)
	}
}

// suffix derives a stable name suffix from a substitution.
func suffix(sub *param.Subst) string {
	h := fnv.New32a()
	h.Write([]byte(sub.String()))
	return fmt.Sprintf("%08x", h.Sum32())
}

// Add builds functions from a plan and its argument arrays. A plan with
// parameters requires WithParams; the plan is instantiated once per
// substitution and each function is named base_<suffix>. The template
// plan is sealed on success.
func (p *Package) Add(pl *plan.Plan, args []*expr.Array, base string, opts ...AddOption) ([]*Function, error) {
	cfg := &addConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	type build struct {
		name string
		sub  *param.Subst
	}
	var builds []build
	if len(cfg.subs) == 0 {
		builds = append(builds, build{name: base})
	}
	for _, sub := range cfg.subs {
		builds = append(builds, build{name: base + "_" + suffix(sub), sub: sub})
	}

	errs := &fmterr.Errors{}
	var fns []*Function
	for _, b := range builds {
		errs.Push(fmterr.PrefixWith("cannot build %s: ", b.name))
		fn := p.build(pl, args, b.name, b.sub, errs)
		errs.Pop()
		if fn != nil {
			fns = append(fns, fn)
		}
	}
	if err := errs.ToError(); err != nil {
		return nil, err
	}
	for _, fn := range fns {
		p.funcs.Store(fn.name, fn)
	}
	pl.Seal()
	return fns, nil
}

func (p *Package) build(pl *plan.Plan, args []*expr.Array, name string, sub *param.Subst, errs *fmterr.Errors) *Function {
	if _, taken := p.funcs.Load(name); taken {
		errs.Append(errors.Errorf("function %s is already defined in package %s", name, p.name))
		return nil
	}
	if sub == nil {
		sub = param.NewSubst()
	}
	inst, err := pl.Instantiate(sub)
	if err != nil {
		errs.Append(err)
		return nil
	}
	p.checkRoles(inst, args, errs)
	fn := &Function{name: name, pl: inst, args: append([]*expr.Array{}, args...)}
	if len(sub.Params()) > 0 {
		fn.sub = sub
	}
	return fn
}

// checkRoles validates argument roles against how the kernels actually
// use each array. These checks depend on the fully composed function and
// only run at build time.
func (p *Package) checkRoles(inst *plan.Plan, args []*expr.Array, errs *fmterr.Errors) {
	kernels := inst.Schedule().Kernels()
	if len(kernels) == 0 {
		errs.Append(errors.Errorf("plan has no kernel attached"))
		return
	}
	inArgs := map[*expr.Array]bool{}
	for _, a := range args {
		inArgs[a] = true
	}
	used := map[*expr.Array]bool{}
	written := map[*expr.Array]bool{}
	for _, k := range kernels {
		for _, a := range k.Arrays() {
			used[a] = true
		}
		for _, a := range k.Writes() {
			written[a] = true
		}
	}
	for a := range used {
		switch a.Role() {
		case expr.Input, expr.Const:
			if written[a] {
				errs.Append(errors.Errorf("array %s has role %s but the kernel writes it", a.Name(), a.Role()))
			}
		case expr.InputOutput:
			if !written[a] {
				errs.Append(errors.Errorf("array %s has role %s but the kernel never writes it", a.Name(), a.Role()))
			}
		}
		if a.Role() == expr.Input || a.Role() == expr.InputOutput {
			if !inArgs[a] {
				errs.Append(errors.Errorf("array %s is used by a kernel but missing from the arguments", a.Name()))
			}
		}
		if a.Layout() == expr.DeferredLayout {
			errs.Append(errors.Errorf("array %s still has a deferred layout: bind it with a cache placement", a.Name()))
		}
	}
	for _, a := range args {
		if !used[a] {
			errs.Append(errors.Errorf("argument %s is not used by any kernel", a.Name()))
		}
	}
}
