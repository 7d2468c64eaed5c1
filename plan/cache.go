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
	"fmt"

	"github.com/gx-org/affine/expr"
	"github.com/gx-org/affine/nest"
	"github.com/gx-org/affine/param"
	"github.com/pkg/errors"
)

// Source is what a cache stages: a kernel array or another cache.
// Caches of caches form a hierarchy, kept as an arena of records on the
// plan and referenced by handle so ownership stays acyclic.
type Source interface {
	sourceArray() *expr.Array
}

// arraySource adapts a kernel array into a cache source.
type arraySource struct {
	a *expr.Array
}

func (s arraySource) sourceArray() *expr.Array { return s.a }

// Of returns the cache source for a kernel array.
func Of(a *expr.Array) Source { return arraySource{a: a} }

// Cache is a staged copy of a source at a position of the loop nest.
type Cache struct {
	plan *Plan
	id   int
	src  Source

	index   *nest.Index
	level   int
	trigger *nest.Index
	layout  expr.Layout
	thrifty bool
	maxElem int
	elided  bool
}

func (c *Cache) sourceArray() *expr.Array { return c.src.sourceArray() }

// Source returns what the cache stages.
func (c *Cache) Source() Source { return c.src }

// Index returns the placement index, nil when a budget placement found no
// fitting position.
func (c *Cache) Index() *nest.Index { return c.index }

// Level returns the placement nesting level (0 is innermost), -1 when
// unplaced.
func (c *Cache) Level() int { return c.level }

// Trigger returns the index at which the cache is refilled; it is the
// placement index when no distinct trigger was requested.
func (c *Cache) Trigger() *nest.Index { return c.trigger }

// Layout returns the resolved cache layout.
func (c *Cache) Layout() expr.Layout { return c.layout }

// Elided returns true when thrifty mode decided the cache is a
// transparent forward to its source rather than a materialized copy.
func (c *Cache) Elided() bool { return c.elided }

// String representation of the cache placement.
func (c *Cache) String() string {
	at := "none"
	if c.index != nil {
		at = fmt.Sprintf("%s(level=%d)", c.index, c.level)
	}
	s := fmt.Sprintf("cache %s at %s layout=%s", c.src.sourceArray().Name(), at, c.layout)
	if c.trigger != nil && c.trigger != c.index {
		s += fmt.Sprintf(" trigger=%s", c.trigger)
	}
	if c.elided {
		s += " elided"
	}
	return s
}

type cacheConfig struct {
	index        *nest.Index
	level        nest.Size
	hasLevel     bool
	trigIndex    *nest.Index
	trigLevel    nest.Size
	hasTrigLevel bool
	layout       expr.Layout
	hasLayout    bool
	thrifty      bool
	maxElem      int
}

// CacheOption configures a cache placement.
type CacheOption func(*cacheConfig)

// AtIndex places the cache at a schedule index.
func AtIndex(ix *nest.Index) CacheOption {
	return func(c *cacheConfig) { c.index = ix }
}

// AtLevel places the cache at a nesting level, 0 being innermost.
func AtLevel(level nest.Size) CacheOption {
	return func(c *cacheConfig) {
		c.level = level
		c.hasLevel = true
	}
}

// TriggerIndex refills the cache at a schedule index at or outer of the
// placement.
func TriggerIndex(ix *nest.Index) CacheOption {
	return func(c *cacheConfig) { c.trigIndex = ix }
}

// TriggerLevel refills the cache at a nesting level at or outer of the
// placement.
func TriggerLevel(level nest.Size) CacheOption {
	return func(c *cacheConfig) {
		c.trigLevel = level
		c.hasTrigLevel = true
	}
}

// Layout requests a cache layout. Without this option the cache is laid
// out first-major.
func Layout(l expr.Layout) CacheOption {
	return func(c *cacheConfig) {
		c.layout = l
		c.hasLayout = true
	}
}

// Thrifty elides the cache when copying would reproduce the source
// layout for the cached footprint.
func Thrifty() CacheOption {
	return func(c *cacheConfig) { c.thrifty = true }
}

// MaxElements places the cache at the outermost position whose footprint
// fits the element budget, when no index or level is given.
func MaxElements(n int) CacheOption {
	return func(c *cacheConfig) { c.maxElem = n }
}

// Cache stages a source at a position of the loop nest and returns its
// handle. Exactly one of AtIndex/AtLevel may be given; with neither, a
// MaxElements budget auto-selects the placement. A cache source builds a
// cache hierarchy whose trigger levels must be monotonically outer from
// the innermost cache out.
//
// Placing a cache seals the plan's schedule: levels and triggers are
// positions in its loop order and a later transform would invalidate
// them.
func (p *Plan) Cache(src Source, opts ...CacheOption) (*Cache, error) {
	if err := p.checkMutable(); err != nil {
		return nil, err
	}
	cfg := &cacheConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	c, err := p.cache(src, cfg, nil)
	if err != nil {
		return nil, err
	}
	p.hist = append(p.hist, &cacheOp{src: src, cfg: cfg, out: c})
	return c, nil
}

func (p *Plan) cache(src Source, cfg *cacheConfig, sub *param.Subst) (*Cache, error) {
	if src == nil {
		return nil, errors.Errorf("cache requires a source")
	}
	if srcCache, ok := src.(*Cache); ok && srcCache.plan != p {
		return nil, errors.Errorf("source cache belongs to a different plan")
	}
	if cfg.index != nil && cfg.hasLevel {
		return nil, errors.Errorf("cache placement given both an index and a level: want exactly one")
	}
	if cfg.trigIndex != nil && cfg.hasTrigLevel {
		return nil, errors.Errorf("cache trigger given both an index and a level: want exactly one")
	}
	order := p.sched.Order()

	c := &Cache{plan: p, id: len(p.caches), src: src, level: -1, layout: expr.FirstMajor}
	if cfg.hasLayout {
		c.layout = cfg.layout
	}
	c.thrifty = cfg.thrifty
	c.maxElem = cfg.maxElem

	switch {
	case cfg.index != nil:
		pos, err := p.sched.Position(cfg.index)
		if err != nil {
			return nil, errors.Errorf("cannot place cache: %s", err)
		}
		c.index, c.level = cfg.index, len(order)-1-pos
	case cfg.hasLevel:
		if sub == nil && cfg.level.IsSym() {
			// The placement, its trigger and the hierarchy checks all
			// resolve when the plan is instantiated.
			p.caches = append(p.caches, c)
			p.sched.Seal()
			return c, nil
		}
		level, err := resolveSize(cfg.level, sub)
		if err != nil {
			return nil, err
		}
		if level < 0 || level >= len(order) {
			return nil, errors.Errorf("cache level %d out of range: the schedule has %d levels", level, len(order))
		}
		c.index, c.level = order[len(order)-1-level], level
	case cfg.maxElem > 0:
		pos, err := p.budgetPlacement(src.sourceArray(), cfg.maxElem)
		if err != nil {
			return nil, err
		}
		if pos >= 0 {
			c.index, c.level = order[pos], len(order)-1-pos
		}
	default:
		return nil, errors.Errorf("cache placement requires an index, a level or an element budget")
	}

	if err := p.resolveTrigger(c, cfg, sub); err != nil {
		return nil, err
	}
	if err := p.checkHierarchy(c); err != nil {
		return nil, err
	}

	srcLayout := sourceLayout(src)
	if c.thrifty && srcLayout == c.layout && srcLayout != expr.DeferredLayout {
		c.elided = true
	}
	p.caches = append(p.caches, c)
	// The recorded levels and triggers are positions in the current loop
	// order. Freezing the schedule keeps them valid.
	p.sched.Seal()
	return c, nil
}

func resolveSize(s nest.Size, sub *param.Subst) (int, error) {
	if n, ok := s.Concrete(); ok {
		return n, nil
	}
	return sub.Int(s.Param())
}

func sourceLayout(src Source) expr.Layout {
	if c, ok := src.(*Cache); ok {
		return c.layout
	}
	return src.sourceArray().Layout()
}

func (p *Plan) resolveTrigger(c *Cache, cfg *cacheConfig, sub *param.Subst) error {
	order := p.sched.Order()
	var trigger *nest.Index
	switch {
	case cfg.trigIndex != nil:
		if _, err := p.sched.Position(cfg.trigIndex); err != nil {
			return errors.Errorf("cannot set cache trigger: %s", err)
		}
		trigger = cfg.trigIndex
	case cfg.hasTrigLevel:
		if sub == nil && cfg.trigLevel.IsSym() {
			// Resolved at instantiation.
			c.trigger = c.index
			return nil
		}
		level, err := resolveSize(cfg.trigLevel, sub)
		if err != nil {
			return err
		}
		if level < 0 || level >= len(order) {
			return errors.Errorf("cache trigger level %d out of range: the schedule has %d levels", level, len(order))
		}
		trigger = order[len(order)-1-level]
	default:
		c.trigger = c.index
		return nil
	}
	if c.index == nil {
		return errors.Errorf("cache trigger given without a resolved placement")
	}
	trigPos, _ := p.sched.Position(trigger)
	placePos, _ := p.sched.Position(c.index)
	if trigPos > placePos {
		return errors.Errorf("cache trigger %s is inner of placement %s: want at or outer of it", trigger, c.index)
	}
	c.trigger = trigger
	return nil
}

// triggerLevel is the nesting level at which the cache refills.
func (c *Cache) triggerLevel() int {
	if c.trigger == nil {
		return c.level
	}
	pos, _ := c.plan.sched.Position(c.trigger)
	return len(c.plan.sched.Order()) - 1 - pos
}

// checkHierarchy enforces monotonically outer trigger levels from the
// innermost cache of a chain to the outermost.
func (p *Plan) checkHierarchy(c *Cache) error {
	src, ok := c.src.(*Cache)
	if !ok {
		return nil
	}
	if c.index == nil || src.index == nil {
		return nil
	}
	inner, outer := c, src
	if outer.level < inner.level {
		inner, outer = outer, inner
	}
	if outer.triggerLevel() < inner.triggerLevel() {
		return errors.Errorf("cache hierarchy triggers are not monotonic: outer cache at level %d triggers at %d, inner at level %d triggers at %d",
			outer.level, outer.triggerLevel(), inner.level, inner.triggerLevel())
	}
	return nil
}

// budgetPlacement returns the outermost order position whose accessed
// footprint of the array fits the budget, -1 when none does.
func (p *Plan) budgetPlacement(a *expr.Array, budget int) (int, error) {
	order := p.sched.Order()
	iters := map[expr.Iter]bool{}
	for _, k := range p.sched.Kernels() {
		for _, ref := range k.Accesses(a) {
			for _, coord := range ref.Coords() {
				for _, it := range coord.Iters() {
					iters[it] = true
				}
			}
		}
	}
	for pos := 0; pos < len(order); pos++ {
		footprint := 1
		for q := pos; q < len(order); q++ {
			root := p.sched.RootIter(order[q])
			if root == nil || !iters[root] {
				continue
			}
			n, err := p.sched.TripCount(order[q])
			if err != nil {
				return -1, err
			}
			footprint *= n
		}
		if footprint <= budget {
			return pos, nil
		}
	}
	return -1, nil
}

// DeferredLayout binds the physical layout of the constant-role,
// layout-deferred array staged by the cache to the cache's resolved
// layout. Binding an array that already has a concrete layout, or
// binding twice, is an error.
func (p *Plan) DeferredLayout(c *Cache) error {
	if err := p.checkMutable(); err != nil {
		return err
	}
	if err := p.deferredLayout(c); err != nil {
		return err
	}
	p.hist = append(p.hist, &deferredLayoutOp{c: c})
	return nil
}

func (p *Plan) deferredLayout(c *Cache) error {
	if c == nil || c.plan != p {
		return errors.Errorf("cache handle does not belong to this plan")
	}
	a := c.src.sourceArray()
	if a.Role() != expr.Const {
		return errors.Errorf("deferred layout applies to constant-role arrays: %s is %s", a.Name(), a.Role())
	}
	if c.layout == expr.DeferredLayout {
		return errors.Errorf("cache of %s has no concrete layout to bind", a.Name())
	}
	return a.BindLayout(c.layout)
}

// Caches returns the plan's cache arena in creation order.
func (p *Plan) Caches() []*Cache {
	return append([]*Cache{}, p.caches...)
}
