// Package research is the opportunity engine a host world owns. It ties the
// loaded catalogs, the active objective and the live instance set together,
// and serves step-coherent queries to the consumer front-ends.
package research

import (
	"errors"
	"fmt"
	"iter"
	"log"
	"slices"
	"sync"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research/catalog"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/research/stepcache"
)

var (
	ErrUnknownObjective  = errors.New("research: unknown objective")
	ErrNoActiveObjective = errors.New("research: no active objective")
	ErrSnapshotObjective = errors.New("research: snapshot references unknown objective")
)

type Filter = catalog.Filter

// ProgressEvent is emitted for every progress application that changed state.
type ProgressEvent struct {
	Tick          uint64  `json:"tick"`
	ObjectiveID   string  `json:"objective_id"`
	OpportunityID string  `json:"opportunity_id"`
	Modes         string  `json:"modes"`
	Relation      string  `json:"relation"`
	Delta         float64 `json:"delta"`
	Progress      float64 `json:"progress"`
	Target        float64 `json:"target"`

	ObjectiveProgress float64 `json:"objective_progress"`
	ObjectiveCost     float64 `json:"objective_cost"`

	Finished          bool `json:"finished,omitempty"`
	ObjectiveComplete bool `json:"objective_complete,omitempty"`
}

// ProgressSink receives progress events after the engine lock is released.
// Implementations must not block.
type ProgressSink interface {
	OnProgress(ev ProgressEvent)
}

type Config struct {
	Catalogs *catalogs.Catalogs
	// Ruleset overrides Catalogs.Ruleset.
	Ruleset       *catalogs.Ruleset
	Prerequisites opportunity.Prerequisites
	Logger        *log.Logger
	Sinks         []ProgressSink
}

type filterCache struct {
	byTemplate *stepcache.Index[requirement.TemplateRef, *opportunity.Instance]
	list       *stepcache.Value[[]*opportunity.Instance]
}

type Engine struct {
	mu sync.Mutex

	cats   *catalogs.Catalogs
	rs     *catalogs.Ruleset
	pre    opportunity.Prerequisites
	mgr    *catalog.Manager
	logger *log.Logger
	sinks  []ProgressSink

	objectives map[string]*opportunity.Objective

	tick       uint64
	generation uint64
	caches     map[Filter]*filterCache
}

func New(cfg Config) (*Engine, error) {
	if cfg.Catalogs == nil {
		return nil, fmt.Errorf("research: nil catalogs")
	}
	mgr, err := catalog.New(cfg.Catalogs, prefixed(cfg.Logger, "catalog: "))
	if err != nil {
		return nil, fmt.Errorf("research: %w", err)
	}
	e := &Engine{
		cats:       cfg.Catalogs,
		rs:         cfg.Ruleset,
		pre:        cfg.Prerequisites,
		mgr:        mgr,
		logger:     cfg.Logger,
		sinks:      cfg.Sinks,
		objectives: map[string]*opportunity.Objective{},
		generation: 1,
		caches:     map[Filter]*filterCache{},
	}
	if e.rs == nil {
		e.rs = cfg.Catalogs.Ruleset
	}
	if e.pre == nil {
		e.pre = opportunity.AlwaysMet{}
	}
	return e, nil
}

// prefixed shares the destination and flags of l but tags lines with p.
func prefixed(l *log.Logger, p string) *log.Logger {
	if l == nil {
		return nil
	}
	return log.New(l.Writer(), l.Prefix()+p, l.Flags())
}

func (e *Engine) AddSink(s ProgressSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

// BeginStep advances the stamp every cache is checked against.
func (e *Engine) BeginStep(tick uint64) {
	e.mu.Lock()
	e.tick = tick
	e.mu.Unlock()
}

func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// SetActiveObjective makes id the objective instances are generated for.
// Setting the current objective again changes nothing.
func (e *Engine) SetActiveObjective(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setActiveLocked(id)
}

func (e *Engine) setActiveLocked(id string) error {
	def, ok := e.cats.Objectives.ByID[id]
	if !ok {
		e.printf("engine: unknown objective %q, keeping %s", id, e.activeIDLocked())
		return fmt.Errorf("%w: %q", ErrUnknownObjective, id)
	}
	obj := e.objectiveLocked(def)
	if e.mgr.Regenerate(obj) {
		e.generation++
		e.printf("engine: active objective %s (%d opportunities, %.0f/%.0f)",
			obj.ID(), len(e.mgr.Instances()), obj.Progress(), obj.Cost())
	}
	return nil
}

func (e *Engine) ClearActiveObjective() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mgr.Regenerate(nil) {
		e.generation++
	}
}

// objectiveLocked keeps one Objective per id so progress survives switching.
func (e *Engine) objectiveLocked(def catalogs.ObjectiveDef) *opportunity.Objective {
	if o, ok := e.objectives[def.ID]; ok {
		return o
	}
	o := opportunity.NewObjective(def)
	e.objectives[def.ID] = o
	return o
}

// ActiveObjective returns nil when no objective is active.
func (e *Engine) ActiveObjective() *opportunity.Objective {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mgr.Objective()
}

func (e *Engine) activeIDLocked() string {
	if o := e.mgr.Objective(); o != nil {
		return o.ID()
	}
	return "none"
}

// Objective returns the progress holder for id, creating it on first use.
func (e *Engine) Objective(id string) (*opportunity.Objective, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	def, ok := e.cats.Objectives.ByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownObjective, id)
	}
	return e.objectiveLocked(def), nil
}

func (e *Engine) Ruleset() *catalogs.Ruleset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rs
}

// SwapRuleset replaces the templates requirements are checked against. Caches
// rebuild on their next read.
func (e *Engine) SwapRuleset(rs *catalogs.Ruleset) {
	if rs == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rs != nil && e.rs.Digest == rs.Digest {
		e.rs = rs
		return
	}
	e.rs = rs
	e.generation++
	e.printf("engine: ruleset swapped (%s)", shortDigest(rs.Digest))
}

// Invalidate drops every cached query result.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.generation++
	e.mu.Unlock()
}

func (e *Engine) stampLocked() stepcache.Stamp {
	obj := e.mgr.Objective()
	if obj == nil || obj.Complete() {
		return stepcache.Empty
	}
	return stepcache.Stamp{Tick: e.tick, Generation: e.generation}
}

func (e *Engine) cacheLocked(f Filter) *filterCache {
	if c, ok := e.caches[f]; ok {
		return c
	}
	c := &filterCache{
		byTemplate: stepcache.NewIndex(func(add func(requirement.TemplateRef, *opportunity.Instance)) {
			for inst := range e.mgr.Query(e.rs, e.pre, f) {
				for _, ref := range templatesFor(e.rs, inst.Requirement()) {
					add(ref, inst)
				}
			}
		}),
		list: stepcache.NewValue(func() []*opportunity.Instance {
			return slices.Collect(e.mgr.Query(e.rs, e.pre, f))
		}),
	}
	e.caches[f] = c
	return c
}

// QueryOpportunities yields the instances matching f as of the current step.
// Iteration does not hold the engine lock, so the loop body may apply progress.
func (e *Engine) QueryOpportunities(f Filter) iter.Seq[*opportunity.Instance] {
	e.mu.Lock()
	list := e.cacheLocked(f).list.Get(e.stampLocked())
	e.mu.Unlock()
	return slices.Values(list)
}

// AnyOpportunity reports whether any unfinished instance matches f this step.
func (e *Engine) AnyOpportunity(f Filter) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cacheLocked(f).list.Get(e.stampLocked())) > 0
}

// QueryByEntityTemplate returns the instances whose requirement ref satisfies,
// from the per-step index for f.
func (e *Engine) QueryByEntityTemplate(ref requirement.TemplateRef, f Filter) []*opportunity.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.cacheLocked(f).byTemplate.Get(e.stampLocked(), ref))
}

// FirstForTemplate is QueryByEntityTemplate limited to the first instance.
func (e *Engine) FirstForTemplate(ref requirement.TemplateRef, f Filter) (*opportunity.Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cacheLocked(f).byTemplate.First(e.stampLocked(), ref)
}

// Templates lists the templates with at least one instance for f this step.
func (e *Engine) Templates(f Filter) []requirement.TemplateRef {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.cacheLocked(f).byTemplate.Keys(e.stampLocked()))
}

// ApplyProgress forwards to the instance and reports whether it is finished.
// Instances from a previous objective and calls without an active objective
// are ignored.
func (e *Engine) ApplyProgress(inst *opportunity.Instance, raw, speed, rel float64) bool {
	if inst == nil {
		return false
	}
	e.mu.Lock()
	obj := e.mgr.Objective()
	if obj == nil {
		e.mu.Unlock()
		return false
	}
	if inst.IsFinished() {
		e.mu.Unlock()
		return true
	}
	if !e.mgr.Owns(inst) {
		e.mu.Unlock()
		return false
	}
	out := inst.ApplyProgress(raw, speed, rel)
	var ev *ProgressEvent
	if out.Delta > 0 || out.JustFinished {
		ev = &ProgressEvent{
			Tick:              e.tick,
			ObjectiveID:       obj.ID(),
			OpportunityID:     inst.Definition().ID,
			Modes:             inst.Definition().Modes.String(),
			Relation:          string(inst.Relation()),
			Delta:             out.Delta,
			Progress:          inst.Progress(),
			Target:            inst.Target(),
			ObjectiveProgress: obj.Progress(),
			ObjectiveCost:     obj.Cost(),
			Finished:          out.JustFinished,
			ObjectiveComplete: out.ObjectiveComplete,
		}
	}
	if out.ObjectiveComplete {
		e.generation++
		e.printf("engine: objective %s complete at tick %d", obj.ID(), e.tick)
	}
	sinks := e.sinks
	e.mu.Unlock()

	if ev != nil {
		for _, s := range sinks {
			s.OnProgress(*ev)
		}
	}
	return out.Finished
}

func (e *Engine) IsValid(inst *opportunity.Instance) bool {
	if inst == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return inst.IsValid(e.rs)
}

func (e *Engine) Availability(inst *opportunity.Instance) opportunity.Availability {
	if inst == nil {
		return opportunity.Unavailable
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !inst.IsFinished() && !e.mgr.Owns(inst) {
		return opportunity.Unavailable
	}
	return inst.Availability(e.rs, e.pre)
}

// Instance returns the live instance of definition id, if the active
// objective has one.
func (e *Engine) Instance(defID string) (*opportunity.Instance, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mgr.Objective() == nil {
		return nil, false
	}
	return e.mgr.Instance(defID)
}

// Instances lists every live instance regardless of availability.
func (e *Engine) Instances() []*opportunity.Instance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.mgr.Instances())
}

func (e *Engine) Definitions() []*opportunity.Definition {
	return e.mgr.Definitions()
}

func (e *Engine) printf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// templatesFor expands a requirement to the templates that satisfy it.
func templatesFor(rs *catalogs.Ruleset, req requirement.Requirement) []requirement.TemplateRef {
	if rs == nil {
		return nil
	}
	switch req.Kind() {
	case requirement.KindThing:
		return []requirement.TemplateRef{requirement.ThingRef(req.Target())}
	case requirement.KindTerrain:
		return []requirement.TemplateRef{requirement.TerrainRef(req.Target())}
	case requirement.KindGroup:
		g, ok := rs.Group(req.Target())
		if !ok {
			return nil
		}
		var out []requirement.TemplateRef
		for _, id := range g.Members {
			if rs.GroupHas(g.ID, id) {
				out = append(out, requirement.ThingRef(id))
			}
		}
		return out
	case requirement.KindExpr:
		var out []requirement.TemplateRef
		for _, id := range sortedKeys(rs.Things.Defs) {
			if ref := requirement.ThingRef(id); req.MetBy(rs, ref) {
				out = append(out, ref)
			}
		}
		for _, id := range sortedKeys(rs.Terrains.Defs) {
			if ref := requirement.TerrainRef(id); req.MetBy(rs, ref) {
				out = append(out, ref)
			}
		}
		return out
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
