// Package catalog owns the live opportunity instances for the active
// objective and answers filtered queries over them.
package catalog

import (
	"iter"
	"log"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
)

// Filter selects instances. Zero Modes and empty Driver match everything.
type Filter struct {
	Modes  opportunity.HandlingMode
	Driver tasks.Driver
	// ExactModes requires the definition's modes to equal Modes instead of
	// containing them.
	ExactModes bool
	// IncludeInvalid also yields invalid, unavailable and finished instances.
	IncludeInvalid bool
}

func (f Filter) matchesDefinition(d *opportunity.Definition) bool {
	if f.ExactModes && d.Modes != f.Modes {
		return false
	}
	if !d.Modes.Has(f.Modes) {
		return false
	}
	if f.Driver != "" && !d.HasTaskDriver(f.Driver) {
		return false
	}
	return true
}

type Manager struct {
	defs   []*opportunity.Definition
	byID   map[string]*opportunity.Definition
	logger *log.Logger

	objective *opportunity.Objective
	instances []*opportunity.Instance
	byDef     map[string]*opportunity.Instance
	version   uint64

	reported map[string]bool
}

// New resolves every content definition. Expressions that fail to compile
// are reported here and their definitions stay loaded as permanently invalid.
func New(c *catalogs.Catalogs, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		byID:     map[string]*opportunity.Definition{},
		byDef:    map[string]*opportunity.Instance{},
		logger:   logger,
		reported: map[string]bool{},
	}
	for _, od := range c.Opportunities.Defs {
		d, err := opportunity.NewDefinition(od, c)
		if err != nil {
			return nil, err
		}
		if d.RequirementErr != nil {
			m.report(d, d.RequirementErr.Error())
		}
		m.defs = append(m.defs, d)
		m.byID[d.ID] = d
	}
	return m, nil
}

func (m *Manager) Definitions() []*opportunity.Definition { return m.defs }

func (m *Manager) Definition(id string) (*opportunity.Definition, bool) {
	d, ok := m.byID[id]
	return d, ok
}

func (m *Manager) Objective() *opportunity.Objective { return m.objective }

// Version changes on every effective regeneration.
func (m *Manager) Version() uint64 { return m.version }

// Instances returns the live instances in definition order.
func (m *Manager) Instances() []*opportunity.Instance { return m.instances }

func (m *Manager) Instance(defID string) (*opportunity.Instance, bool) {
	i, ok := m.byDef[defID]
	return i, ok
}

// Owns reports whether inst belongs to the current generation.
func (m *Manager) Owns(inst *opportunity.Instance) bool {
	if inst == nil || m.objective == nil {
		return false
	}
	cur, ok := m.byDef[inst.Definition().ID]
	return ok && cur == inst
}

// Regenerate discards all instances and creates one per definition related to
// obj. Calling it again with the same objective is a no-op; the return value
// reports whether anything changed. A nil objective clears the set.
func (m *Manager) Regenerate(obj *opportunity.Objective) bool {
	if obj == m.objective {
		return false
	}
	for _, i := range m.instances {
		i.Discard()
	}
	m.instances = nil
	clear(m.byDef)
	m.objective = obj
	m.version++
	if obj == nil {
		return true
	}
	for _, d := range m.defs {
		rel, ok := d.RelationTo(obj.ID())
		if !ok {
			continue
		}
		inst := opportunity.NewInstance(d, obj, rel)
		m.instances = append(m.instances, inst)
		m.byDef[d.ID] = inst
	}
	return true
}

// Query yields matching instances lazily. Unless the filter includes invalid
// instances only Available ones are yielded. Order follows definition order
// and is stable while the instance set is unchanged.
func (m *Manager) Query(rs requirement.Ruleset, pre opportunity.Prerequisites, f Filter) iter.Seq[*opportunity.Instance] {
	return func(yield func(*opportunity.Instance) bool) {
		obj := m.objective
		if obj == nil || obj.Complete() {
			return
		}
		for _, inst := range m.instances {
			d := inst.Definition()
			if !f.matchesDefinition(d) {
				continue
			}
			if !f.IncludeInvalid {
				if !inst.IsValid(rs) {
					m.reportInvalid(d)
					continue
				}
				if inst.Availability(rs, pre) != opportunity.Available {
					continue
				}
			}
			if !yield(inst) {
				return
			}
		}
	}
}

// Any reports whether Query would yield at least one instance.
func (m *Manager) Any(rs requirement.Ruleset, pre opportunity.Prerequisites, f Filter) bool {
	for range m.Query(rs, pre, f) {
		return true
	}
	return false
}

func (m *Manager) reportInvalid(d *opportunity.Definition) {
	if m.reported[d.ID] {
		return
	}
	reason := "requirement target " + d.Requirement.Target() + " is not in the ruleset"
	switch {
	case d.RequirementErr != nil:
		reason = d.RequirementErr.Error()
	case d.Requirement.TargetIsNull():
		reason = "requirement has no target"
	case d.Requirement.Kind() == requirement.KindExpr:
		reason = "requirement expression did not compile"
	}
	m.report(d, reason)
}

func (m *Manager) report(d *opportunity.Definition, reason string) {
	if m.reported[d.ID] {
		return
	}
	m.reported[d.ID] = true
	m.printf("opportunity %s (%s) is invalid: %s", d.ID, d.Requirement.Kind(), reason)
}

// Reported reports whether a diagnostic was logged for definition id.
func (m *Manager) Reported(id string) bool { return m.reported[id] }

func (m *Manager) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
