package frontend

import (
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/tuning"
)

// InPlace studies buildings and items where they stand.
type InPlace struct {
	base
	access Access
}

func NewInPlace(eng *research.Engine, access Access, tun tuning.Research) *InPlace {
	return &InPlace{
		base: base{
			eng:    eng,
			filter: research.Filter{Modes: opportunity.ModeJobAnalysis, Driver: tasks.DriverAnalyseInPlace},
			tun:    tun,
		},
		access: access,
	}
}

// ShouldSkip is true when there is nothing left to analyse this step.
func (f *InPlace) ShouldSkip(p Pawn) bool {
	if f.objective() == nil {
		return true
	}
	return !f.eng.AnyOpportunity(f.filter)
}

// Templates lists the thing templates worth looking for this step.
func (f *InPlace) Templates() []requirement.TemplateRef {
	var out []requirement.TemplateRef
	for _, ref := range f.eng.Templates(f.filter) {
		if ref.Space == requirement.SpaceThing {
			out = append(out, ref)
		}
	}
	return out
}

func (f *InPlace) HasJobOn(p Pawn, t Target) (bool, FailReason) {
	if f.objective() == nil {
		return false, FailNoObjective
	}
	if _, ok := f.eng.FirstForTemplate(t.Template(), f.filter); !ok {
		return false, FailNoOpportunity
	}
	if f.access != nil && !f.access.CanWorkOn(p, t) {
		return false, FailUnavailable
	}
	if f.needsKit(p) {
		return false, FailNeedKit
	}
	return true, FailNone
}

// JobOn builds the task for the first opportunity t satisfies.
func (f *InPlace) JobOn(p Pawn, t Target, nowTick uint64) (*tasks.WorkTask, error) {
	inst, ok := f.eng.FirstForTemplate(t.Template(), f.filter)
	if !ok {
		return nil, errNoOpportunity(t)
	}
	task, err := f.newTask(p, inst, t, nowTick)
	if err != nil {
		return nil, err
	}
	task.ThingID = t.Key()
	return task, nil
}

func (f *InPlace) Priority(p Pawn, t Target) float64 {
	inst, ok := f.eng.FirstForTemplate(t.Template(), f.filter)
	if !ok {
		return 0
	}
	return p.Stat(StatFieldResearchSpeedMultiplier) * inst.SpeedMultiplier()
}

// WorkTick applies one tick of study.
func (f *InPlace) WorkTick(p Pawn, task *tasks.WorkTask) TickResult {
	return f.workTick(p, task, f.tun.AnalyseInPlaceDurationTicks)
}
