package frontend

import (
	"sort"

	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/tuning"
)

// Bench is a research bench items can be carried to.
type Bench interface {
	Target
	SpeedFactor() float64
}

type BenchFinder interface {
	// UsableBenches returns the reachable, unreserved benches for p.
	UsableBenches(p Pawn) []Bench
}

// BenchAnalysis takes haulable things apart at a research bench.
type BenchAnalysis struct {
	base
	finder BenchFinder
	access Access

	benchesTick uint64
	benches     map[string][]Bench
}

func NewBench(eng *research.Engine, finder BenchFinder, access Access, tun tuning.Research) *BenchAnalysis {
	return &BenchAnalysis{
		base: base{
			eng:    eng,
			filter: research.Filter{Modes: opportunity.ModeJob, ExactModes: true, Driver: tasks.DriverAnalyse},
			tun:    tun,
		},
		finder:  finder,
		access:  access,
		benches: map[string][]Bench{},
	}
}

func (f *BenchAnalysis) ShouldSkip(p Pawn) bool {
	if f.objective() == nil {
		return true
	}
	return !f.eng.AnyOpportunity(f.filter)
}

// Analysable lists the thing templates that can be brought to a bench this step.
func (f *BenchAnalysis) Analysable() []requirement.TemplateRef {
	var out []requirement.TemplateRef
	for _, ref := range f.eng.Templates(f.filter) {
		if ref.Space == requirement.SpaceThing {
			out = append(out, ref)
		}
	}
	return out
}

// usableBenches is cached per pawn for the current step, fastest first.
func (f *BenchAnalysis) usableBenches(p Pawn) []Bench {
	if tick := f.eng.Tick(); tick != f.benchesTick {
		clear(f.benches)
		f.benchesTick = tick
	}
	if bs, ok := f.benches[p.ID()]; ok {
		return bs
	}
	bs := append([]Bench(nil), f.finder.UsableBenches(p)...)
	sort.SliceStable(bs, func(i, j int) bool { return bs[i].SpeedFactor() > bs[j].SpeedFactor() })
	f.benches[p.ID()] = bs
	return bs
}

func (f *BenchAnalysis) HasJobOn(p Pawn, t Target) (bool, FailReason) {
	if f.objective() == nil {
		return false, FailNoObjective
	}
	if len(f.usableBenches(p)) == 0 {
		return false, FailNoBench
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

// JobOn picks the fastest bench and the first opportunity t satisfies.
func (f *BenchAnalysis) JobOn(p Pawn, t Target, nowTick uint64) (*tasks.WorkTask, error) {
	benches := f.usableBenches(p)
	if len(benches) == 0 {
		return nil, errNoOpportunity(t)
	}
	rs := f.eng.Ruleset()
	var inst *opportunity.Instance
	for _, cand := range f.eng.QueryByEntityTemplate(t.Template(), f.filter) {
		if cand.Requirement().MetByEntity(rs, t) {
			inst = cand
			break
		}
	}
	if inst == nil {
		return nil, errNoOpportunity(t)
	}
	task, err := f.newTask(p, inst, t, nowTick)
	if err != nil {
		return nil, err
	}
	task.ThingID = t.Key()
	task.BenchID = benches[0].Key()
	return task, nil
}

// WorkTick counts down the bench duration and reports one chunk of progress
// when it elapses. speedFactor is the bench used.
func (f *BenchAnalysis) WorkTick(p Pawn, task *tasks.WorkTask, speedFactor float64) TickResult {
	inst, ok := f.available(task)
	if !ok {
		return TickStopped
	}
	p.Learn(SkillIntellectual, f.tun.SkillLearnPerTick*inst.SpeedMultiplier())
	task.WorkTicks++
	if task.WorkTicks < f.tun.BenchAnalysisDurationTicks {
		return TickContinue
	}
	task.WorkTicks = 0
	if speedFactor <= 0 {
		speedFactor = 1
	}
	modifier := p.Stat(StatResearchSpeed) * speedFactor
	if f.eng.ApplyProgress(inst, f.tun.BenchAnalysisAmount, modifier, inst.SpeedMultiplier()) {
		return TickFinished
	}
	return TickUnitDone
}
