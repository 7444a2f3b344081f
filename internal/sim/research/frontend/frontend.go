// Package frontend holds the consumers that turn world activity into
// research progress: in-place, terrain and bench analysis jobs, prisoner
// interactions and observed ingestion. Each one only queries the engine and
// reports progress with the modifiers it computes itself.
package frontend

import (
	"errors"
	"fmt"

	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/tuning"
)

const (
	StatResearchSpeed                = "ResearchSpeed"
	StatFieldResearchSpeedMultiplier = "FieldResearchSpeedMultiplier"
	StatNegotiationAbility           = "NegotiationAbility"

	SkillIntellectual = "Intellectual"
)

// Pawn is the actor view the front-ends need from the host.
type Pawn interface {
	requirement.Entity
	ID() string
	Position() tasks.Vec2i
	Stat(name string) float64
	// CanDoResearch is false for non-humanlike, non-colony or research-disabled pawns.
	CanDoResearch() bool
	HasResearchKit() bool
	Learn(skill string, xp float64)
}

// Target is a thing or cell a job can be aimed at.
type Target interface {
	requirement.Entity
	Key() string
	Position() tasks.Vec2i
}

// Access answers the host-side checks: forbidden flags, reservations,
// reachability and faction rules.
type Access interface {
	CanWorkOn(p Pawn, t Target) bool
}

var ErrNoOpportunity = errors.New("frontend: no opportunity")

func errNoOpportunity(t Target) error {
	return fmt.Errorf("%w for %s", ErrNoOpportunity, t.Template())
}

// FailReason explains why a job was refused.
type FailReason string

const (
	FailNone          FailReason = ""
	FailNoObjective   FailReason = "no active research objective"
	FailNoOpportunity FailReason = "nothing to learn here"
	FailNeedKit       FailReason = "needs a research kit"
	FailIsPrototype   FailReason = "is a prototype"
	FailNoBench       FailReason = "no usable research bench"
	FailUnavailable   FailReason = "cannot be worked on"
)

// TickResult is the outcome of one tick of job work.
type TickResult uint8

const (
	TickContinue TickResult = iota
	// TickUnitDone ends a unit of work; the job continues with a new unit.
	TickUnitDone
	TickFinished
	// TickStopped means the opportunity went away; the job should end.
	TickStopped
)

func (r TickResult) String() string {
	switch r {
	case TickContinue:
		return "continue"
	case TickUnitDone:
		return "unit_done"
	case TickFinished:
		return "finished"
	case TickStopped:
		return "stopped"
	}
	return "unknown"
}

type base struct {
	eng    *research.Engine
	filter research.Filter
	tun    tuning.Research
}

func (b *base) objective() *opportunity.Objective { return b.eng.ActiveObjective() }

func (b *base) needsKit(p Pawn) bool {
	obj := b.objective()
	return obj != nil && obj.HasPrerequisites() && !p.HasResearchKit()
}

// available returns the task's opportunity if it can still take progress
// under the objective the task was started for.
func (b *base) available(task *tasks.WorkTask) (*opportunity.Instance, bool) {
	obj := b.objective()
	if obj == nil || obj.ID() != task.ObjectiveID {
		return nil, false
	}
	inst, ok := b.eng.Instance(task.OpportunityID)
	if !ok || b.eng.Availability(inst) != opportunity.Available {
		return nil, false
	}
	return inst, true
}

func (b *base) newTask(p Pawn, inst *opportunity.Instance, t Target, nowTick uint64) (*tasks.WorkTask, error) {
	tt, ok := inst.Definition().TaskTemplateFor(b.filter.Driver)
	if !ok {
		return nil, fmt.Errorf("opportunity %s has no %s task template", inst.Definition().ID, b.filter.Driver)
	}
	task := &tasks.WorkTask{
		TaskID:        fmt.Sprintf("%s:%s:%d", p.ID(), t.Key(), nowTick),
		Driver:        tt.Driver,
		TaskTemplate:  tt.ID,
		OpportunityID: inst.Definition().ID,
		ObjectiveID:   inst.Objective().ID(),
		StartedTick:   nowTick,
	}
	if b.tun.JobExpiryTicks > 0 {
		task.ExpiresTick = nowTick + uint64(b.tun.JobExpiryTicks)
	}
	return task, nil
}

// workTick advances one tick of a per-tick analysis job.
func (b *base) workTick(p Pawn, task *tasks.WorkTask, unitTicks int) TickResult {
	inst, ok := b.available(task)
	if !ok {
		return TickStopped
	}
	speedMult := inst.SpeedMultiplier()
	p.Learn(SkillIntellectual, b.tun.SkillLearnPerTick*speedMult)
	if b.eng.ApplyProgress(inst, p.Stat(StatResearchSpeed), p.Stat(StatFieldResearchSpeedMultiplier), speedMult) {
		return TickFinished
	}
	task.WorkTicks++
	if unitTicks > 0 && task.WorkTicks >= unitTicks {
		task.WorkTicks = 0
		return TickUnitDone
	}
	return TickContinue
}
