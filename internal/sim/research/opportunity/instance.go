package opportunity

import (
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research/requirement"
)

// Prerequisites is supplied by the host. It decides whether the support
// items a definition asks for are present in the world.
type Prerequisites interface {
	PrerequisitesMet(def *Definition) bool
}

// AlwaysMet is the default Prerequisites.
type AlwaysMet struct{}

func (AlwaysMet) PrerequisitesMet(*Definition) bool { return true }

// Instance is a definition bound to the active objective. Only the catalog
// manager creates instances; consumers read them and apply progress.
type Instance struct {
	def       *Definition
	objective *Objective
	relation  Relation
	category  catalogs.CategoryDef
	target    float64

	progress  float64
	finished  bool
	discarded bool
}

func NewInstance(def *Definition, obj *Objective, rel Relation) *Instance {
	cat := def.Category(rel)
	frac := cat.TargetFraction
	if !(frac > 0) || frac > 1 {
		frac = 1
	}
	return &Instance{
		def:       def,
		objective: obj,
		relation:  rel,
		category:  cat,
		target:    obj.Cost() * frac,
	}
}

func (i *Instance) Definition() *Definition              { return i.def }
func (i *Instance) Objective() *Objective                { return i.objective }
func (i *Instance) Relation() Relation                   { return i.relation }
func (i *Instance) Category() catalogs.CategoryDef       { return i.category }
func (i *Instance) SpeedMultiplier() float64             { return i.category.SpeedMultiplier }
func (i *Instance) Target() float64                      { return i.target }
func (i *Instance) Progress() float64                    { return i.progress }
func (i *Instance) IsFinished() bool                     { return i.finished }
func (i *Instance) Requirement() requirement.Requirement { return i.def.Requirement }

func (i *Instance) Remaining() float64 {
	if r := i.target - i.progress; r > 0 {
		return r
	}
	return 0
}

// Fraction is progress over target in [0, 1].
func (i *Instance) Fraction() float64 {
	if i.finished || !(i.target > 0) {
		return 1
	}
	return i.progress / i.target
}

func (i *Instance) IsValid(rs requirement.Ruleset) bool {
	return i.def.Requirement.IsValid(rs)
}

// Availability is evaluated on demand. Finished is terminal.
func (i *Instance) Availability(rs requirement.Ruleset, pre Prerequisites) Availability {
	if i.finished {
		return Finished
	}
	if i.discarded || i.objective == nil || i.objective.Complete() {
		return Unavailable
	}
	if !i.IsValid(rs) {
		return Unavailable
	}
	if pre != nil && !pre.PrerequisitesMet(i.def) {
		return Unavailable
	}
	return Available
}

// Outcome describes the effect of one ApplyProgress call.
type Outcome struct {
	Delta float64
	// Finished is the instance state after the call.
	Finished bool
	// JustFinished is set when this call caused the transition.
	JustFinished bool
	// ObjectiveComplete is set when this call completed the objective.
	ObjectiveComplete bool
}

// ApplyProgress adds raw*speed*rel to both the instance and its objective,
// clamped by what either has left. A finished instance reports Finished
// without changing anything. Progress on a completed objective, or on an
// instance dropped by regeneration, is ignored.
func (i *Instance) ApplyProgress(raw, speed, rel float64) Outcome {
	if i.finished {
		return Outcome{Finished: true}
	}
	if i.discarded || i.objective == nil || i.objective.Complete() {
		return Outcome{}
	}
	delta := raw * speed * rel
	if !(delta > 0) {
		delta = 0
	}
	if r := i.Remaining(); delta > r {
		delta = r
	}
	if r := i.objective.Remaining(); delta > r {
		delta = r
	}
	i.progress += delta
	i.objective.progress += delta

	out := Outcome{Delta: delta}
	if i.objective.Complete() {
		i.objective.progress = i.objective.Cost()
		out.ObjectiveComplete = delta > 0
	}
	if i.target-i.progress <= progressEpsilon {
		i.progress = i.target
		i.finished = true
		out.JustFinished = true
	}
	out.Finished = i.finished
	return out
}

// Discard detaches the instance after its objective changed.
func (i *Instance) Discard() { i.discarded = true }

func (i *Instance) Discarded() bool { return i.discarded }

// Restore sets instance progress from a snapshot without touching the
// objective, whose progress is restored separately.
func (i *Instance) Restore(progress float64, finished bool) {
	if !(progress > 0) {
		progress = 0
	}
	if progress > i.target {
		progress = i.target
	}
	i.progress = progress
	i.finished = finished || i.target-progress <= progressEpsilon
	if i.finished {
		i.progress = i.target
	}
}
