package opportunity

import "fieldresearch.ai/internal/sim/catalogs"

// progressEpsilon absorbs float error when cost shares do not divide evenly.
const progressEpsilon = 1e-6

// Objective is the active research goal and its overall progress.
type Objective struct {
	Def      catalogs.ObjectiveDef
	progress float64
}

func NewObjective(def catalogs.ObjectiveDef) *Objective {
	return &Objective{Def: def}
}

func (o *Objective) ID() string        { return o.Def.ID }
func (o *Objective) Cost() float64     { return o.Def.Cost }
func (o *Objective) Progress() float64 { return o.progress }

// HasPrerequisites mirrors the content flag that makes field work need a kit.
func (o *Objective) HasPrerequisites() bool { return o.Def.RequiresKit }

func (o *Objective) Remaining() float64 {
	r := o.Def.Cost - o.progress
	if r < 0 {
		return 0
	}
	return r
}

func (o *Objective) Complete() bool {
	return o.Def.Cost-o.progress <= progressEpsilon
}

// AddProgress adds progress that does not come from an opportunity (e.g. plain
// bench research) and returns the amount applied.
func (o *Objective) AddProgress(delta float64) float64 {
	if !(delta > 0) || o.Complete() {
		return 0
	}
	if r := o.Remaining(); delta > r {
		delta = r
	}
	o.progress += delta
	if o.Complete() {
		o.progress = o.Def.Cost
	}
	return delta
}

// RestoreProgress sets progress from a snapshot.
func (o *Objective) RestoreProgress(p float64) {
	if !(p > 0) {
		p = 0
	}
	if p > o.Def.Cost {
		p = o.Def.Cost
	}
	o.progress = p
}
