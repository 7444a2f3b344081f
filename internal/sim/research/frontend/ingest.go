package frontend

import (
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/tuning"
)

// Ingest credits the observer when a pawn is given something to ingest.
type Ingest struct {
	base
}

func NewIngest(eng *research.Engine, tun tuning.Research) *Ingest {
	return &Ingest{base: base{
		eng:    eng,
		filter: research.Filter{Modes: opportunity.ModeSpecialOnIngestObservable},
		tun:    tun,
	}}
}

// Administered is called when observer gives ingestible to ingester. Every
// matching opportunity is credited; the count is returned.
func (f *Ingest) Administered(observer, ingester Pawn, ingestible Target) int {
	if observer == nil || !observer.CanDoResearch() {
		return 0
	}
	rs := f.eng.Ruleset()
	n := 0
	for inst := range f.eng.QueryOpportunities(f.filter) {
		if !inst.Requirement().MetByEntity(rs, ingestible) {
			continue
		}
		amount := f.tun.AdministerIngestibleObserver
		modifier := ingester.Stat(StatResearchSpeed)
		observer.Learn(SkillIntellectual, f.tun.SkillLearnPerTick*amount)
		f.eng.ApplyProgress(inst, amount, modifier, inst.SpeedMultiplier())
		n++
	}
	return n
}
