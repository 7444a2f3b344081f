package frontend

import (
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/tuning"
)

// Social credits research when a colonist chats science with a prisoner.
type Social struct {
	base
}

func NewSocial(eng *research.Engine, tun tuning.Research) *Social {
	return &Social{base: base{
		eng:    eng,
		filter: research.Filter{Modes: opportunity.ModeSocial},
		tun:    tun,
	}}
}

// Interacted reports progress for the first social opportunity the recipient
// satisfies. It returns the instance credited, or nil.
func (f *Social) Interacted(initiator, recipient Pawn) *opportunity.Instance {
	rs := f.eng.Ruleset()
	for inst := range f.eng.QueryOpportunities(f.filter) {
		if !inst.Requirement().MetByEntity(rs, recipient) {
			continue
		}
		amount := f.tun.InteractionLearnFromPrisoner
		modifier := initiator.Stat(StatNegotiationAbility) *
			max(initiator.Stat(StatResearchSpeed), recipient.Stat(StatResearchSpeed))
		initiator.Learn(SkillIntellectual, f.tun.SkillLearnPerTick*amount)
		f.eng.ApplyProgress(inst, amount, modifier, inst.SpeedMultiplier())
		return inst
	}
	return nil
}
