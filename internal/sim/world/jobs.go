package world

import (
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/frontend"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
)

var theoryFilter = research.Filter{Modes: opportunity.ModeJobTheory}

func cellKey(pos tasks.Vec2i) string { return frontend.Cell{Pos: pos}.Key() }

// workTasks advances every running job by one tick. Jobs end when they finish,
// when their opportunity goes away, when their target is gone and on expiry.
func (w *World) workTasks(nowTick uint64) {
	for _, id := range w.pawnOrder {
		p := w.pawns[id]
		task := p.task
		if task == nil {
			continue
		}
		if task.Expired(nowTick) {
			w.endTask(p)
			continue
		}
		res := frontend.TickStopped
		switch task.Driver {
		case tasks.DriverAnalyseInPlace:
			if _, ok := w.things[task.ThingID]; ok {
				res = w.inPlace.WorkTick(p, task)
			}
		case tasks.DriverAnalyseTerrain:
			res = w.terrain.WorkTick(p, task)
		case tasks.DriverAnalyse:
			b := w.benches[task.BenchID]
			if _, ok := w.things[task.ThingID]; ok && b != nil {
				res = w.bench.WorkTick(p, task, b.speed)
			}
		}
		if res == frontend.TickFinished || res == frontend.TickStopped {
			w.endTask(p)
		}
	}
}

// assignJobs gives each idle colonist the first kind of job available to
// it, tried in-place, then terrain, then bench.
func (w *World) assignJobs(nowTick uint64) {
	for _, id := range w.pawnOrder {
		p := w.pawns[id]
		if p.task != nil || !p.CanDoResearch() {
			continue
		}
		if w.startInPlaceJob(p, nowTick) || w.startTerrainJob(p, nowTick) {
			continue
		}
		w.startBenchJob(p, nowTick)
	}
}

func thingTemplates(refs []requirement.TemplateRef) map[string]bool {
	out := make(map[string]bool, len(refs))
	for _, ref := range refs {
		out[ref.ID] = true
	}
	return out
}

func (w *World) haulable(t *Thing) bool {
	def, ok := w.eng.Ruleset().Thing(t.template)
	return ok && def.Haulable
}

func (w *World) startInPlaceJob(p *Pawn, nowTick uint64) bool {
	if w.inPlace.ShouldSkip(p) {
		return false
	}
	want := thingTemplates(w.inPlace.Templates())
	var best *Thing
	bestPrio := 0.0
	for _, id := range w.thingOrder {
		t := w.things[id]
		if !want[t.template] || w.haulable(t) {
			continue
		}
		if ok, _ := w.inPlace.HasJobOn(p, t); !ok {
			continue
		}
		if prio := w.inPlace.Priority(p, t); best == nil || prio > bestPrio {
			best, bestPrio = t, prio
		}
	}
	if best == nil {
		return false
	}
	task, err := w.inPlace.JobOn(p, best, nowTick)
	if err != nil {
		w.printf("world: in-place job for %s on %s: %v", p.id, best.id, err)
		return false
	}
	p.pos = best.pos
	w.startTask(p, task)
	return true
}

func (w *World) startTerrainJob(p *Pawn, nowTick uint64) bool {
	if w.terrain.ShouldSkip(p) {
		return false
	}
	var (
		best     tasks.Vec2i
		found    bool
		bestPrio float64
	)
	for _, pos := range w.terrain.PotentialCells() {
		if ok, _ := w.terrain.HasJobOn(p, pos); !ok {
			continue
		}
		if prio := w.terrain.Priority(p, pos); !found || prio > bestPrio {
			best, bestPrio, found = pos, prio, true
		}
	}
	if !found {
		return false
	}
	task, err := w.terrain.JobOn(p, best, nowTick)
	if err != nil {
		w.printf("world: terrain job for %s at %d,%d: %v", p.id, best.X, best.Z, err)
		return false
	}
	p.pos = best
	w.startTask(p, task)
	return true
}

// startBenchJob carries the nearest analysable haulable thing to a bench.
func (w *World) startBenchJob(p *Pawn, nowTick uint64) bool {
	if w.bench.ShouldSkip(p) {
		return false
	}
	want := thingTemplates(w.bench.Analysable())
	var best *Thing
	bestDist := 0
	for _, id := range w.thingOrder {
		t := w.things[id]
		if !want[t.template] || !w.haulable(t) {
			continue
		}
		if ok, _ := w.bench.HasJobOn(p, t); !ok {
			continue
		}
		if d := dist2(p.pos, t.pos); best == nil || d < bestDist {
			best, bestDist = t, d
		}
	}
	if best == nil {
		return false
	}
	task, err := w.bench.JobOn(p, best, nowTick)
	if err != nil {
		w.printf("world: bench job for %s on %s: %v", p.id, best.id, err)
		return false
	}
	if b := w.benches[task.BenchID]; b != nil {
		p.pos = b.pos
		best.pos = b.pos
	}
	w.startTask(p, task)
	return true
}

func (w *World) startTask(p *Pawn, task *tasks.WorkTask) {
	p.task = task
	for _, k := range taskKeys(task) {
		w.reserved[k] = p.id
	}
}

func (w *World) endTask(p *Pawn) {
	if p.task == nil {
		return
	}
	for _, k := range taskKeys(p.task) {
		if w.reserved[k] == p.id {
			delete(w.reserved, k)
		}
	}
	p.task = nil
}

func taskKeys(task *tasks.WorkTask) []string {
	switch task.Driver {
	case tasks.DriverAnalyseTerrain:
		return []string{cellKey(task.Cell)}
	case tasks.DriverAnalyse:
		return []string{task.ThingID, task.BenchID}
	}
	return []string{task.ThingID}
}

// theorize lets idle colonists work at a free bench. Progress goes to the
// first theory opportunity, or straight to the objective when none is left.
func (w *World) theorize() {
	obj := w.eng.ActiveObjective()
	if obj == nil || obj.Complete() {
		return
	}
	var free []*Bench
	for _, id := range w.benchOrder {
		if _, taken := w.reserved[id]; !taken {
			free = append(free, w.benches[id])
		}
	}
	for _, id := range w.pawnOrder {
		if len(free) == 0 {
			return
		}
		p := w.pawns[id]
		if p.task != nil || !p.CanDoResearch() {
			continue
		}
		b := free[0]
		free = free[1:]
		p.pos = b.pos

		raw := p.Stat(frontend.StatResearchSpeed)
		p.Learn(frontend.SkillIntellectual, w.cfg.Research.SkillLearnPerTick)
		var inst *opportunity.Instance
		for cand := range w.eng.QueryOpportunities(theoryFilter) {
			inst = cand
			break
		}
		if inst != nil {
			w.eng.ApplyProgress(inst, raw, b.speed, inst.SpeedMultiplier())
			continue
		}
		if _, err := w.eng.AddObjectiveProgress(raw * b.speed); err != nil {
			return
		}
	}
}

// chatWithPrisoners pairs each prisoner with the next idle colonist.
func (w *World) chatWithPrisoners() {
	used := map[string]bool{}
	for _, id := range w.pawnOrder {
		prisoner := w.pawns[id]
		if !prisoner.prisoner {
			continue
		}
		var initiator *Pawn
		for _, cid := range w.pawnOrder {
			c := w.pawns[cid]
			if !used[cid] && c.task == nil && c.CanDoResearch() {
				initiator = c
				break
			}
		}
		if initiator == nil {
			return
		}
		used[initiator.id] = true
		w.social.Interacted(initiator, prisoner)
	}
}

func dist2(a, b tasks.Vec2i) int {
	dx, dz := a.X-b.X, a.Z-b.Z
	return dx*dx + dz*dz
}
