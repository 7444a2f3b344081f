package world

import (
	"context"
	"time"

	"fieldresearch.ai/internal/sim/catalogs"
)

// StepInput is what a single step consumes besides the colony itself.
type StepInput struct {
	// Objective, when set, is activated before any work this step.
	Objective string
	Ingests   []IngestEvent
}

func (w *World) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingObjectives []objectiveReq
	var pendingIngests []IngestEvent
	var pendingAdmin []adminSnapshotReq

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stop:
			return nil
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		case r, ok := <-w.reloads:
			if !ok {
				w.reloads = nil
				continue
			}
			w.handleReload(r)
		case req := <-w.objectiveReq:
			pendingObjectives = append(pendingObjectives, req)
		case ev := <-w.ingestReq:
			pendingIngests = append(pendingIngests, ev)
		case req := <-w.admin:
			pendingAdmin = append(pendingAdmin, req)
		case <-ticker.C:
			w.stepInternal(pendingObjectives, pendingIngests)
			w.handleAdminSnapshotRequests(pendingAdmin)
			pendingObjectives = pendingObjectives[:0]
			pendingIngests = pendingIngests[:0]
			pendingAdmin = pendingAdmin[:0]
		}
	}
}

func (w *World) Stop() { close(w.stop) }

// StepOnce advances the colony by one tick with the same ordering as Run.
func (w *World) StepOnce(in StepInput) (tick uint64, digest string) {
	w.drainObserverRequests()
	tick = w.tick.Load()
	var objs []objectiveReq
	if in.Objective != "" {
		objs = append(objs, objectiveReq{ID: in.Objective})
	}
	w.stepInternal(objs, in.Ingests)
	return tick, w.StateDigest(tick)
}

// WatchReloads makes Run swap in reloaded rulesets. Call before Run.
func (w *World) WatchReloads(ch <-chan catalogs.Reload) { w.reloads = ch }

func (w *World) handleReload(r catalogs.Reload) {
	if r.Err != nil {
		w.printf("world: ruleset reload failed, keeping current: %v", r.Err)
		return
	}
	if r.DefinitionsTouched {
		w.printf("world: opportunity definitions changed on disk; restart to apply")
	}
	if r.Ruleset != nil {
		w.pendingRuleset = r.Ruleset
	}
}

func (w *World) stepInternal(objectives []objectiveReq, ingests []IngestEvent) {
	start := time.Now()
	nowTick := w.tick.Load()
	w.stepEvents = w.stepEvents[:0]

	// Content swaps only at step boundaries.
	if w.pendingRuleset != nil {
		w.eng.SwapRuleset(w.pendingRuleset)
		w.pendingRuleset = nil
	}
	w.eng.BeginStep(nowTick)

	for _, req := range objectives {
		err := w.eng.SetActiveObjective(req.ID)
		if req.Resp != nil {
			select {
			case req.Resp <- err:
			default:
			}
		}
	}

	w.workTasks(nowTick)
	w.assignJobs(nowTick)
	w.theorize()
	if every := w.cfg.Research.SocialEveryTicks; every > 0 && nowTick%uint64(every) == 0 {
		w.chatWithPrisoners()
	}
	for _, ev := range ingests {
		w.applyIngest(ev)
	}

	w.broadcastObserverTick(nowTick)
	w.maybeSnapshot(nowTick)

	w.tick.Store(nowTick + 1)
	w.publishMetricsStep(nowTick+1, time.Since(start))
}
