package world

import (
	"fmt"

	"fieldresearch.ai/internal/persistence/snapshot"
	"fieldresearch.ai/internal/sim/research/frontend"
)

// ExportSnapshot captures research state and pawn progress as of nowTick.
func (w *World) ExportSnapshot(nowTick uint64) snapshot.ResearchSnapshotV1 {
	snap := snapshot.ResearchSnapshotV1{
		Header: snapshot.Header{
			Version:  snapshot.Version,
			RunID:    w.runID,
			ColonyID: w.cfg.ID,
			Tick:     nowTick,
		},
	}
	if rs := w.eng.Ruleset(); rs != nil {
		snap.RulesetDigest = rs.Digest
	}
	snap.FromState(w.eng.ExportSnapshot())
	for _, id := range w.pawnOrder {
		p := w.pawns[id]
		snap.Pawns = append(snap.Pawns, snapshot.PawnV1{
			ID:           p.id,
			Pos:          [2]int{p.pos.X, p.pos.Z},
			Intellectual: p.skills[frontend.SkillIntellectual],
		})
	}
	return snap
}

// ImportSnapshot restores a colony saved by ExportSnapshot. It must be called
// before Run. Running jobs are not persisted; pawns pick new ones.
func (w *World) ImportSnapshot(snap snapshot.ResearchSnapshotV1) error {
	if snap.Header.ColonyID != "" && snap.Header.ColonyID != w.cfg.ID {
		return fmt.Errorf("world: snapshot is for colony %q, not %q", snap.Header.ColonyID, w.cfg.ID)
	}
	if rs := w.eng.Ruleset(); rs != nil && snap.RulesetDigest != "" && snap.RulesetDigest != rs.Digest {
		w.printf("world: ruleset changed since snapshot at tick %d", snap.Header.Tick)
	}
	if err := w.eng.ImportSnapshot(snap.State()); err != nil {
		return fmt.Errorf("world: import snapshot: %w", err)
	}
	for _, ps := range snap.Pawns {
		p, ok := w.pawns[ps.ID]
		if !ok {
			w.printf("world: snapshot pawn %s not in layout, dropped", ps.ID)
			continue
		}
		p.pos = vec(ps.Pos)
		p.skills[frontend.SkillIntellectual] = ps.Intellectual
	}
	for _, p := range w.pawns {
		w.endTask(p)
	}
	for id, o := range snap.Objectives {
		if obj, err := w.eng.Objective(id); err == nil && o >= obj.Cost() {
			w.completed[id] = true
		}
	}
	w.tick.Store(snap.Header.Tick + 1)
	return nil
}

// maybeSnapshot emits the cadence snapshot, plus one when the active objective
// has just completed.
func (w *World) maybeSnapshot(nowTick uint64) {
	if w.snapshotSink == nil {
		return
	}
	if obj := w.eng.ActiveObjective(); obj != nil && obj.Complete() && !w.completed[obj.ID()] {
		w.completed[obj.ID()] = true
		w.printf("world: objective %s complete at tick %d, saving", obj.ID(), nowTick)
		// Blocks: completion snapshots feed the archive and must not be dropped.
		w.snapshotSink <- w.ExportSnapshot(nowTick)
		return
	}
	every := uint64(w.cfg.SnapshotEveryTicks)
	if every == 0 || (nowTick+1)%every != 0 {
		return
	}
	select {
	case w.snapshotSink <- w.ExportSnapshot(nowTick):
	default:
		w.printf("world: snapshot sink backpressure, skipped tick %d", nowTick)
	}
}
