package world

import (
	"testing"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/tuning"
)

type recordSink struct {
	events []research.ProgressEvent
}

func (s *recordSink) OnProgress(ev research.ProgressEvent) { s.events = append(s.events, ev) }

func (s *recordSink) count(opportunityID string) int {
	n := 0
	for _, ev := range s.events {
		if ev.OpportunityID == opportunityID {
			n++
		}
	}
	return n
}

func loadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

// soilLayout is a size x size map of plain soil with no pawns.
func soilLayout(size int) *Layout {
	l := &Layout{Size: size, Terrain: make([]string, size*size)}
	for i := range l.Terrain {
		l.Terrain[i] = "Soil"
	}
	return l
}

func (l *Layout) setTerrain(x, z int, id string) { l.Terrain[z*l.Size+x] = id }

func testConfig() WorldConfig {
	cfg := ConfigFromTuning("test", 42, tuning.Defaults())
	cfg.SnapshotEveryTicks = 0
	return cfg
}

func newTestWorld(t *testing.T, cfg WorldConfig, l *Layout, sinks ...research.ProgressSink) *World {
	t.Helper()
	w, err := New(cfg, loadCatalogs(t), Options{Layout: l, RunID: "run-test", Sinks: sinks})
	if err != nil {
		t.Fatalf("new world: %v", err)
	}
	return w
}

func mustPawn(t *testing.T, w *World, id string) *Pawn {
	t.Helper()
	p, ok := w.Pawn(id)
	if !ok {
		t.Fatalf("pawn %s missing", id)
	}
	return p
}
