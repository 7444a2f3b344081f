package worldtest

import (
	"encoding/json"
	"testing"

	"fieldresearch.ai/internal/observerproto"
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/tuning"
	world "fieldresearch.ai/internal/sim/world"
)

// Harness is a small black-box test helper for driving a colony via exported APIs:
// - Step()/StepFor() advance the colony via StepOnce()
// - an observer session captures the TICK frame of every step
// - Objective() reads engine progress
//
// It intentionally avoids touching world internals so tests can live outside the world package.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World

	out       chan []byte
	lastFrame observerproto.TickMsg
}

func DefaultConfig() world.WorldConfig {
	cfg := world.ConfigFromTuning("test", 42, tuning.Defaults())
	cfg.SnapshotEveryTicks = 0
	return cfg
}

func LoadCatalogs(t *testing.T) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, cfg world.WorldConfig, cats *catalogs.Catalogs, layout *world.Layout) *Harness {
	t.Helper()
	w, err := world.New(cfg, cats, world.Options{Layout: layout, RunID: "run-test"})
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	return NewHarnessWithWorld(t, w, cats)
}

// NewHarnessWithWorld is like NewHarness, but uses an already-constructed world instance.
// This is useful for snapshot round-trip tests where the snapshot is imported first.
func NewHarnessWithWorld(t *testing.T, w *world.World, cats *catalogs.Catalogs) *Harness {
	t.Helper()
	if w == nil {
		t.Fatalf("NewHarnessWithWorld: nil world")
	}
	h := &Harness{T: t, Cats: cats, W: w, out: make(chan []byte, 1)}
	select {
	case w.ObserverJoin() <- world.ObserverJoinRequest{SessionID: "harness", TickOut: h.out, IncludeUnavailable: true}:
	default:
		t.Fatalf("observer join queue full")
	}
	return h
}

// Step runs one tick and returns its observer frame.
func (h *Harness) Step(in world.StepInput) observerproto.TickMsg {
	h.T.Helper()
	h.W.StepOnce(in)
	select {
	case b := <-h.out:
		var msg observerproto.TickMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			h.T.Fatalf("decode tick frame: %v", err)
		}
		h.lastFrame = msg
	default:
		h.T.Fatalf("no observer frame for tick %d", h.W.CurrentTick()-1)
	}
	return h.lastFrame
}

func (h *Harness) StepFor(n int) observerproto.TickMsg {
	h.T.Helper()
	for i := 0; i < n; i++ {
		h.Step(world.StepInput{})
	}
	return h.lastFrame
}

func (h *Harness) LastFrame() observerproto.TickMsg { return h.lastFrame }

// Objective returns the progress of id; unknown ids fail the test.
func (h *Harness) Objective(id string) float64 {
	h.T.Helper()
	obj, err := h.W.Engine().Objective(id)
	if err != nil {
		h.T.Fatalf("objective %s: %v", id, err)
	}
	return obj.Progress()
}

func (h *Harness) Opportunity(id string) (observerproto.OpportunityState, bool) {
	for _, o := range h.lastFrame.Opportunities {
		if o.ID == id {
			return o, true
		}
	}
	return observerproto.OpportunityState{}, false
}
