package world

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("world: request not available")

type objectiveReq struct {
	ID   string
	Resp chan error
}

// IngestEvent reports that observer gave a thing to ingester.
type IngestEvent struct {
	ObserverID string `json:"observer_id"`
	IngesterID string `json:"ingester_id"`
	ThingID    string `json:"thing_id"`
}

// RequestObjective switches the active objective at the next step and waits
// for the result. It is safe to call from other goroutines.
func (w *World) RequestObjective(ctx context.Context, id string) error {
	if w == nil || w.objectiveReq == nil {
		return ErrUnavailable
	}
	resp := make(chan error, 1)
	select {
	case w.objectiveReq <- objectiveReq{ID: id, Resp: resp}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resp:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestIngest queues ev for the next step.
func (w *World) RequestIngest(ctx context.Context, ev IngestEvent) error {
	if w == nil || w.ingestReq == nil {
		return ErrUnavailable
	}
	select {
	case w.ingestReq <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyIngest consumes the thing and credits the observer.
func (w *World) applyIngest(ev IngestEvent) {
	obs, ok1 := w.pawns[ev.ObserverID]
	ing, ok2 := w.pawns[ev.IngesterID]
	t, ok3 := w.things[ev.ThingID]
	if !ok1 || !ok2 || !ok3 {
		w.printf("world: ingest %s -> %s of %s: unknown pawn or thing", ev.ObserverID, ev.IngesterID, ev.ThingID)
		return
	}
	if def, ok := w.eng.Ruleset().Thing(t.template); !ok || !def.Ingestible {
		w.printf("world: ingest of %s: %s is not ingestible", t.id, t.template)
		return
	}
	w.ingest.Administered(obs, ing, t)
	w.removeThing(t.id)
}

func (w *World) removeThing(id string) {
	if _, ok := w.things[id]; !ok {
		return
	}
	delete(w.things, id)
	delete(w.reserved, id)
	for i, tid := range w.thingOrder {
		if tid == id {
			w.thingOrder = append(w.thingOrder[:i], w.thingOrder[i+1:]...)
			break
		}
	}
}

type adminSnapshotReq struct {
	Resp chan adminSnapshotResp
}

type adminSnapshotResp struct {
	Tick uint64
	Err  string
}

// RequestSnapshot asks the world loop goroutine to enqueue a snapshot.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (w *World) RequestSnapshot(ctx context.Context) (tick uint64, err error) {
	if w == nil || w.admin == nil {
		return 0, errors.New("admin snapshot not available")
	}
	resp := make(chan adminSnapshotResp, 1)
	req := adminSnapshotReq{Resp: resp}

	select {
	case w.admin <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case r := <-resp:
		if r.Err != "" {
			return r.Tick, errors.New(r.Err)
		}
		return r.Tick, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (w *World) handleAdminSnapshotRequests(reqs []adminSnapshotReq) {
	if w == nil || len(reqs) == 0 {
		return
	}
	cur := w.tick.Load()
	snapTick := uint64(0)
	if cur > 0 {
		snapTick = cur - 1
	}

	errStr := ""
	if w.snapshotSink == nil {
		errStr = "snapshot sink not configured"
	} else {
		snap := w.ExportSnapshot(snapTick)
		select {
		case w.snapshotSink <- snap:
		default:
			errStr = "snapshot sink backpressure"
		}
	}

	resp := adminSnapshotResp{Tick: snapTick, Err: errStr}
	for _, r := range reqs {
		if r.Resp == nil {
			continue
		}
		select {
		case r.Resp <- resp:
		default:
			// Client timed out; don't block the sim loop.
		}
	}
}
