package world

import (
	"encoding/json"
	"sort"

	"fieldresearch.ai/internal/observerproto"
	"fieldresearch.ai/internal/sim/encoding"
	"fieldresearch.ai/internal/sim/research/opportunity"
)

type ObserverJoinRequest struct {
	SessionID string
	TickOut   chan []byte

	Modes              []string
	IncludeUnavailable bool
	EveryTicks         int
}

type ObserverSubscribeRequest struct {
	SessionID string

	Modes              []string
	IncludeUnavailable bool
	EveryTicks         int
}

type observerClient struct {
	id      string
	tickOut chan []byte
	cfg     observerCfg
}

type observerCfg struct {
	// modes is zero when every mode is wanted.
	modes              opportunity.HandlingMode
	includeUnavailable bool
	everyTicks         uint64
}

func (w *World) ObserverJoin() chan<- ObserverJoinRequest           { return w.observerJoin }
func (w *World) ObserverSubscribe() chan<- ObserverSubscribeRequest { return w.observerSub }
func (w *World) ObserverLeave() chan<- string                       { return w.observerLeave }

func (w *World) observerConfig(modes []string, includeUnavailable bool, every int) observerCfg {
	cfg := observerCfg{includeUnavailable: includeUnavailable, everyTicks: 1}
	if every > 1 {
		cfg.everyTicks = uint64(every)
	}
	for _, name := range modes {
		m, err := opportunity.ParseHandlingModes([]string{name})
		if err != nil {
			w.printf("world: observer: %v", err)
			continue
		}
		cfg.modes |= m
	}
	return cfg
}

func (w *World) handleObserverJoin(req ObserverJoinRequest) {
	if w == nil || req.SessionID == "" || req.TickOut == nil {
		return
	}
	// Replace existing session id if any.
	if old := w.observers[req.SessionID]; old != nil {
		close(old.tickOut)
	}
	w.observers[req.SessionID] = &observerClient{
		id:      req.SessionID,
		tickOut: req.TickOut,
		cfg:     w.observerConfig(req.Modes, req.IncludeUnavailable, req.EveryTicks),
	}
}

func (w *World) handleObserverSubscribe(req ObserverSubscribeRequest) {
	c := w.observers[req.SessionID]
	if c == nil {
		return
	}
	c.cfg = w.observerConfig(req.Modes, req.IncludeUnavailable, req.EveryTicks)
}

func (w *World) handleObserverLeave(id string) {
	c := w.observers[id]
	if c == nil {
		return
	}
	close(c.tickOut)
	delete(w.observers, id)
}

// drainObserverRequests applies queued session changes when there is no Run
// loop to receive them.
func (w *World) drainObserverRequests() {
	for {
		select {
		case req := <-w.observerJoin:
			w.handleObserverJoin(req)
		case req := <-w.observerSub:
			w.handleObserverSubscribe(req)
		case id := <-w.observerLeave:
			w.handleObserverLeave(id)
		default:
			return
		}
	}
}

// broadcastObserverTick builds the frame once and filters it per client.
func (w *World) broadcastObserverTick(nowTick uint64) {
	if len(w.observers) == 0 {
		return
	}
	frame, modes := w.buildTickFrame(nowTick)

	ids := make([]string, 0, len(w.observers))
	for id := range w.observers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := w.observers[id]
		if nowTick%c.cfg.everyTicks != 0 {
			continue
		}
		msg := frame
		msg.Opportunities = nil
		for i, o := range frame.Opportunities {
			if c.cfg.modes != 0 && modes[i]&c.cfg.modes == 0 {
				continue
			}
			if !c.cfg.includeUnavailable && o.Availability == opportunity.Unavailable.String() {
				continue
			}
			msg.Opportunities = append(msg.Opportunities, o)
		}
		if msg.Opportunities == nil {
			msg.Opportunities = []observerproto.OpportunityState{}
		}
		b, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		sendLatest(c.tickOut, b)
	}
}

// buildTickFrame returns every opportunity; modes[i] belongs to
// Opportunities[i].
func (w *World) buildTickFrame(nowTick uint64) (observerproto.TickMsg, []opportunity.HandlingMode) {
	msg := observerproto.TickMsg{
		Type:            "TICK",
		ProtocolVersion: observerproto.Version,
		Tick:            nowTick,
	}
	if obj := w.eng.ActiveObjective(); obj != nil {
		msg.Objective = &observerproto.ObjectiveState{
			ID:       obj.ID(),
			Progress: obj.Progress(),
			Cost:     obj.Cost(),
			Complete: obj.Complete(),
		}
	}
	rs := w.eng.Ruleset()
	insts := w.eng.Instances()
	modes := make([]opportunity.HandlingMode, 0, len(insts))
	for _, inst := range insts {
		def := inst.Definition()
		label := def.Label
		if label == "" {
			label = inst.Requirement().ShortDesc(rs)
		}
		msg.Opportunities = append(msg.Opportunities, observerproto.OpportunityState{
			ID:           def.ID,
			Label:        label,
			Modes:        def.Modes.String(),
			Relation:     string(inst.Relation()),
			Category:     inst.Category().ID,
			Progress:     inst.Progress(),
			Target:       inst.Target(),
			Availability: w.eng.Availability(inst).String(),
			Rare:         inst.Requirement().IsRare(),
		})
		modes = append(modes, def.Modes)
	}
	for _, id := range w.pawnOrder {
		p := w.pawns[id]
		ps := observerproto.PawnState{
			ID:       p.id,
			Name:     p.name,
			Prisoner: p.prisoner,
			Pos:      [2]int{p.pos.X, p.pos.Z},
		}
		if t := p.task; t != nil {
			ps.Task = &observerproto.TaskState{
				Kind:          string(t.Driver),
				OpportunityID: t.OpportunityID,
				TargetID:      t.ThingID,
				BenchID:       t.BenchID,
				Cell:          [2]int{t.Cell.X, t.Cell.Z},
				WorkTicks:     t.WorkTicks,
				ExpiresTick:   t.ExpiresTick,
			}
		}
		msg.Pawns = append(msg.Pawns, ps)
	}
	for _, ev := range w.stepEvents {
		msg.Progress = append(msg.Progress, observerproto.ProgressEntry{
			OpportunityID: ev.OpportunityID,
			Delta:         ev.Delta,
			Finished:      ev.Finished,
		})
	}
	return msg, modes
}

// ObserverBootstrap only reads state fixed at construction, so it may be
// called from any goroutine.
func (w *World) ObserverBootstrap() observerproto.BootstrapResponse {
	palette, data := encoding.EncodeTerrain(w.grid)
	resp := observerproto.BootstrapResponse{
		ProtocolVersion: observerproto.Version,
		ColonyID:        w.cfg.ID,
		Tick:            w.CurrentTick(),
		ColonyParams: observerproto.ColonyParams{
			TickRateHz: w.cfg.TickRateHz,
			Size:       w.size,
			Seed:       w.cfg.Seed,
			HomeRadius: w.cfg.HomeRadius,
		},
		TerrainPalette:  palette,
		TerrainEncoding: encoding.TerrainEncoding,
		Terrain:         data,
	}
	for pos := range w.prototypes {
		resp.ColonyParams.Prototypes = append(resp.ColonyParams.Prototypes, [2]int{pos.X, pos.Z})
	}
	sort.Slice(resp.ColonyParams.Prototypes, func(i, j int) bool {
		a, b := resp.ColonyParams.Prototypes[i], resp.ColonyParams.Prototypes[j]
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[0] < b[0]
	})
	ids := make([]string, 0, len(w.cats.Objectives.ByID))
	for id := range w.cats.Objectives.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		def := w.cats.Objectives.ByID[id]
		resp.Objectives = append(resp.Objectives, observerproto.ObjectiveInfo{ID: def.ID, Label: def.Label, Cost: def.Cost})
	}
	return resp
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
