// Package world is a small colony host for the research engine: pawns, things
// and benches on a terrain grid, driven by a fixed-rate tick loop that feeds
// every research front-end.
package world

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync/atomic"

	"fieldresearch.ai/internal/persistence/snapshot"
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/frontend"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/world/terrain"
)

var ErrLayout = errors.New("world: invalid layout")

type Options struct {
	Logger *log.Logger
	// Layout defaults to DefaultLayout.
	Layout *Layout
	RunID  string
	Sinks  []research.ProgressSink
}

type World struct {
	cfg    WorldConfig
	cats   *catalogs.Catalogs
	logger *log.Logger
	runID  string

	tick atomic.Uint64

	eng *research.Engine
	rng *rand.Rand

	size       int
	grid       []string
	home       []tasks.Vec2i
	homeSet    map[tasks.Vec2i]bool
	prototypes map[tasks.Vec2i]bool
	supports   map[string]bool

	pawns   map[string]*Pawn
	things  map[string]*Thing
	benches map[string]*Bench
	// Sorted ids; iteration order is part of determinism.
	pawnOrder  []string
	thingOrder []string
	benchOrder []string

	// reserved maps a thing, bench or cell key to the pawn working it.
	reserved map[string]string

	inPlace *frontend.InPlace
	terrain *frontend.Terrain
	bench   *frontend.BenchAnalysis
	social  *frontend.Social
	ingest  *frontend.Ingest

	ingestReq     chan IngestEvent
	objectiveReq  chan objectiveReq
	admin         chan adminSnapshotReq
	observerJoin  chan ObserverJoinRequest
	observerSub   chan ObserverSubscribeRequest
	observerLeave chan string
	stop          chan struct{}

	reloads        <-chan catalogs.Reload
	pendingRuleset *catalogs.Ruleset

	observers    map[string]*observerClient
	stepEvents   []research.ProgressEvent
	snapshotSink chan<- snapshot.ResearchSnapshotV1
	// completed holds objectives a completion snapshot was already taken for.
	completed map[string]bool

	metrics atomic.Value
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, opts Options) (*World, error) {
	if cats == nil || cats.Ruleset == nil {
		return nil, fmt.Errorf("world: nil catalogs")
	}
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	layout := DefaultLayout()
	if opts.Layout != nil {
		layout = *opts.Layout
	}
	if layout.Size <= 0 {
		return nil, fmt.Errorf("%w: size %d", ErrLayout, layout.Size)
	}

	w := &World{
		cfg:        cfg,
		cats:       cats,
		logger:     opts.Logger,
		runID:      opts.RunID,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		size:       layout.Size,
		homeSet:    map[tasks.Vec2i]bool{},
		prototypes: map[tasks.Vec2i]bool{},
		supports:   map[string]bool{},
		pawns:      map[string]*Pawn{},
		things:     map[string]*Thing{},
		benches:    map[string]*Bench{},
		reserved:   map[string]string{},

		ingestReq:     make(chan IngestEvent, 256),
		objectiveReq:  make(chan objectiveReq, 16),
		admin:         make(chan adminSnapshotReq, 16),
		observerJoin:  make(chan ObserverJoinRequest, 16),
		observerSub:   make(chan ObserverSubscribeRequest, 64),
		observerLeave: make(chan string, 16),
		stop:          make(chan struct{}),

		observers: map[string]*observerClient{},
		completed: map[string]bool{},
	}
	if err := w.buildMap(layout); err != nil {
		return nil, err
	}
	if err := w.placeLayout(layout); err != nil {
		return nil, err
	}

	eng, err := research.New(research.Config{
		Catalogs:      cats,
		Prerequisites: w,
		Logger:        opts.Logger,
		Sinks:         opts.Sinks,
	})
	if err != nil {
		return nil, err
	}
	eng.AddSink(w)
	w.eng = eng

	tun := cfg.Research
	w.inPlace = frontend.NewInPlace(eng, w, tun)
	w.terrain = frontend.NewTerrain(eng, w, w, tun, w.rng)
	w.bench = frontend.NewBench(eng, w, w, tun)
	w.social = frontend.NewSocial(eng, tun)
	w.ingest = frontend.NewIngest(eng, tun)

	w.publishMetrics(0)
	return w, nil
}

func (w *World) buildMap(l Layout) error {
	if l.Terrain != nil {
		if len(l.Terrain) != l.Size*l.Size {
			return fmt.Errorf("%w: terrain has %d cells, want %d", ErrLayout, len(l.Terrain), l.Size*l.Size)
		}
		w.grid = append([]string(nil), l.Terrain...)
	} else {
		w.grid = terrain.Generate(terrain.DefaultParams(w.cfg.Seed, l.Size))
	}
	centre := tasks.Vec2i{X: l.Size / 2, Z: l.Size / 2}
	w.home = terrain.Disc(l.Size, centre, w.cfg.HomeRadius)
	for _, c := range w.home {
		w.homeSet[c] = true
	}
	for _, p := range l.Prototypes {
		w.prototypes[vec(p)] = true
	}
	for _, s := range l.Supports {
		w.supports[s] = true
	}
	return nil
}

func (w *World) placeLayout(l Layout) error {
	rs := w.cats.Ruleset
	seen := map[string]bool{}
	claim := func(id string) error {
		if id == "" {
			return fmt.Errorf("%w: empty id", ErrLayout)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate id %q", ErrLayout, id)
		}
		seen[id] = true
		return nil
	}
	known := func(id, template string) error {
		if _, ok := rs.Thing(template); !ok {
			return fmt.Errorf("%w: %s has unknown template %q", ErrLayout, id, template)
		}
		return nil
	}

	for _, ps := range l.Pawns {
		if err := claim(ps.ID); err != nil {
			return err
		}
		tmpl := ps.Template
		if tmpl == "" {
			tmpl = defaultPawnTemplate
		}
		if err := known(ps.ID, tmpl); err != nil {
			return err
		}
		p := &Pawn{
			id:               ps.ID,
			name:             ps.Name,
			template:         tmpl,
			pos:              vec(ps.Pos),
			prisoner:         ps.Prisoner,
			researchDisabled: ps.ResearchDisabled,
			kit:              ps.Kit,
			stats:            map[string]float64{},
			skills:           map[string]float64{},
		}
		for k, v := range ps.Stats {
			p.stats[k] = v
		}
		w.pawns[p.id] = p
		w.pawnOrder = append(w.pawnOrder, p.id)
	}
	for _, ts := range l.Things {
		if err := claim(ts.ID); err != nil {
			return err
		}
		if err := known(ts.ID, ts.Template); err != nil {
			return err
		}
		w.things[ts.ID] = &Thing{id: ts.ID, template: ts.Template, pos: vec(ts.Pos), forbidden: ts.Forbidden}
		w.thingOrder = append(w.thingOrder, ts.ID)
	}
	for _, bs := range l.Benches {
		if err := claim(bs.ID); err != nil {
			return err
		}
		tmpl := bs.Template
		if tmpl == "" {
			tmpl = defaultBenchTemplate
		}
		if err := known(bs.ID, tmpl); err != nil {
			return err
		}
		speed := bs.Speed
		if speed <= 0 {
			speed = 1
		}
		w.benches[bs.ID] = &Bench{Thing: Thing{id: bs.ID, template: tmpl, pos: vec(bs.Pos)}, speed: speed}
		w.benchOrder = append(w.benchOrder, bs.ID)
	}
	sort.Strings(w.pawnOrder)
	sort.Strings(w.thingOrder)
	sort.Strings(w.benchOrder)
	return nil
}

func (w *World) ID() string {
	if w == nil {
		return ""
	}
	return w.cfg.ID
}

func (w *World) Config() WorldConfig      { return w.cfg }
func (w *World) Engine() *research.Engine { return w.eng }
func (w *World) CurrentTick() uint64      { return w.tick.Load() }

// Pawn and Thing are for tests and single-goroutine callers; the tick loop
// owns the returned values.
func (w *World) Pawn(id string) (*Pawn, bool) {
	p, ok := w.pawns[id]
	return p, ok
}

func (w *World) Thing(id string) (*Thing, bool) {
	t, ok := w.things[id]
	return t, ok
}

// SetSnapshotSink receives cadence, completion and admin snapshots. Sends never
// block the tick loop.
func (w *World) SetSnapshotSink(ch chan<- snapshot.ResearchSnapshotV1) { w.snapshotSink = ch }

// OnProgress collects the step's events for the observer frame.
func (w *World) OnProgress(ev research.ProgressEvent) {
	w.stepEvents = append(w.stepEvents, ev)
}

// CanWorkOn refuses forbidden things, targets another pawn has reserved and
// cells outside the home area.
func (w *World) CanWorkOn(p frontend.Pawn, t frontend.Target) bool {
	if !p.CanDoResearch() {
		return false
	}
	if by, ok := w.reserved[t.Key()]; ok && by != p.ID() {
		return false
	}
	switch v := t.(type) {
	case *Thing:
		return !v.forbidden
	case frontend.Cell:
		return w.homeSet[v.Pos]
	}
	return true
}

func (w *World) TerrainAt(pos tasks.Vec2i) (string, bool) {
	if pos.X < 0 || pos.Z < 0 || pos.X >= w.size || pos.Z >= w.size {
		return "", false
	}
	id := w.grid[pos.Z*w.size+pos.X]
	return id, id != ""
}

func (w *World) IsPrototype(pos tasks.Vec2i) bool { return w.prototypes[pos] }
func (w *World) HomeCells() []tasks.Vec2i         { return w.home }

// UsableBenches lists benches no other pawn is using, in id order.
func (w *World) UsableBenches(p frontend.Pawn) []frontend.Bench {
	var out []frontend.Bench
	for _, id := range w.benchOrder {
		if by, ok := w.reserved[id]; ok && by != p.ID() {
			continue
		}
		out = append(out, w.benches[id])
	}
	return out
}

// PrerequisitesMet is true when every support the definition names is present
// in the colony.
func (w *World) PrerequisitesMet(def *opportunity.Definition) bool {
	for _, s := range def.RequiresSupport {
		if !w.supports[s] {
			return false
		}
	}
	return true
}

func (w *World) printf(format string, args ...any) {
	if w.logger != nil {
		w.logger.Printf(format, args...)
	}
}
