package frontend

import (
	"math"
	"math/rand"
	"testing"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/tuning"
)

type fakePawn struct {
	id    string
	thing string
	pos   tasks.Vec2i
	stats map[string]float64
	kit   bool
	noRes bool
	xp    float64
}

func (p *fakePawn) Template() requirement.TemplateRef { return requirement.ThingRef(p.thing) }
func (p *fakePawn) ID() string                        { return p.id }
func (p *fakePawn) Position() tasks.Vec2i             { return p.pos }
func (p *fakePawn) CanDoResearch() bool               { return !p.noRes }
func (p *fakePawn) HasResearchKit() bool              { return p.kit }
func (p *fakePawn) Learn(_ string, xp float64)        { p.xp += xp }

func (p *fakePawn) Stat(name string) float64 {
	if v, ok := p.stats[name]; ok {
		return v
	}
	return 1
}

func colonist(id string) *fakePawn {
	return &fakePawn{id: id, thing: "Human", stats: map[string]float64{}}
}

type fakeThing struct {
	key   string
	thing string
	pos   tasks.Vec2i
}

func (t fakeThing) Template() requirement.TemplateRef { return requirement.ThingRef(t.thing) }
func (t fakeThing) Key() string                       { return t.key }
func (t fakeThing) Position() tasks.Vec2i             { return t.pos }

type fakeBench struct {
	fakeThing
	speed float64
}

func (b fakeBench) SpeedFactor() float64 { return b.speed }

type denyAll struct{}

func (denyAll) CanWorkOn(Pawn, Target) bool { return false }

func newEngine(t *testing.T, objective string) *research.Engine {
	t.Helper()
	cats, err := catalogs.Load("../../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	eng, err := research.New(research.Config{Catalogs: cats})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	eng.BeginStep(1)
	if err := eng.SetActiveObjective(objective); err != nil {
		t.Fatalf("objective: %v", err)
	}
	return eng
}

func TestInPlace_JobLifecycle(t *testing.T) {
	eng := newEngine(t, "Electricity")
	tun := tuning.Defaults().Research
	f := NewInPlace(eng, nil, tun)
	p := colonist("alice")
	battery := fakeThing{key: "thing:1", thing: "Battery"}

	if f.ShouldSkip(p) {
		t.Fatalf("there is work for Electricity")
	}
	if ok, why := f.HasJobOn(p, battery); !ok {
		t.Fatalf("HasJobOn battery: %s", why)
	}
	if ok, why := f.HasJobOn(p, fakeThing{key: "thing:2", thing: "Steel"}); ok || why != FailNoOpportunity {
		t.Fatalf("steel: %v %s", ok, why)
	}
	// analyse_battery is a descendant of Electricity and uses the minor category.
	if got := f.Priority(p, battery); got != 0.5 {
		t.Fatalf("priority = %v", got)
	}

	task, err := f.JobOn(p, battery, 1)
	if err != nil {
		t.Fatalf("JobOn: %v", err)
	}
	if task.Driver != tasks.DriverAnalyseInPlace || task.TaskTemplate != "RR_AnalyseInPlace" ||
		task.OpportunityID != "analyse_battery" || task.ExpiresTick != 1+uint64(tun.JobExpiryTicks) {
		t.Fatalf("task: %+v", task)
	}

	ticks := 0
	for tick := uint64(2); ; tick++ {
		eng.BeginStep(tick)
		ticks++
		res := f.WorkTick(p, task)
		if res == TickFinished {
			break
		}
		if res == TickStopped || ticks > 1000 {
			t.Fatalf("unexpected %s after %d ticks", res, ticks)
		}
	}
	// 160 target at 1 * 1 * 0.5 per tick.
	if ticks != 320 {
		t.Fatalf("ticks = %d", ticks)
	}
	if math.Abs(p.xp-320*0.1*0.5) > 1e-9 {
		t.Fatalf("xp = %v", p.xp)
	}
	eng.BeginStep(1000)
	if res := f.WorkTick(p, task); res != TickStopped {
		t.Fatalf("finished opportunity must stop the job, got %s", res)
	}
	if ok, _ := f.HasJobOn(p, battery); !ok {
		t.Fatalf("battery is still in the power buildings group")
	}
	if _, err := f.JobOn(p, fakeThing{key: "x", thing: "Muffalo"}, 5); err == nil {
		t.Fatalf("expected ErrNoOpportunity")
	}
}

func TestInPlace_AccessAndKit(t *testing.T) {
	eng := newEngine(t, "Batteries")
	battery := fakeThing{key: "thing:1", thing: "Battery"}
	p := colonist("bob")

	denied := NewInPlace(eng, denyAll{}, tuning.Defaults().Research)
	if ok, why := denied.HasJobOn(p, battery); ok || why != FailUnavailable {
		t.Fatalf("access: %v %s", ok, why)
	}

	f := NewInPlace(eng, nil, tuning.Defaults().Research)
	if ok, why := f.HasJobOn(p, battery); ok || why != FailNeedKit {
		t.Fatalf("kit: %v %s", ok, why)
	}
	p.kit = true
	if ok, _ := f.HasJobOn(p, battery); !ok {
		t.Fatalf("with kit the job is allowed")
	}

	eng.ClearActiveObjective()
	if !f.ShouldSkip(p) {
		t.Fatalf("no objective: skip")
	}
	if ok, why := f.HasJobOn(p, battery); ok || why != FailNoObjective {
		t.Fatalf("no objective: %v %s", ok, why)
	}
}

type fakeGrid struct {
	terrain   map[tasks.Vec2i]string
	prototype map[tasks.Vec2i]bool
}

func (g fakeGrid) TerrainAt(p tasks.Vec2i) (string, bool) {
	id, ok := g.terrain[p]
	return id, ok
}
func (g fakeGrid) IsPrototype(p tasks.Vec2i) bool { return g.prototype[p] }
func (g fakeGrid) HomeCells() []tasks.Vec2i {
	var out []tasks.Vec2i
	for p := range g.terrain {
		out = append(out, p)
	}
	return out
}

func TestTerrain_CellsAndPriority(t *testing.T) {
	eng := newEngine(t, "Stonecutting")
	grid := fakeGrid{
		terrain: map[tasks.Vec2i]string{
			{X: 5, Z: 0}: "Granite_Rough",
			{X: 6, Z: 0}: "Soil",
			{X: 7, Z: 0}: "Granite_Rough",
		},
		prototype: map[tasks.Vec2i]bool{{X: 7, Z: 0}: true},
	}
	tun := tuning.Defaults().Research
	f := NewTerrain(eng, grid, nil, tun, rand.New(rand.NewSource(7)))
	p := colonist("carol")

	if f.ShouldSkip(p) || len(f.PotentialCells()) != 3 {
		t.Fatalf("expected terrain work")
	}
	if ok, why := f.HasJobOn(p, tasks.Vec2i{X: 5}); !ok {
		t.Fatalf("granite: %s", why)
	}
	if ok, why := f.HasJobOn(p, tasks.Vec2i{X: 6}); ok || why != FailNoOpportunity {
		t.Fatalf("soil: %v %s", ok, why)
	}
	if ok, why := f.HasJobOn(p, tasks.Vec2i{X: 7}); ok || why != FailIsPrototype {
		t.Fatalf("prototype: %v %s", ok, why)
	}
	if ok, _ := f.HasJobOn(p, tasks.Vec2i{X: 99}); ok {
		t.Fatalf("off-map cell")
	}

	far := f.Priority(p, tasks.Vec2i{X: 5})
	if far < 0.2-3 || far >= 0.2-3+tun.PriorityJitter {
		t.Fatalf("priority at distance 5 = %v", far)
	}
	p.pos = tasks.Vec2i{X: 5, Z: 1}
	near := f.Priority(p, tasks.Vec2i{X: 5})
	if near < 1.0/7-3 || near >= 1.0/7-3+tun.PriorityJitter {
		t.Fatalf("priority at distance 1 = %v", near)
	}

	task, err := f.JobOn(p, tasks.Vec2i{X: 5}, 10)
	if err != nil {
		t.Fatalf("JobOn: %v", err)
	}
	if task.Driver != tasks.DriverAnalyseTerrain || task.Cell != (tasks.Vec2i{X: 5}) || task.OpportunityID != "analyse_rough_granite" {
		t.Fatalf("task: %+v", task)
	}
	if res := f.WorkTick(p, task); res != TickContinue {
		t.Fatalf("first tick: %s", res)
	}
	inst, _ := eng.Instance("analyse_rough_granite")
	if inst.Progress() != 1 {
		t.Fatalf("progress after one tick = %v", inst.Progress())
	}
}

type fakeFinder struct{ benches []Bench }

func (f fakeFinder) UsableBenches(Pawn) []Bench { return f.benches }

func TestBench_PicksFastestBenchAndChunks(t *testing.T) {
	eng := newEngine(t, "Electricity")
	tun := tuning.Defaults().Research
	finder := fakeFinder{benches: []Bench{
		fakeBench{fakeThing{key: "bench:slow", thing: "ResearchBench"}, 1.0},
		fakeBench{fakeThing{key: "bench:fast", thing: "ResearchBench"}, 1.5},
	}}
	f := NewBench(eng, finder, nil, tun)
	p := colonist("dave")
	component := fakeThing{key: "thing:c", thing: "ComponentIndustrial"}

	if refs := f.Analysable(); len(refs) != 1 || refs[0] != requirement.ThingRef("ComponentIndustrial") {
		t.Fatalf("analysable: %v", refs)
	}
	if ok, why := f.HasJobOn(p, component); !ok {
		t.Fatalf("HasJobOn: %s", why)
	}
	task, err := f.JobOn(p, component, 3)
	if err != nil {
		t.Fatalf("JobOn: %v", err)
	}
	if task.BenchID != "bench:fast" || task.Driver != tasks.DriverAnalyse || task.OpportunityID != "analyse_components" {
		t.Fatalf("task: %+v", task)
	}

	var res TickResult
	for i := 0; i < tun.BenchAnalysisDurationTicks; i++ {
		res = f.WorkTick(p, task, 1.5)
		if i < tun.BenchAnalysisDurationTicks-1 && res != TickContinue {
			t.Fatalf("tick %d: %s", i, res)
		}
	}
	if res != TickUnitDone {
		t.Fatalf("end of unit: %s", res)
	}
	inst, _ := eng.Instance("analyse_components")
	if math.Abs(inst.Progress()-tun.BenchAnalysisAmount*1.5) > 1e-9 {
		t.Fatalf("bench chunk = %v", inst.Progress())
	}

	none := NewBench(eng, fakeFinder{}, nil, tun)
	if ok, why := none.HasJobOn(p, component); ok || why != FailNoBench {
		t.Fatalf("no bench: %v %s", ok, why)
	}
}

func TestSocial_LearnFromPrisoner(t *testing.T) {
	eng := newEngine(t, "Brewing")
	f := NewSocial(eng, tuning.Defaults().Research)
	warden := colonist("warden")
	warden.stats[StatNegotiationAbility] = 0.8
	warden.stats[StatResearchSpeed] = 1.2
	prisoner := colonist("prisoner")
	prisoner.stats[StatResearchSpeed] = 0.5

	inst := f.Interacted(warden, prisoner)
	if inst == nil || inst.Definition().ID != "learn_from_prisoner" {
		t.Fatalf("interaction credited %v", inst)
	}
	if math.Abs(inst.Progress()-10*0.8*1.2) > 1e-9 {
		t.Fatalf("progress = %v", inst.Progress())
	}

	animal := &fakePawn{id: "muffalo", thing: "Muffalo"}
	if f.Interacted(warden, animal) != nil {
		t.Fatalf("animals know no science")
	}
}

func TestIngest_ObservedAdministration(t *testing.T) {
	eng := newEngine(t, "Brewing")
	f := NewIngest(eng, tuning.Defaults().Research)
	doctor := colonist("doctor")
	patient := colonist("patient")

	if n := f.Administered(doctor, patient, fakeThing{key: "beer", thing: "Beer"}); n != 1 {
		t.Fatalf("beer credited %d", n)
	}
	drugs, _ := eng.Instance("observe_drug_use")
	if math.Abs(drugs.Progress()-25*0.75) > 1e-9 {
		t.Fatalf("drug observation progress = %v", drugs.Progress())
	}
	if n := f.Administered(doctor, patient, fakeThing{key: "med", thing: "MedicineHerbal"}); n != 1 {
		t.Fatalf("medicine credited %d", n)
	}

	doctor.noRes = true
	if n := f.Administered(doctor, patient, fakeThing{key: "beer2", thing: "Beer"}); n != 0 {
		t.Fatalf("non-researcher credited %d", n)
	}
}

func TestWorkTick_StopsWhenObjectiveChanges(t *testing.T) {
	tun := tuning.Defaults().Research

	t.Run("in place", func(t *testing.T) {
		eng := newEngine(t, "Electricity")
		f := NewInPlace(eng, nil, tun)
		p := colonist("erin")
		battery := fakeThing{key: "thing:1", thing: "Battery"}
		task, err := f.JobOn(p, battery, 1)
		if err != nil {
			t.Fatalf("JobOn: %v", err)
		}
		if task.ObjectiveID != "Electricity" {
			t.Fatalf("task objective = %q", task.ObjectiveID)
		}
		eng.BeginStep(2)
		if res := f.WorkTick(p, task); res != TickContinue {
			t.Fatalf("first tick: %s", res)
		}

		// analyse_battery is linked to Batteries too; the old job must not feed it.
		if err := eng.SetActiveObjective("Batteries"); err != nil {
			t.Fatalf("switch: %v", err)
		}
		eng.BeginStep(3)
		if res := f.WorkTick(p, task); res != TickStopped {
			t.Fatalf("after switch: %s", res)
		}
		inst, ok := eng.Instance("analyse_battery")
		if !ok || inst.Progress() != 0 || eng.ActiveObjective().Progress() != 0 {
			t.Fatalf("new objective credited by old job")
		}
		if ok, why := f.HasJobOn(p, battery); ok || why != FailNeedKit {
			t.Fatalf("a new job still needs a kit: %v %s", ok, why)
		}
	})

	t.Run("terrain", func(t *testing.T) {
		eng := newEngine(t, "Stonecutting")
		grid := fakeGrid{terrain: map[tasks.Vec2i]string{{X: 5, Z: 0}: "Granite_Rough"}}
		f := NewTerrain(eng, grid, nil, tun, rand.New(rand.NewSource(3)))
		p := colonist("frank")
		task, err := f.JobOn(p, tasks.Vec2i{X: 5}, 1)
		if err != nil {
			t.Fatalf("JobOn: %v", err)
		}
		if err := eng.SetActiveObjective("Brewing"); err != nil {
			t.Fatalf("switch: %v", err)
		}
		eng.BeginStep(2)
		if res := f.WorkTick(p, task); res != TickStopped {
			t.Fatalf("after switch: %s", res)
		}
		if eng.ActiveObjective().Progress() != 0 {
			t.Fatalf("Brewing credited by a terrain job")
		}
	})

	t.Run("bench", func(t *testing.T) {
		eng := newEngine(t, "Electricity")
		finder := fakeFinder{benches: []Bench{fakeBench{fakeThing{key: "bench:1", thing: "ResearchBench"}, 1}}}
		f := NewBench(eng, finder, nil, tun)
		p := colonist("gina")
		p.kit = true
		task, err := f.JobOn(p, fakeThing{key: "thing:c", thing: "ComponentIndustrial"}, 1)
		if err != nil {
			t.Fatalf("JobOn: %v", err)
		}
		for i := 0; i < tun.BenchAnalysisDurationTicks-1; i++ {
			f.WorkTick(p, task, 1)
		}
		if err := eng.SetActiveObjective("Batteries"); err != nil {
			t.Fatalf("switch: %v", err)
		}
		eng.BeginStep(2)
		if res := f.WorkTick(p, task, 1); res != TickStopped {
			t.Fatalf("after switch: %s", res)
		}
		inst, ok := eng.Instance("analyse_components")
		if !ok || inst.Progress() != 0 {
			t.Fatalf("Batteries components credited by old job")
		}
	})
}
