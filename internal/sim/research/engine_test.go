package research

import (
	"bytes"
	"errors"
	"iter"
	"log"
	"strings"
	"sync"
	"testing"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
)

type recordSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (r *recordSink) OnProgress(ev ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func newEngine(t *testing.T) (*Engine, *catalogs.Catalogs, *bytes.Buffer, *recordSink) {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	var buf bytes.Buffer
	sink := &recordSink{}
	e, err := New(Config{Catalogs: cats, Logger: log.New(&buf, "", 0), Sinks: []ProgressSink{sink}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, cats, &buf, sink
}

var inPlace = Filter{Modes: opportunity.ModeJobAnalysis, Driver: tasks.DriverAnalyseInPlace}

func count(seq iter.Seq[*opportunity.Instance]) int {
	n := 0
	for range seq {
		n++
	}
	return n
}

func TestEngine_NoObjective(t *testing.T) {
	e, _, _, sink := newEngine(t)
	e.BeginStep(1)
	if e.ActiveObjective() != nil {
		t.Fatalf("expected no objective")
	}
	if n := count(e.QueryOpportunities(Filter{})); n != 0 {
		t.Fatalf("query without objective yielded %d", n)
	}
	if e.AnyOpportunity(Filter{}) || len(e.QueryByEntityTemplate(requirement.ThingRef("Battery"), inPlace)) != 0 {
		t.Fatalf("caches must be empty without objective")
	}
	if _, err := e.AddObjectiveProgress(10); !errors.Is(err, ErrNoActiveObjective) {
		t.Fatalf("AddObjectiveProgress: %v", err)
	}

	// An instance from a cleared objective cannot receive progress.
	if err := e.SetActiveObjective("Electricity"); err != nil {
		t.Fatalf("set: %v", err)
	}
	inst, ok := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace)
	if !ok {
		t.Fatalf("expected battery opportunity")
	}
	e.ClearActiveObjective()
	if e.ApplyProgress(inst, 10, 1, 1) {
		t.Fatalf("stale instance accepted progress")
	}
	if e.ApplyProgress(nil, 10, 1, 1) {
		t.Fatalf("nil instance")
	}
	if len(sink.events) != 0 {
		t.Fatalf("no events expected: %+v", sink.events)
	}
	if e.Availability(inst) != opportunity.Unavailable {
		t.Fatalf("stale instance must be unavailable")
	}
}

func TestEngine_UnknownObjectiveKeepsState(t *testing.T) {
	e, _, buf, _ := newEngine(t)
	if err := e.SetActiveObjective("Brewing"); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := e.SetActiveObjective("Teleportation")
	if !errors.Is(err, ErrUnknownObjective) {
		t.Fatalf("expected ErrUnknownObjective, got %v", err)
	}
	if o := e.ActiveObjective(); o == nil || o.ID() != "Brewing" {
		t.Fatalf("active objective changed: %v", o)
	}
	if !strings.Contains(buf.String(), `unknown objective "Teleportation"`) {
		t.Fatalf("expected a log line, got:\n%s", buf.String())
	}
}

func TestEngine_CacheCoherentWithinStep(t *testing.T) {
	e, _, _, sink := newEngine(t)
	e.BeginStep(10)
	if err := e.SetActiveObjective("Electricity"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Battery is matched directly and through the PowerBuildings group.
	got := e.QueryByEntityTemplate(requirement.ThingRef("Battery"), inPlace)
	if len(got) != 2 || got[0].Definition().ID != "analyse_battery" || got[1].Definition().ID != "analyse_power_buildings" {
		t.Fatalf("battery query: %v", got)
	}
	if g := e.QueryByEntityTemplate(requirement.ThingRef("WoodFiredGenerator"), inPlace); len(g) != 1 || g[0].Definition().ID != "analyse_power_buildings" {
		t.Fatalf("group member query: %v", g)
	}

	if !e.ApplyProgress(got[0], 1e9, 1, 1) {
		t.Fatalf("expected battery to finish")
	}
	// Same step: the finished instance is still listed and further progress is a no-op.
	again := e.QueryByEntityTemplate(requirement.ThingRef("Battery"), inPlace)
	if len(again) != 2 || again[0] != got[0] {
		t.Fatalf("cache must be stable within a step: %v", again)
	}
	if !e.ApplyProgress(again[0], 5, 1, 1) {
		t.Fatalf("finished instance must report finished")
	}
	if c := e.caches[inPlace]; c.byTemplate.Rebuilds() != 1 {
		t.Fatalf("rebuilds within step = %d", c.byTemplate.Rebuilds())
	}
	if len(sink.events) != 1 || !sink.events[0].Finished || sink.events[0].Tick != 10 {
		t.Fatalf("events: %+v", sink.events)
	}

	e.BeginStep(11)
	if g := e.QueryByEntityTemplate(requirement.ThingRef("Battery"), inPlace); len(g) != 1 || g[0].Definition().ID != "analyse_power_buildings" {
		t.Fatalf("next step must drop the finished instance: %v", g)
	}
	tpl := e.Templates(inPlace)
	if len(tpl) != 2 {
		t.Fatalf("templates: %v", tpl)
	}
}

func TestEngine_SocialFilter(t *testing.T) {
	e, _, _, _ := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Stonecutting")
	social := Filter{Modes: opportunity.ModeSocial}
	var ids []string
	for inst := range e.QueryOpportunities(social) {
		ids = append(ids, inst.Definition().ID)
	}
	if len(ids) != 1 || ids[0] != "learn_from_prisoner" {
		t.Fatalf("social: %v", ids)
	}
	if _, ok := e.FirstForTemplate(requirement.ThingRef("Human"), social); !ok {
		t.Fatalf("humans satisfy the prisoner opportunity")
	}
	if _, ok := e.FirstForTemplate(requirement.ThingRef("Muffalo"), social); ok {
		t.Fatalf("animals must not")
	}
}

func TestEngine_ObjectiveCompletionEmptiesQueries(t *testing.T) {
	e, _, _, sink := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Brewing")
	if _, err := e.AddObjectiveProgress(500); err != nil {
		t.Fatalf("add: %v", err)
	}

	var generic *opportunity.Instance
	for inst := range e.QueryOpportunities(Filter{Modes: opportunity.ModeJobTheory}) {
		generic = inst
	}
	if generic == nil || generic.Target() != 150 {
		t.Fatalf("generic research instance: %v", generic)
	}
	if e.ApplyProgress(generic, 150, 1, 1) {
		t.Fatalf("generic instance must stay unfinished")
	}
	obj := e.ActiveObjective()
	if !obj.Complete() || obj.Progress() != 600 || generic.Progress() != 100 {
		t.Fatalf("objective %v/%v instance %v", obj.Progress(), obj.Cost(), generic.Progress())
	}
	if e.AnyOpportunity(Filter{}) || count(e.QueryOpportunities(Filter{IncludeInvalid: true})) != 0 {
		t.Fatalf("completed objective must empty queries")
	}
	if e.Availability(generic) != opportunity.Unavailable {
		t.Fatalf("unfinished instance of a completed objective is unavailable")
	}
	if len(sink.events) != 2 || sink.events[0].OpportunityID != "" || sink.events[0].Delta != 500 {
		t.Fatalf("direct objective progress event: %+v", sink.events)
	}
	last := sink.events[len(sink.events)-1]
	if !last.ObjectiveComplete || last.Delta != 100 {
		t.Fatalf("last event: %+v", last)
	}
}

func TestEngine_ObjectiveProgressSurvivesSwitching(t *testing.T) {
	e, _, _, _ := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Electricity")
	inst, _ := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace)
	e.ApplyProgress(inst, 40, 1, 1)

	_ = e.SetActiveObjective("Brewing")
	_ = e.SetActiveObjective("Electricity")
	if p := e.ActiveObjective().Progress(); p != 40 {
		t.Fatalf("objective progress = %v", p)
	}
	fresh, _ := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace)
	if fresh == inst || fresh.Progress() != 0 {
		t.Fatalf("instances must be regenerated on switch")
	}
}

func TestEngine_SwapRuleset(t *testing.T) {
	e, cats, buf, _ := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Electricity")
	if _, ok := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace); !ok {
		t.Fatalf("expected battery before swap")
	}

	rs := cats.Ruleset.Clone()
	delete(rs.Things.Defs, "Battery")
	rs.Digest = "edited"
	e.SwapRuleset(rs)

	for i := 0; i < 3; i++ {
		if _, ok := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace); ok {
			t.Fatalf("removed template still indexed")
		}
		e.BeginStep(uint64(2 + i))
	}
	if n := strings.Count(buf.String(), "opportunity analyse_battery "); n != 1 {
		t.Fatalf("diagnostics = %d:\n%s", n, buf.String())
	}
	inst := e.Instances()[0]
	if inst.Definition().ID != "analyse_battery" || e.IsValid(inst) {
		t.Fatalf("analyse_battery must be invalid after the swap")
	}
}

func TestEngine_SnapshotRoundTrip(t *testing.T) {
	e, cats, _, _ := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Electricity")
	bat, _ := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace)
	e.ApplyProgress(bat, 1e9, 1, 1)
	gen, _ := e.FirstForTemplate(requirement.ThingRef("WoodFiredGenerator"), inPlace)
	e.ApplyProgress(gen, 25, 1, 1)
	st := e.ExportSnapshot()
	if st.ActiveObjective != "Electricity" || len(st.Instances) != 2 {
		t.Fatalf("export: %+v", st)
	}

	e2, err := New(Config{Catalogs: cats})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := e2.ImportSnapshot(st); err != nil {
		t.Fatalf("import: %v", err)
	}
	e2.BeginStep(1)
	if o := e2.ActiveObjective(); o == nil || o.Progress() != e.ActiveObjective().Progress() {
		t.Fatalf("objective progress not restored: %v", o)
	}
	for _, inst := range e2.Instances() {
		if inst.Definition().ID == "analyse_battery" && (!inst.IsFinished() || e2.Availability(inst) != opportunity.Finished) {
			t.Fatalf("finished instance not restored")
		}
	}
	g2, ok := e2.FirstForTemplate(requirement.ThingRef("WoodFiredGenerator"), inPlace)
	if !ok || g2.Progress() != 25 {
		t.Fatalf("partial progress not restored: %v", g2)
	}

	st.Objectives["Teleportation"] = 1
	if err := e2.ImportSnapshot(st); !errors.Is(err, ErrSnapshotObjective) {
		t.Fatalf("expected ErrSnapshotObjective, got %v", err)
	}
}

func TestEngine_ConcurrentReaders(t *testing.T) {
	e, _, _, _ := newEngine(t)
	e.BeginStep(1)
	_ = e.SetActiveObjective("Electricity")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				for inst := range e.QueryOpportunities(Filter{}) {
					_ = e.Availability(inst)
				}
			}
		}()
	}
	for tick := uint64(2); tick < 100; tick++ {
		e.BeginStep(tick)
		if inst, ok := e.FirstForTemplate(requirement.ThingRef("WoodFiredGenerator"), inPlace); ok {
			e.ApplyProgress(inst, 1, 1, 1)
		}
	}
	wg.Wait()
}

func TestEngine_NoObjectiveRefusesFinishedInstance(t *testing.T) {
	e, _, _, sink := newEngine(t)
	e.BeginStep(1)
	if err := e.SetActiveObjective("Electricity"); err != nil {
		t.Fatalf("set: %v", err)
	}
	inst, ok := e.FirstForTemplate(requirement.ThingRef("Battery"), inPlace)
	if !ok {
		t.Fatalf("expected battery opportunity")
	}
	if !e.ApplyProgress(inst, 1e9, 1, 1) {
		t.Fatalf("expected battery to finish")
	}
	e.ClearActiveObjective()
	if e.ApplyProgress(inst, 5, 1, 1) {
		t.Fatalf("no active objective must report false even for a finished instance")
	}
	if len(sink.events) != 1 {
		t.Fatalf("events = %d", len(sink.events))
	}
}
