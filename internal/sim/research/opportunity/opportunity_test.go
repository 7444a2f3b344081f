package opportunity

import (
	"math"
	"testing"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/tasks"
)

func testCatalogs() *catalogs.Catalogs {
	return &catalogs.Catalogs{
		TaskTemplates: catalogs.TaskTemplateCatalog{ByID: map[string]catalogs.TaskTemplateDef{
			"RR_AnalyseInPlace": {ID: "RR_AnalyseInPlace", Driver: "ANALYSE_IN_PLACE"},
			"RR_Analyse":        {ID: "RR_Analyse", Driver: "ANALYSE"},
		}},
		Categories: catalogs.CategoryCatalog{ByID: map[string]catalogs.CategoryDef{
			"big":   {ID: "big", SpeedMultiplier: 1, TargetFraction: 2.0 / 3.0},
			"half":  {ID: "half", SpeedMultiplier: 0.5, TargetFraction: 0.5},
			"minor": {ID: "minor", SpeedMultiplier: 0.25, TargetFraction: 0.1},
		}},
	}
}

func mustDef(t *testing.T, od catalogs.OpportunityDef) *Definition {
	t.Helper()
	d, err := NewDefinition(od, testCatalogs())
	if err != nil {
		t.Fatalf("NewDefinition(%s): %v", od.ID, err)
	}
	return d
}

func thingDef(id, target, category string) catalogs.OpportunityDef {
	return catalogs.OpportunityDef{
		ID:            id,
		HandledBy:     []string{"JOB_ANALYSIS"},
		Requirement:   catalogs.RequirementDef{Kind: "thing", Target: target},
		TaskTemplates: []string{"RR_AnalyseInPlace"},
		Categories:    map[string]string{"default": category},
		Objectives:    []catalogs.ObjectiveLink{{Objective: "Electricity", Relation: "direct"}},
	}
}

func TestHandlingModes(t *testing.T) {
	m, err := ParseHandlingModes([]string{"JOB", "SOCIAL"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !m.Has(ModeJob) || !m.Has(ModeSocial) || m.Has(ModeJobAnalysis) {
		t.Fatalf("bits: %s", m)
	}
	if !m.Has(ModeJob | ModeSocial) {
		t.Fatalf("Has must accept a subset")
	}
	if !m.Has(0) {
		t.Fatalf("zero mode matches everything")
	}
	if m.String() != "JOB|SOCIAL" {
		t.Fatalf("String: %q", m.String())
	}
	if _, err := ParseHandlingModes([]string{"JOB", "DANCING"}); err == nil {
		t.Fatalf("expected unknown mode error")
	}
}

func TestDefinition_CategoryFallbackAndRelation(t *testing.T) {
	od := thingDef("a", "Battery", "minor")
	od.Categories["direct"] = "big"
	od.Objectives = append(od.Objectives, catalogs.ObjectiveLink{Objective: "*"})
	d := mustDef(t, od)

	if c := d.Category(RelationDirect); c.ID != "big" {
		t.Fatalf("direct category: %+v", c)
	}
	if c := d.Category(RelationAncestor); c.ID != "minor" {
		t.Fatalf("default category: %+v", c)
	}
	if rel, ok := d.RelationTo("Electricity"); !ok || rel != RelationDirect {
		t.Fatalf("RelationTo Electricity: %v %v", rel, ok)
	}
	if rel, ok := d.RelationTo("Brewing"); !ok || rel != RelationGeneric {
		t.Fatalf("wildcard relation: %v %v", rel, ok)
	}
	if _, ok := d.TaskTemplateFor(tasks.DriverAnalyseInPlace); !ok {
		t.Fatalf("expected in-place template")
	}
	if d.HasTaskDriver(tasks.DriverAnalyse) {
		t.Fatalf("no bench template expected")
	}

	bare := mustDef(t, catalogs.OpportunityDef{ID: "b", HandledBy: []string{"JOB"}})
	if c := bare.Category(RelationDirect); c.SpeedMultiplier != 1 || c.TargetFraction != 1 {
		t.Fatalf("fallback category: %+v", c)
	}
	if _, ok := bare.RelationTo("Electricity"); ok {
		t.Fatalf("unlinked definition must not relate")
	}
}

func TestDefinition_BadExpressionStaysLoaded(t *testing.T) {
	d := mustDef(t, catalogs.OpportunityDef{
		ID:          "bad",
		HandledBy:   []string{"SPECIAL_ON_INGEST_OBSERVABLE"},
		Requirement: catalogs.RequirementDef{Kind: "expr", Expr: "Ingestible &&"},
	})
	if d.RequirementErr == nil {
		t.Fatalf("expected the compile error to be kept")
	}
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Brewing", Cost: 100})
	inst := NewInstance(d, obj, RelationDirect)
	if inst.Availability(nil, nil) != Unavailable {
		t.Fatalf("invalid requirement must be unavailable")
	}
}

// Two instances whose targets together exceed the objective cost.
func TestApplyProgress_ObjectiveCompletionWins(t *testing.T) {
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Electricity", Cost: 600})
	a := NewInstance(mustDef(t, thingDef("a", "Battery", "big")), obj, RelationDirect)
	b := NewInstance(mustDef(t, thingDef("b", "Battery", "half")), obj, RelationDirect)
	if math.Abs(a.Target()-400) > 1e-9 || b.Target() != 300 {
		t.Fatalf("targets: %v %v", a.Target(), b.Target())
	}

	out := a.ApplyProgress(400, 1, 1)
	if !out.Finished || !out.JustFinished || out.ObjectiveComplete {
		t.Fatalf("a outcome: %+v", out)
	}
	if a.Progress() != a.Target() {
		t.Fatalf("a progress %v target %v", a.Progress(), a.Target())
	}

	out = b.ApplyProgress(300, 1, 1)
	if out.Finished || !out.ObjectiveComplete {
		t.Fatalf("b outcome: %+v", out)
	}
	if math.Abs(out.Delta-200) > 1e-6 || math.Abs(b.Progress()-200) > 1e-6 {
		t.Fatalf("b delta=%v progress=%v", out.Delta, b.Progress())
	}
	if !obj.Complete() || obj.Progress() != 600 {
		t.Fatalf("objective progress %v complete=%v", obj.Progress(), obj.Complete())
	}
	if got := b.Availability(nil, AlwaysMet{}); got != Unavailable {
		t.Fatalf("b availability = %s", got)
	}
	if got := a.Availability(nil, AlwaysMet{}); got != Finished {
		t.Fatalf("a availability = %s", got)
	}

	before := b.Progress()
	if out := b.ApplyProgress(50, 1, 1); out.Finished || out.Delta != 0 || b.Progress() != before {
		t.Fatalf("progress after completion must be ignored: %+v", out)
	}
}

func TestApplyProgress_ClampsAndIgnoresGarbage(t *testing.T) {
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Electricity", Cost: 1000})
	i := NewInstance(mustDef(t, thingDef("a", "Battery", "minor")), obj, RelationDirect)
	if i.Target() != 100 {
		t.Fatalf("target: %v", i.Target())
	}
	for _, raw := range []float64{-5, math.NaN(), 0} {
		if out := i.ApplyProgress(raw, 1, 1); out.Delta != 0 || out.Finished {
			t.Fatalf("raw %v: %+v", raw, out)
		}
	}
	if i.Progress() != 0 || obj.Progress() != 0 {
		t.Fatalf("garbage moved progress: %v %v", i.Progress(), obj.Progress())
	}

	out := i.ApplyProgress(10, 2, 0.5)
	if out.Delta != 10 {
		t.Fatalf("delta: %v", out.Delta)
	}
	out = i.ApplyProgress(math.Inf(1), 1, 1)
	if !out.JustFinished || out.Delta != 90 {
		t.Fatalf("overshoot: %+v", out)
	}
	if obj.Progress() != 100 {
		t.Fatalf("objective got %v", obj.Progress())
	}

	// Terminal: nothing changes and the call still reports finished.
	out = i.ApplyProgress(10, 1, 1)
	if !out.Finished || out.JustFinished || out.Delta != 0 || obj.Progress() != 100 {
		t.Fatalf("finished instance: %+v obj=%v", out, obj.Progress())
	}
}

func TestApplyProgress_MonotonicSums(t *testing.T) {
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Electricity", Cost: 250})
	insts := []*Instance{
		NewInstance(mustDef(t, thingDef("a", "Battery", "big")), obj, RelationDirect),
		NewInstance(mustDef(t, thingDef("b", "Battery", "half")), obj, RelationDirect),
		NewInstance(mustDef(t, thingDef("c", "Battery", "minor")), obj, RelationDirect),
	}
	last := 0.0
	for step := 0; step < 200; step++ {
		inst := insts[step%len(insts)]
		prev := inst.Progress()
		inst.ApplyProgress(float64(step%7), 1, 1)
		if inst.Progress() < prev || inst.Progress() > inst.Target() {
			t.Fatalf("instance progress out of range: %v", inst.Progress())
		}
		if obj.Progress() < last || obj.Progress() > obj.Cost() {
			t.Fatalf("objective progress out of range: %v", obj.Progress())
		}
		last = obj.Progress()
	}
	sum := 0.0
	for _, i := range insts {
		sum += i.Progress()
	}
	if math.Abs(sum-obj.Progress()) > 1e-5 {
		t.Fatalf("sum %v != objective %v", sum, obj.Progress())
	}
}

type noKit struct{}

func (noKit) PrerequisitesMet(d *Definition) bool { return len(d.RequiresSupport) == 0 }

func TestAvailability(t *testing.T) {
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Electricity", Cost: 600})
	od := thingDef("a", "Battery", "minor")
	od.RequiresSupport = []string{"ResearchKit"}
	i := NewInstance(mustDef(t, od), obj, RelationDirect)

	rs := &catalogs.Ruleset{Things: catalogs.ThingCatalog{Defs: map[string]catalogs.ThingDef{"Battery": {ID: "Battery"}}}}
	if got := i.Availability(rs, AlwaysMet{}); got != Available {
		t.Fatalf("got %s", got)
	}
	if got := i.Availability(rs, noKit{}); got != Unavailable {
		t.Fatalf("missing kit: got %s", got)
	}
	if got := i.Availability(&catalogs.Ruleset{}, AlwaysMet{}); got != Unavailable {
		t.Fatalf("missing template: got %s", got)
	}
	i.Discard()
	if got := i.Availability(rs, AlwaysMet{}); got != Unavailable {
		t.Fatalf("discarded: got %s", got)
	}
	if out := i.ApplyProgress(10, 1, 1); out.Delta != 0 || obj.Progress() != 0 {
		t.Fatalf("discarded instance accepted progress")
	}
}

func TestRestore(t *testing.T) {
	obj := NewObjective(catalogs.ObjectiveDef{ID: "Electricity", Cost: 1000})
	i := NewInstance(mustDef(t, thingDef("a", "Battery", "minor")), obj, RelationDirect)
	i.Restore(150, false)
	if !i.IsFinished() || i.Progress() != 100 {
		t.Fatalf("restore over target: %v %v", i.Progress(), i.IsFinished())
	}
	obj.RestoreProgress(-1)
	if obj.Progress() != 0 {
		t.Fatalf("negative restore: %v", obj.Progress())
	}
}
