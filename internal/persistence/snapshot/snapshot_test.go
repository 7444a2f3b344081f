package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"fieldresearch.ai/internal/sim/research"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := PathForTick(filepath.Join(dir, "snapshots"), 1200)

	var snap ResearchSnapshotV1
	snap.Header = Header{RunID: "run-1", ColonyID: "colony_1", Tick: 1200}
	snap.RulesetDigest = "abc"
	snap.FromState(research.State{
		ActiveObjective: "electricity",
		Objectives:      map[string]float64{"electricity": 42.5, "stonecutting": 10},
		Instances: []research.InstanceState{
			{DefinitionID: "analyse_battery", Progress: 20},
			{DefinitionID: "analyse_steel", Progress: 5, Finished: true},
		},
	})
	snap.Pawns = []PawnV1{{ID: "p1", Pos: [2]int{3, 4}, Intellectual: 12.5}}

	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Tick != 1200 || got.Header.RunID != "run-1" {
		t.Fatalf("header: %+v", got.Header)
	}
	st := got.State()
	if st.ActiveObjective != "electricity" || st.Objectives["electricity"] != 42.5 {
		t.Fatalf("state: %+v", st)
	}
	if len(st.Instances) != 2 || !st.Instances[1].Finished {
		t.Fatalf("instances: %+v", st.Instances)
	}
	if len(got.Pawns) != 1 || got.Pawns[0].Intellectual != 12.5 {
		t.Fatalf("pawns: %+v", got.Pawns)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("header: %v", err)
	}
	if h.ColonyID != "colony_1" || h.Tick != 1200 {
		t.Fatalf("header: %+v", h)
	}
}

func TestReadRejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "1.snap.zst")
	snap := ResearchSnapshotV1{Header: Header{Version: 7, Tick: 1}}
	if err := WriteSnapshot(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadSnapshot(path); !errors.Is(err, ErrVersion) {
		t.Fatalf("expected ErrVersion, got %v", err)
	}
}

func TestLatestSnapshot(t *testing.T) {
	dir := t.TempDir()
	if got := LatestSnapshot(dir); got != "" {
		t.Fatalf("empty dir: %q", got)
	}
	for _, name := range []string{"100.snap.zst", "2000.snap.zst", "300.snap.zst", "junk.snap.zst", "400.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if got := LatestSnapshot(dir); filepath.Base(got) != "2000.snap.zst" {
		t.Fatalf("latest=%q", got)
	}
	if got := List(dir); len(got) != 3 || filepath.Base(got[0]) != "100.snap.zst" {
		t.Fatalf("list=%v", got)
	}
}
