package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"fieldresearch.ai/internal/persistence/snapshot"
)

func costs(m map[string]float64) func(string) (float64, bool) {
	return func(id string) (float64, bool) {
		c, ok := m[id]
		return c, ok
	}
}

func TestArchiveCompletedObjectives_CopiesOnce(t *testing.T) {
	colonyDir := filepath.Join(t.TempDir(), "colonies", "c1")
	src := filepath.Join(colonyDir, "snapshots", "600.snap.zst")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatalf("mkdir snapshots: %v", err)
	}
	want := []byte("dummy")
	if err := os.WriteFile(src, want, 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}

	snap := snapshot.ResearchSnapshotV1{
		Header:     snapshot.Header{Version: 1, RunID: "r1", Tick: 600},
		Objectives: map[string]float64{"Electricity": 600, "Brewing": 10, "Retired": 99},
	}
	cost := costs(map[string]float64{"Electricity": 600, "Brewing": 600})

	got, err := ArchiveCompletedObjectives(colonyDir, src, snap, cost)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if len(got) != 1 || got[0] != "Electricity" {
		t.Fatalf("archived=%v", got)
	}

	b, err := os.ReadFile(filepath.Join(Dir(colonyDir, "Electricity"), "600.snap.zst"))
	if err != nil {
		t.Fatalf("read archived: %v", err)
	}
	if string(b) != string(want) {
		t.Fatalf("archived content mismatch")
	}
	mb, err := os.ReadFile(filepath.Join(Dir(colonyDir, "Electricity"), "meta.json"))
	if err != nil {
		t.Fatalf("read meta: %v", err)
	}
	var meta ObjectiveArchiveMeta
	if err := json.Unmarshal(mb, &meta); err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if meta.Tick != 600 || meta.RunID != "r1" || meta.Cost != 600 {
		t.Fatalf("meta=%+v", meta)
	}

	snap.Header.Tick = 1200
	again, err := ArchiveCompletedObjectives(colonyDir, src, snap, cost)
	if err != nil {
		t.Fatalf("second archive: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("already archived objective archived again: %v", again)
	}
}

func TestDir_SanitizesIDs(t *testing.T) {
	if got := filepath.Base(Dir("/x", "Deep/Research 2")); got != "objective_Deep_Research_2" {
		t.Fatalf("dir=%q", got)
	}
}
