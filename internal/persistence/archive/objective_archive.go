package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"fieldresearch.ai/internal/persistence/snapshot"
)

type ObjectiveArchiveMeta struct {
	ObjectiveID string  `json:"objective_id"`
	Tick        uint64  `json:"tick"`
	RunID       string  `json:"run_id"`
	Progress    float64 `json:"progress"`
	Cost        float64 `json:"cost"`
	Snapshot    string  `json:"snapshot"`
	CreatedAt   string  `json:"created_at"`
}

// Dir is where the completion snapshot of objectiveID is kept.
func Dir(colonyDir, objectiveID string) string {
	return filepath.Join(colonyDir, "archives", "objective_"+sanitize(objectiveID))
}

// ArchiveCompletedObjectives copies snapshotPath into
// `colonyDir/archives/objective_<id>/` for every objective the snapshot shows
// complete that has no archive yet. cost reports an objective's cost; ids it
// does not know are skipped. The archived ids are returned sorted.
func ArchiveCompletedObjectives(colonyDir, snapshotPath string, snap snapshot.ResearchSnapshotV1, cost func(id string) (float64, bool)) ([]string, error) {
	ids := make([]string, 0, len(snap.Objectives))
	for id := range snap.Objectives {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var archived []string
	var errs []error
	for _, id := range ids {
		c, ok := cost(id)
		if !ok || c <= 0 || snap.Objectives[id] < c {
			continue
		}
		dir := Dir(colonyDir, id)
		if _, err := os.Stat(filepath.Join(dir, "meta.json")); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, err)
			continue
		}
		dst := filepath.Join(dir, filepath.Base(snapshotPath))
		if err := copyFile(snapshotPath, dst); err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", id, err))
			continue
		}
		meta := ObjectiveArchiveMeta{
			ObjectiveID: id,
			Tick:        snap.Header.Tick,
			RunID:       snap.Header.RunID,
			Progress:    snap.Objectives[id],
			Cost:        c,
			Snapshot:    filepath.Base(dst),
			CreatedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		}
		b, err := json.MarshalIndent(meta, "", "  ")
		if err == nil {
			err = os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s meta: %w", id, err))
			continue
		}
		archived = append(archived, id)
	}
	return archived, errors.Join(errs...)
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, id)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
