package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"fieldresearch.ai/internal/sim/research"
)

const Version = 1

var ErrVersion = errors.New("snapshot: unsupported version")

type Header struct {
	Version  int    `json:"version"`
	RunID    string `json:"run_id"`
	ColonyID string `json:"colony_id"`
	Tick     uint64 `json:"tick"`
}

type ResearchSnapshotV1 struct {
	Header Header `json:"header"`

	// Ruleset digest at save time; a mismatch on load only means content
	// changed since, which is allowed.
	RulesetDigest string `json:"ruleset_digest,omitempty"`

	ActiveObjective string             `json:"active_objective,omitempty"`
	Objectives      map[string]float64 `json:"objectives"`
	Instances       []InstanceV1       `json:"instances,omitempty"`

	Pawns []PawnV1 `json:"pawns,omitempty"`
}

type InstanceV1 struct {
	DefinitionID string  `json:"definition_id"`
	Progress     float64 `json:"progress"`
	Finished     bool    `json:"finished,omitempty"`
}

type PawnV1 struct {
	ID           string  `json:"id"`
	Pos          [2]int  `json:"pos"`
	Intellectual float64 `json:"intellectual"`
}

// FromState copies engine state into the snapshot body.
func (s *ResearchSnapshotV1) FromState(st research.State) {
	s.ActiveObjective = st.ActiveObjective
	s.Objectives = make(map[string]float64, len(st.Objectives))
	for id, p := range st.Objectives {
		s.Objectives[id] = p
	}
	s.Instances = s.Instances[:0]
	for _, is := range st.Instances {
		s.Instances = append(s.Instances, InstanceV1{DefinitionID: is.DefinitionID, Progress: is.Progress, Finished: is.Finished})
	}
}

// State is the engine view of the snapshot.
func (s ResearchSnapshotV1) State() research.State {
	st := research.State{
		ActiveObjective: s.ActiveObjective,
		Objectives:      make(map[string]float64, len(s.Objectives)),
	}
	for id, p := range s.Objectives {
		st.Objectives[id] = p
	}
	for _, is := range s.Instances {
		st.Instances = append(st.Instances, research.InstanceState{DefinitionID: is.DefinitionID, Progress: is.Progress, Finished: is.Finished})
	}
	return st
}

func WriteSnapshot(path string, snap ResearchSnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	// Renamed into place once fully written.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap ResearchSnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (ResearchSnapshotV1, error) {
	var snap ResearchSnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header is repeated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("%w: %d", ErrVersion, snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

// PathForTick is the file name snapshots are written under.
func PathForTick(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", tick))
}

// List returns the snapshot paths in dir, oldest tick first.
func List(dir string) []string {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	type entry struct {
		tick uint64
		path string
	}
	var found []entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].tick < found[j].tick })
	out := make([]string, 0, len(found))
	for _, e := range found {
		out = append(out, e.path)
	}
	return out
}

// LatestSnapshot returns the highest-tick snapshot in dir, or "".
func LatestSnapshot(dir string) string {
	all := List(dir)
	if len(all) == 0 {
		return ""
	}
	return all[len(all)-1]
}
