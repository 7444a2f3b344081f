package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"fieldresearch.ai/internal/persistence/snapshot"
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/tuning"
)

const schemaVersion = "1"

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropProgress atomic.Uint64
	dropSnapshot atomic.Uint64
	commitFail   atomic.Uint64
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropProgressTotal uint64 `json:"drop_progress_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
	CommitFailTotal   uint64 `json:"commit_fail_total"`
}

type reqKind int

const (
	reqProgress reqKind = iota + 1
	reqSnapshot
	reqSync
)

type req struct {
	kind reqKind

	progress research.ProgressEvent
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick            uint64
	Path            string
	RunID           string
	ActiveObjective string
	Objectives      int
	Instances       int
	Finished        int
}

// Completion is a finished instance or a completed objective.
type Completion struct {
	Kind          string `json:"kind"` // "opportunity" | "objective"
	ObjectiveID   string `json:"objective_id"`
	OpportunityID string `json:"opportunity_id,omitempty"`
	Tick          uint64 `json:"tick"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := newIndex(db, 65536)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func newIndex(db *sql.DB, queue int) *SQLiteIndex {
	return &SQLiteIndex{db: db, ch: make(chan req, queue)}
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS progress (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tick INTEGER NOT NULL,
			objective_id TEXT NOT NULL,
			opportunity_id TEXT NOT NULL,
			modes TEXT NOT NULL,
			relation TEXT NOT NULL,
			delta REAL NOT NULL,
			progress REAL NOT NULL,
			target REAL NOT NULL,
			objective_progress REAL NOT NULL,
			objective_cost REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_objective_tick ON progress(objective_id, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_opportunity ON progress(opportunity_id);`,
		`CREATE TABLE IF NOT EXISTS completions (
			kind TEXT NOT NULL,
			objective_id TEXT NOT NULL,
			opportunity_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			PRIMARY KEY (kind, objective_id, opportunity_id)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			run_id TEXT NOT NULL,
			active_objective TEXT NOT NULL,
			objectives INTEGER NOT NULL,
			instances INTEGER NOT NULL,
			finished INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropProgressTotal: s.dropProgress.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		CommitFailTotal:   s.commitFail.Load(),
	}
}

// OnProgress queues ev for the writer. Drops when the writer falls behind;
// the JSONL progress log stays the source of truth.
func (s *SQLiteIndex) OnProgress(ev research.ProgressEvent) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqProgress, progress: ev}:
	default:
		s.dropProgress.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.ResearchSnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:            snap.Header.Tick,
		Path:            path,
		RunID:           snap.Header.RunID,
		ActiveObjective: snap.ActiveObjective,
		Objectives:      len(snap.Objectives),
		Instances:       len(snap.Instances),
	}
	for _, is := range snap.Instances {
		if is.Finished {
			r.Finished++
		}
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Sync blocks until everything queued before it is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqSync, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertCatalogs stores the raw content files and the effective tuning, and
// records runID in meta.
func (s *SQLiteIndex) UpsertCatalogs(configDir, runID string, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	raw := map[string][]byte{}
	read := func(name, path string) {
		b, err := os.ReadFile(path)
		if err != nil {
			return
		}
		raw[name] = b
	}
	if configDir != "" {
		read("things", filepath.Join(configDir, "things.json"))
		read("terrains", filepath.Join(configDir, "terrains.json"))
		read("groups", filepath.Join(configDir, "groups.json"))
		read("task_templates", filepath.Join(configDir, "task_templates.json"))
		read("categories", filepath.Join(configDir, "categories.json"))
		read("objectives", filepath.Join(configDir, "objectives.json"))
	}

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	add := func(name, digest string) {
		if b := raw[name]; len(b) > 0 {
			rows = append(rows, kv{name: name, digest: digest, json: b})
		}
	}
	add("things", cats.Ruleset.Things.Digest)
	add("terrains", cats.Ruleset.Terrains.Digest)
	add("groups", cats.Ruleset.Groups.Digest)
	add("task_templates", cats.TaskTemplates.Digest)
	add("categories", cats.Categories.Digest)
	add("objectives", cats.Objectives.Digest)
	{
		// Opportunity packs may be JSON or TOML; store the decoded, id-sorted form.
		defs := append([]catalogs.OpportunityDef(nil), cats.Opportunities.Defs...)
		sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
		if b, _ := json.Marshal(defs); len(b) > 0 {
			rows = append(rows, kv{name: "opportunities", digest: cats.Opportunities.Digest, json: b})
		}
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	meta := [][2]string{
		{"schema_version", schemaVersion},
		{"ruleset_digest", cats.Ruleset.Digest},
	}
	if runID != "" {
		meta = append(meta, [2]string{"run_id", runID})
	}
	for _, m := range meta {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, m[0], m[1]); err != nil {
			return err
		}
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.name == "" || r.digest == "" || len(r.json) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return v, err
}

// Completions lists completion rows oldest first.
func (s *SQLiteIndex) Completions(ctx context.Context) ([]Completion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, objective_id, opportunity_id, tick FROM completions ORDER BY tick, kind, opportunity_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Completion
	for rows.Next() {
		var c Completion
		var tick int64
		if err := rows.Scan(&c.Kind, &c.ObjectiveID, &c.OpportunityID, &tick); err != nil {
			return nil, err
		}
		c.Tick = uint64(tick)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProgressTotals sums progress deltas per opportunity for objectiveID.
func (s *SQLiteIndex) ProgressTotals(ctx context.Context, objectiveID string) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT opportunity_id, SUM(delta) FROM progress WHERE objective_id=? GROUP BY opportunity_id`, objectiveID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]float64{}
	for rows.Next() {
		var id string
		var sum float64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertProgress, _ := s.db.Prepare(`INSERT INTO progress(tick,objective_id,opportunity_id,modes,relation,delta,progress,target,objective_progress,objective_cost) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertCompletion, _ := s.db.Prepare(`INSERT OR IGNORE INTO completions(kind,objective_id,opportunity_id,tick) VALUES(?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,run_id,active_objective,objectives,instances,finished) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertProgress, insertCompletion, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.commitFail.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.kind == reqSync {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqProgress:
			ev := r.progress
			tick := int64(ev.Tick)
			if !exec(insertProgress, tick, ev.ObjectiveID, ev.OpportunityID, ev.Modes, ev.Relation,
				ev.Delta, ev.Progress, ev.Target, ev.ObjectiveProgress, ev.ObjectiveCost) {
				continue
			}
			if ev.Finished && !exec(insertCompletion, "opportunity", ev.ObjectiveID, ev.OpportunityID, tick) {
				continue
			}
			if ev.ObjectiveComplete && !exec(insertCompletion, "objective", ev.ObjectiveID, "", tick) {
				continue
			}

		case reqSnapshot:
			sn := r.snapshot
			if !exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.RunID, sn.ActiveObjective, sn.Objectives, sn.Instances, sn.Finished) {
				continue
			}
		}
		flushIfNeeded()
	}

	commit()
}
