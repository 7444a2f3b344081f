package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldresearch.ai/internal/config"
	"fieldresearch.ai/internal/persistence/archive"
	"fieldresearch.ai/internal/persistence/indexdb"
	persistlog "fieldresearch.ai/internal/persistence/log"
	"fieldresearch.ai/internal/persistence/snapshot"
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/tuning"
	"fieldresearch.ai/internal/sim/world"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the colony and its HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := log.New(os.Stdout, "[fieldresearch] ", log.LstdFlags|log.Lmicroseconds)
			ctx, cancel := signalContext()
			defer cancel()
			return serve(ctx, cfg, logger)
		},
	}
	f := cmd.Flags()
	f.String("addr", ":8080", "http listen address")
	f.Int64("seed", 1337, "terrain seed (fresh colonies only)")
	f.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	f.String("layout", "", "colony layout yaml (default: built-in colony)")
	f.Int("tick-rate-hz", 0, "override tuning tick rate")
	f.Bool("disable-db", false, "disable the sqlite index")
	f.String("snapshot", "", "snapshot to resume from")
	f.Bool("load-latest-snapshot", true, "resume from the latest snapshot when --snapshot is empty")
	f.Bool("watch", true, "hot-reload the ruleset when content files change")
	f.Bool("admin-http", true, "serve loopback-only admin and observer endpoints")
	for key, flag := range map[string]string{
		"addr":                 "addr",
		"seed":                 "seed",
		"tuning":               "tuning",
		"layout":               "layout",
		"tick_rate_hz":         "tick-rate-hz",
		"disable_db":           "disable-db",
		"snapshot":             "snapshot",
		"load_latest_snapshot": "load-latest-snapshot",
		"watch":                "watch",
		"admin_http":           "admin-http",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func serve(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	runID := uuid.NewString()
	colonyDir := cfg.ColonyDir()
	if err := os.MkdirAll(colonyDir, 0o755); err != nil {
		return err
	}

	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tune, err := tuning.Load(cfg.TuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("load tuning: %w", err)
		}
		logger.Printf("tuning not found (%s); using defaults", cfg.TuningPath)
	}
	var layout *world.Layout
	if cfg.LayoutPath != "" {
		l, err := world.LoadLayout(cfg.LayoutPath)
		if err != nil {
			return fmt.Errorf("load layout: %w", err)
		}
		layout = &l
	}

	var idx *indexdb.SQLiteIndex
	if !cfg.DisableDB {
		idx, err = indexdb.OpenSQLite(cfg.IndexPath())
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		defer idx.Close()
		if err := idx.UpsertCatalogs(cfg.ConfigDir, runID, cats, tune); err != nil {
			logger.Printf("index: upsert catalogs: %v", err)
		}
	}

	progressLog := persistlog.NewProgressLogger(colonyDir, logger)
	defer progressLog.Close()
	sinks := []research.ProgressSink{progressLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}

	wc := world.ConfigFromTuning(cfg.ColonyID, cfg.Seed, tune)
	if cfg.TickRateHz > 0 {
		wc.TickRateHz = cfg.TickRateHz
	}
	w, err := world.New(wc, cats, world.Options{Logger: logger, Layout: layout, RunID: runID, Sinks: sinks})
	if err != nil {
		return fmt.Errorf("world: %w", err)
	}

	snapPath := strings.TrimSpace(cfg.Snapshot)
	if snapPath == "" && cfg.LoadLatest {
		snapPath = snapshot.LatestSnapshot(cfg.SnapshotDir())
	}
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if err := w.ImportSnapshot(snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		logger.Printf("resumed from snapshot=%s tick=%d prev_run=%s", snapPath, w.CurrentTick(), snap.Header.RunID)
	}

	if cfg.Watch {
		watcher, err := catalogs.NewWatcher(cfg.ConfigDir)
		if err != nil {
			return fmt.Errorf("content watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("content watcher: %w", err)
		}
		defer watcher.Stop()
		w.WatchReloads(watcher.Reloads)
	}

	snapCh := make(chan snapshot.ResearchSnapshotV1, 2)
	w.SetSnapshotSink(snapCh)
	worldDone := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writeSnapshots(worldDone, snapCh, cfg, cats, idx, logger)
	}()

	go func() {
		defer close(worldDone)
		if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("world stopped: %v", err)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(w, cfg, idx, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("colony=%s run=%s listening on %s", cfg.ColonyID, runID, cfg.Addr)
	err = srv.ListenAndServe()
	cancel()
	<-worldDone
	<-writerDone
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// writeSnapshots persists snapshots until the world loop has exited, then
// flushes whatever is still queued.
func writeSnapshots(worldDone <-chan struct{}, ch <-chan snapshot.ResearchSnapshotV1, cfg config.Config, cats *catalogs.Catalogs, idx *indexdb.SQLiteIndex, logger *log.Logger) {
	cost := func(id string) (float64, bool) {
		def, ok := cats.Objectives.ByID[id]
		return def.Cost, ok
	}
	write := func(snap snapshot.ResearchSnapshotV1) {
		path := snapshot.PathForTick(cfg.SnapshotDir(), snap.Header.Tick)
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Printf("snapshot write: %v", err)
			return
		}
		idx.RecordSnapshot(path, snap)
		archived, err := archive.ArchiveCompletedObjectives(cfg.ColonyDir(), path, snap, cost)
		if err != nil {
			logger.Printf("archive objectives: %v", err)
		}
		for _, id := range archived {
			logger.Printf("archived objective %s at tick %d", id, snap.Header.Tick)
		}
	}
	for {
		select {
		case snap := <-ch:
			write(snap)
		case <-worldDone:
			for {
				select {
				case snap := <-ch:
					write(snap)
				default:
					return
				}
			}
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
