package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldresearch.ai/internal/config"
	"fieldresearch.ai/internal/persistence/indexdb"
	"fieldresearch.ai/internal/persistence/snapshot"
)

func newInspectCmd(v *viper.Viper) *cobra.Command {
	var last int
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Summarize saved snapshots and the research index of a colony",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return inspect(cmd.Context(), cmd.OutOrStdout(), cfg, last)
		},
	}
	cmd.Flags().IntVar(&last, "last", 10, "number of most recent snapshots to list (0 = all)")
	return cmd
}

func inspect(ctx context.Context, out io.Writer, cfg config.Config, last int) error {
	if ctx == nil {
		ctx = context.Background()
	}
	paths := snapshot.List(cfg.SnapshotDir())
	fmt.Fprintf(out, "colony %s: %d snapshots in %s\n", cfg.ColonyID, len(paths), cfg.SnapshotDir())
	if last > 0 && len(paths) > last {
		paths = paths[len(paths)-last:]
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Fprintf(out, "  %s: %v\n", filepath.Base(p), err)
			continue
		}
		var size int64
		var age string
		if fi, err := os.Stat(p); err == nil {
			size = fi.Size()
			age = humanize.Time(fi.ModTime())
		}
		fmt.Fprintf(out, "  tick %-10s %8s  %-14s run=%s\n", humanize.Comma(int64(h.Tick)), humanize.Bytes(uint64(size)), age, h.RunID)
	}
	if latest := snapshot.LatestSnapshot(cfg.SnapshotDir()); latest != "" {
		snap, err := snapshot.ReadSnapshot(latest)
		if err != nil {
			return fmt.Errorf("read %s: %w", latest, err)
		}
		fmt.Fprintf(out, "latest: active=%q\n", snap.ActiveObjective)
		ids := make([]string, 0, len(snap.Objectives))
		for id := range snap.Objectives {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(out, "  %-16s %s\n", id, humanize.FormatFloat("#,###.##", snap.Objectives[id]))
		}
	}

	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		fmt.Fprintf(out, "no index at %s\n", cfg.IndexPath())
		return nil
	}
	idx, err := indexdb.OpenSQLite(cfg.IndexPath())
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer idx.Close()

	qctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	runID, err := idx.Meta(qctx, "run_id")
	if err != nil {
		return err
	}
	comps, err := idx.Completions(qctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "index: last run=%s completions=%s\n", runID, humanize.Comma(int64(len(comps))))
	for _, c := range comps {
		if c.Kind != "objective" {
			continue
		}
		fmt.Fprintf(out, "  objective %s completed at tick %s\n", c.ObjectiveID, humanize.Comma(int64(c.Tick)))
	}
	return nil
}
