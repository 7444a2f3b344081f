package main

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldresearch.ai/internal/config"
	persistlog "fieldresearch.ai/internal/persistence/log"
	"fieldresearch.ai/internal/persistence/snapshot"
	"fieldresearch.ai/internal/sim/research"
)

const replayEpsilon = 1e-6

func newReplayCmd(v *viper.Viper) *cobra.Command {
	var snapPath string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Sum the progress log and check it against a snapshot",
		Long:  "replay folds the progress log up to the snapshot tick and reports, per objective, the logged opportunity progress next to the saved total. Logged progress exceeding the saved total is an error.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return replay(cmd.OutOrStdout(), cfg, snapPath)
		},
	}
	cmd.Flags().StringVar(&snapPath, "snapshot", "", "snapshot to check (default: latest)")
	return cmd
}

func replay(out io.Writer, cfg config.Config, snapPath string) error {
	if snapPath == "" {
		snapPath = snapshot.LatestSnapshot(cfg.SnapshotDir())
	}
	if snapPath == "" {
		return fmt.Errorf("no snapshot in %s", cfg.SnapshotDir())
	}
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	files, err := persistlog.ProgressFiles(cfg.ColonyDir())
	if err != nil {
		return fmt.Errorf("list progress logs: %w", err)
	}

	logged := map[string]float64{}
	var events uint64
	for _, p := range files {
		err := persistlog.ReadProgress(p, func(ev research.ProgressEvent) error {
			if ev.Tick > snap.Header.Tick {
				return nil
			}
			events++
			logged[ev.ObjectiveID] += ev.Delta
			return nil
		})
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
	}

	ids := make([]string, 0, len(snap.Objectives))
	for id := range snap.Objectives {
		ids = append(ids, id)
	}
	for id := range logged {
		if _, ok := snap.Objectives[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	fmt.Fprintf(out, "snapshot tick=%s files=%d events=%s\n", humanize.Comma(int64(snap.Header.Tick)), len(files), humanize.Comma(int64(events)))
	var bad []string
	for _, id := range ids {
		saved, got := snap.Objectives[id], logged[id]
		// Theory without opportunities adds to the objective without a log entry.
		unlogged := math.Max(0, saved-got)
		fmt.Fprintf(out, "  %-16s saved=%-10s logged=%-10s unlogged=%s\n", id,
			humanize.FormatFloat("#,###.##", saved), humanize.FormatFloat("#,###.##", got), humanize.FormatFloat("#,###.##", unlogged))
		if got > saved+replayEpsilon {
			bad = append(bad, id)
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("replay: logged progress exceeds snapshot for %v", bad)
	}
	fmt.Fprintln(out, "replay ok")
	return nil
}
