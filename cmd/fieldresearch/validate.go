package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldresearch.ai/internal/config"
	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/tuning"
	"fieldresearch.ai/internal/sim/world"
)

func newValidateCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load content, tuning and layout and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return validate(cmd.OutOrStdout(), cfg)
		},
	}
	cmd.Flags().String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	cmd.Flags().String("layout", "", "colony layout yaml")
	_ = v.BindPFlag("tuning", cmd.Flags().Lookup("tuning"))
	_ = v.BindPFlag("layout", cmd.Flags().Lookup("layout"))
	return cmd
}

func validate(out io.Writer, cfg config.Config) error {
	cats, err := catalogs.Load(cfg.ConfigDir)
	if err != nil {
		return fmt.Errorf("catalogs: %w", err)
	}
	tune, err := tuning.Load(cfg.TuningPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("tuning: %w", err)
	}
	var layout *world.Layout
	if cfg.LayoutPath != "" {
		l, err := world.LoadLayout(cfg.LayoutPath)
		if err != nil {
			return fmt.Errorf("layout: %w", err)
		}
		layout = &l
	}
	// Building the colony checks the layout against the ruleset.
	if _, err := world.New(world.ConfigFromTuning(cfg.ColonyID, cfg.Seed, tune), cats, world.Options{Layout: layout}); err != nil {
		return err
	}

	fmt.Fprintf(out, "content ok: %s\n", cfg.ConfigDir)
	fmt.Fprintf(out, "  things=%d terrains=%d groups=%d ruleset=%s\n",
		len(cats.Ruleset.Things.Defs), len(cats.Ruleset.Terrains.Defs), len(cats.Ruleset.Groups.Defs), short(cats.Ruleset.Digest))
	fmt.Fprintf(out, "  objectives=%d opportunities=%d categories=%d task_templates=%d\n",
		len(cats.Objectives.ByID), len(cats.Opportunities.Defs), len(cats.Categories.ByID), len(cats.TaskTemplates.ByID))
	return nil
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
