package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldresearch.ai/internal/config"
)

func newRootCmd() *cobra.Command {
	v := viper.New()
	config.SetDefaults(v)

	var cfgFile string
	root := &cobra.Command{
		Use:           "fieldresearch",
		Short:         "Field research colony server",
		Long:          "fieldresearch runs a research colony: pawns pick up analysis jobs on things, terrain and benches and progress the active objective.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.Init(v, cfgFile)
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .fieldresearch.yaml)")
	root.PersistentFlags().String("configs", "./configs", "content directory")
	root.PersistentFlags().String("data", "./data", "runtime data directory")
	root.PersistentFlags().String("colony", "colony_1", "colony id")
	_ = v.BindPFlag("configs", root.PersistentFlags().Lookup("configs"))
	_ = v.BindPFlag("data", root.PersistentFlags().Lookup("data"))
	_ = v.BindPFlag("colony", root.PersistentFlags().Lookup("colony"))

	root.AddCommand(newServeCmd(v), newValidateCmd(v), newInspectCmd(v), newReplayCmd(v))
	return root
}
