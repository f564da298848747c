package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/araim-monitor/core"
	"github.com/signalsfoundry/araim-monitor/internal/config"
	"github.com/signalsfoundry/araim-monitor/internal/measurement/sim"
)

func newCheckConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and referenced scenario without running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath, cmd.Flags())
			if err != nil {
				return err
			}
			coreCfg, err := cfg.CoreConfig()
			if err != nil {
				return err
			}
			if _, err := core.NewEngine(coreCfg); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cfg.Source.Kind == "simulator" {
				sc, err := sim.LoadScenario(cfg.Source.Scenario)
				if err != nil {
					return err
				}
				tles, err := sc.Elements()
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "scenario %s: %d satellites, %d faults\n", cfg.Source.Scenario, len(tles), len(sc.Faults))
			}
			fmt.Fprintf(out, "config ok: source=%s feed=%s store=%s mode=%s\n",
				cfg.Source.Kind, cfg.Feed.Kind, cfg.Store.Kind, cfg.Run.Mode)
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}
