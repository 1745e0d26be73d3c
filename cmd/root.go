package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sergev/readchan/config"
	"github.com/sergev/readchan/dpll"
	"github.com/sergev/readchan/flux"
)

var profileFlag string

var rootCmd = &cobra.Command{
	Use:   "readchan",
	Short: "A CLI program which recovers clock and data from disk flux captures",
	Long: `The readchan tool recovers a synchronized bit clock and data stream from
raw flux transition captures, using a software data separator: a digital
phase-locked loop with adaptive bandwidth, statistical lock detection and
windowed bit sampling. Profiles for common drive formats live in the
configuration file created on first run.`,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := config.Initialize(); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to load configuration: %w", err))
		}
		if profileFlag != "" {
			cobra.CheckErr(config.SelectProfile(profileFlag))
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileFlag, "profile", "p", "",
		"profile name, overriding the config default")
}

// buildChannel constructs a read channel for the active profile, applying
// RPM compensation from the capture's index marks when the profile asks
// for it and the capture carries enough marks to measure a revolution.
func buildChannel(cap *flux.Capture) (*dpll.Channel, error) {
	prof := config.Active
	cfg, err := prof.ChannelConfig()
	if err != nil {
		return nil, err
	}

	if prof.RPMComp && len(cap.Index) >= 2 {
		actual, err := flux.RevolutionTicks(cap.Index)
		if err != nil {
			return nil, fmt.Errorf("rpm compensation: %w", err)
		}
		nominal, err := flux.NominalRevolutionTicks(prof.RPM, prof.TickHz())
		if err != nil {
			return nil, fmt.Errorf("rpm compensation: %w", err)
		}
		for i, w := range cfg.Words {
			// A slow platter stretches every cell, so the word shrinks
			// by the same ratio.
			cfg.Words[i], err = dpll.ScaleWord(w, nominal, actual)
			if err != nil {
				return nil, fmt.Errorf("rpm compensation: %w", err)
			}
		}
		if cfg.ZoneWord != 0 {
			cfg.ZoneWord, err = dpll.ScaleWord(cfg.ZoneWord, nominal, actual)
			if err != nil {
				return nil, fmt.Errorf("rpm compensation: %w", err)
			}
		}
	}

	return dpll.New(cfg)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	cobra.CheckErr(rootCmd.Execute())
}
