package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/readchan/config"
	"github.com/sergev/readchan/flux"
)

var (
	synthCells   int
	synthRevs    int
	synthPattern string
	synthDensity float64
	synthSeed    int64
	synthPPM     int
	synthJitter  uint32
)

var synthCmd = &cobra.Command{
	Use:   "synth FILE",
	Short: "Generate a synthetic flux capture file",
	Long: `Generate a flux capture file from a repeating cell pattern or seeded
random cells, at the active profile's bit rate. Speed error and jitter
make the capture exercise the loop the way a real drive would.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		prof := config.Active
		bitRate := uint64(prof.Rates[prof.Rate]) * 1000
		cellTicks := prof.TickHz() / bitRate
		if cellTicks < 2 {
			cobra.CheckErr(fmt.Errorf("profile %q: tick rate too low for %d bps", prof.Name, bitRate))
		}

		var cells []bool
		var err error
		if synthPattern != "" {
			cells, err = flux.PatternCells(synthPattern, synthCells)
			if err != nil {
				cobra.CheckErr(err)
			}
		} else {
			cells = flux.RandomCells(synthCells, synthDensity, synthSeed)
		}

		synth := &flux.Synth{
			CellTicks:   uint32(cellTicks),
			SpeedPPM:    synthPPM,
			JitterTicks: synthJitter,
			Seed:        synthSeed,
		}
		var w flux.StreamWriter
		if err := synth.WriteRevolutions(&w, cells, synthRevs); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to synthesize capture: %w", err))
		}

		data := w.Bytes()
		if err := os.WriteFile(args[0], data, 0644); err != nil {
			cobra.CheckErr(fmt.Errorf("failed to write capture file: %w", err))
		}
		fmt.Printf("Successfully wrote %d cells x %d revolutions (%d bytes) to %s\n",
			len(cells), synthRevs, len(data), args[0])
	},
}

func init() {
	synthCmd.Flags().IntVarP(&synthCells, "cells", "c", 50000, "bit cells per revolution")
	synthCmd.Flags().IntVarP(&synthRevs, "revolutions", "r", 2, "revolutions to generate")
	synthCmd.Flags().StringVar(&synthPattern, "pattern", "", "repeating cell pattern of '0' and '1' (default: random cells)")
	synthCmd.Flags().Float64Var(&synthDensity, "density", 0.5, "transition density for random cells")
	synthCmd.Flags().Int64Var(&synthSeed, "seed", 1, "seed for random cells and jitter")
	synthCmd.Flags().IntVar(&synthPPM, "ppm", 0, "drive speed error in parts per million")
	synthCmd.Flags().Uint32Var(&synthJitter, "jitter", 0, "peak timing jitter per edge, in ticks")
	rootCmd.AddCommand(synthCmd)
}
