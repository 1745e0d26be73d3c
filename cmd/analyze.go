package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/readchan/config"
	"github.com/sergev/readchan/dpll"
	"github.com/sergev/readchan/flux"
	"github.com/sergev/readchan/monitor"
)

var analyzeTrack int

var analyzeCmd = &cobra.Command{
	Use:   "analyze CAPTURE",
	Short: "Report margin, lock and revolution statistics for a capture",
	Long: `Replay a flux capture through the read channel and report how well the
loop tracked it: margin zone histogram, lock behaviour, missing pulses,
and revolution timing against the profile's nominal drive speed.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		data, err := os.ReadFile(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read capture file: %w", err))
		}
		cap, err := flux.DecodeStream(data)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to decode capture %s: %w", args[0], err))
		}
		channel, err := buildChannel(cap)
		if err != nil {
			cobra.CheckErr(err)
		}

		collector := monitor.NewCollector()
		player := flux.PlayCapture(cap)
		lockDwell := make(map[dpll.LockState]uint64)
		for {
			pt, ok := player.Tick()
			if !ok {
				break
			}
			out := channel.Tick(dpll.Input{
				Edge:     pt.Edge,
				Polarity: pt.Polarity,
				Interval: pt.Interval,
				Track:    analyzeTrack,
			})
			collector.Record(args[0], out)
			lockDwell[out.LockState]++
		}
		status, _ := collector.Channel(args[0])
		t := status.Totals

		fmt.Printf("Capture %s: %d ticks, %d transitions, %d index marks\n",
			args[0], t.Ticks, len(cap.Intervals), len(cap.Index))

		fmt.Printf("\nMargin zones:\n")
		edges := uint64(0)
		for _, n := range t.Margins {
			edges += n
		}
		for zone := dpll.MarginEarly; zone <= dpll.MarginWayOff; zone++ {
			n := t.Margins[zone]
			pct := uint64(0)
			if edges > 0 {
				pct = n * 100 / edges
			}
			fmt.Printf("  %-8s %10d  %3d%%\n", zone, n, pct)
		}

		fmt.Printf("\nLock:\n")
		for state := dpll.LockUnlocked; state <= dpll.LockHolding; state++ {
			fmt.Printf("  %-10s %10d ticks\n", state, lockDwell[state])
		}
		fmt.Printf("  %d transitions, final state %s, quality 0x%02X (min 0x%02X, max 0x%02X)\n",
			t.LockTransitions, channel.LockState(), channel.LockQuality(),
			t.QualityMin, t.QualityMax)

		fmt.Printf("\nCells: %d, bits: %d (%d ones), missing pulses: %d, glitches: %d\n",
			t.Cells, t.Bits, t.Ones, t.MissingPulses, t.Glitches)

		if len(cap.Index) >= 2 {
			actual, err := flux.RevolutionTicks(cap.Index)
			if err != nil {
				cobra.CheckErr(err)
			}
			nominal, err := flux.NominalRevolutionTicks(config.Active.RPM, config.Active.TickHz())
			if err != nil {
				cobra.CheckErr(err)
			}
			// Signed deviation in parts per million.
			ppm := (int64(actual) - int64(nominal)) * 1000000 / int64(nominal)
			fmt.Printf("\nRevolution: %d ticks measured, %d nominal (%+d ppm)\n",
				actual, nominal, ppm)
		}
	},
}

func init() {
	analyzeCmd.Flags().IntVarP(&analyzeTrack, "track", "t", 0,
		"physical head position, selects the zone for zoned profiles")
	rootCmd.AddCommand(analyzeCmd)
}
