package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sergev/readchan/config"
	"github.com/sergev/readchan/dpll"
	"github.com/sergev/readchan/flux"
)

var (
	decodeOutput string
	decodeTrack  int
)

var decodeCmd = &cobra.Command{
	Use:   "decode CAPTURE",
	Short: "Recover the bit stream from a flux capture file",
	Long: `Replay a flux capture file through the read channel and recover the data
bits. With --output the bits are written packed MSB-first (for MFM
profiles, clock and data cells interleaved); statistics go to stdout
either way.`,
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

		fmt.Printf("Decoding %s with profile %q (%d intervals, %d index marks)...\n",
			args[0], config.ProfileName, len(cap.Intervals), len(cap.Index))

		var bits bitPacker
		var cells, lockedTicks, ticks, missing, glitches uint64
		player := flux.PlayCapture(cap)
		for {
			pt, ok := player.Tick()
			if !ok {
				break
			}
			out := channel.Tick(dpll.Input{
				Edge:     pt.Edge,
				Polarity: pt.Polarity,
				Interval: pt.Interval,
				Track:    decodeTrack,
			})
			ticks++
			if out.CellBoundary {
				cells++
			}
			if out.Locked {
				lockedTicks++
			}
			if out.MissingPulse {
				missing++
			}
			if out.Glitch {
				glitches++
			}
			if out.Bit.Ready {
				bits.push(out.Bit.Value)
			}
			if out.MFM.Ready {
				bits.push(out.MFM.Clock)
				bits.push(out.MFM.Data)
			}
		}

		fmt.Printf("%d ticks, %d bit cells, %d bits recovered\n", ticks, cells, bits.count)
		if ticks > 0 {
			fmt.Printf("Locked %d%% of the time, final state %s, quality 0x%02X\n",
				lockedTicks*100/ticks, channel.LockState(), channel.LockQuality())
		}
		fmt.Printf("%d missing pulses, %d glitches rejected\n", missing, glitches)

		if decodeOutput != "" {
			if err := os.WriteFile(decodeOutput, bits.bytes(), 0644); err != nil {
				cobra.CheckErr(fmt.Errorf("failed to write output file: %w", err))
			}
			fmt.Printf("Successfully wrote %d bytes to %s\n", len(bits.bytes()), decodeOutput)
		}
	},
}

// bitPacker packs recovered bits MSB-first into bytes; a trailing partial
// byte is padded with zeros.
type bitPacker struct {
	data  []byte
	cur   byte
	fill  int
	count uint64
}

func (b *bitPacker) push(bit bool) {
	b.cur <<= 1
	if bit {
		b.cur |= 1
	}
	b.fill++
	b.count++
	if b.fill == 8 {
		b.data = append(b.data, b.cur)
		b.cur = 0
		b.fill = 0
	}
}

func (b *bitPacker) bytes() []byte {
	if b.fill == 0 {
		return b.data
	}
	return append(b.data, b.cur<<(8-b.fill))
}

func init() {
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "",
		"write recovered bits to this file, packed MSB-first")
	decodeCmd.Flags().IntVarP(&decodeTrack, "track", "t", 0,
		"physical head position, selects the zone for zoned profiles")
	rootCmd.AddCommand(decodeCmd)
}
