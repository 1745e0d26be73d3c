package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sergev/readchan/dpll"
	"github.com/sergev/readchan/flux"
	"github.com/sergev/readchan/monitor"
)

var (
	serveAddress  string
	serveLogLevel string
	serveChannels int
	serveTrack    int
)

var serveCmd = &cobra.Command{
	Use:   "serve CAPTURE",
	Short: "Loop a capture through the read channel and serve diagnostics",
	Long: `Replay a flux capture in a loop through a bank of read channels and
expose their live status over a diagnostics HTTP API: GET /status,
GET /channels/{channel}/status, and a WebSocket at /watch pushing
snapshots. Runs until SIGINT or SIGTERM.

Log level is taken from --log-level, or LOG_LEVEL when the flag is unset.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		data, err := os.ReadFile(args[0])
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to read capture file: %w", err))
		}
		cap, err := flux.DecodeStream(data)
		if err != nil {
			cobra.CheckErr(fmt.Errorf("failed to decode capture %s: %w", args[0], err))
		}

		channels := make([]*dpll.Channel, serveChannels)
		for i := range channels {
			if channels[i], err = buildChannel(cap); err != nil {
				cobra.CheckErr(err)
			}
		}

		collector := monitor.NewCollector()
		server := monitor.NewServer(serveAddress, collector)
		stop := make(chan struct{})

		wg := &sync.WaitGroup{}
		wg.Add(2)

		go func() {
			defer wg.Done()
			if err := server.Serve(); err != nil {
				log.Errorf("diagnostics API closed with error: %v", err)
			}
		}()

		go func() {
			defer wg.Done()
			replayLoop(cap, channels, collector, stop)
		}()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		log.Infof("received %v, shutting down", s)
		close(stop)
		if err := server.Stop(); err != nil {
			log.Errorf("error stopping diagnostics API: %v", err)
		}
		wg.Wait()
	},
}

// replayLoop feeds the capture through every channel over and over,
// pausing briefly between chunks so the simulation does not pin a core.
func replayLoop(cap *flux.Capture, channels []*dpll.Channel,
	collector *monitor.Collector, stop <-chan struct{}) {

	const chunk = 1 << 20 // ticks between pauses

	names := make([]string, len(channels))
	for i := range channels {
		names[i] = fmt.Sprintf("drive%d", i)
	}

	for pass := 0; ; pass++ {
		log.Debugf("replay pass %d", pass)
		player := flux.PlayCapture(cap)
		budget := chunk
		for {
			pt, ok := player.Tick()
			if !ok {
				break
			}
			in := dpll.Input{
				Edge:     pt.Edge,
				Polarity: pt.Polarity,
				Interval: pt.Interval,
				Track:    serveTrack,
			}
			for i, ch := range channels {
				collector.Record(names[i], ch.Tick(in))
			}
			if budget--; budget == 0 {
				budget = chunk
				select {
				case <-stop:
					return
				case <-time.After(10 * time.Millisecond):
				}
			}
		}
		select {
		case <-stop:
			return
		default:
		}
		// A fresh pass starts from a fresh acquisition.
		for _, ch := range channels {
			ch.Reset()
		}
	}
}

func setupLogging() {
	level := serveLogLevel
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level == "" {
		level = "info"
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		cobra.CheckErr(fmt.Errorf("invalid log level %q: %w", level, err))
	}
	log.SetLevel(parsed)
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddress, "address", "a", ":8687",
		"listen address for the diagnostics API")
	serveCmd.Flags().StringVar(&serveLogLevel, "log-level", "",
		"log level: panic, fatal, error, warn, info, debug, trace")
	serveCmd.Flags().IntVar(&serveChannels, "channels", 1,
		"number of independent read channels to run")
	serveCmd.Flags().IntVarP(&serveTrack, "track", "t", 0,
		"physical head position, selects the zone for zoned profiles")
	rootCmd.AddCommand(serveCmd)
}
