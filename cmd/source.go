package cmd

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openvtx/vehiclecam/internal/config"
	"github.com/openvtx/vehiclecam/internal/logging"
	"github.com/openvtx/vehiclecam/internal/source"
)

// sourceOptions are the capture parameters of the standalone source run.
type sourceOptions struct {
	Config     string
	Device     string `toml:"capture.device" env:"CAPTURE_DEVICE"`
	Width      int    `toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height     int    `toml:"capture.height" env:"CAPTURE_HEIGHT"`
	FPS        int    `toml:"capture.fps" env:"CAPTURE_FPS"`
	BitrateBps uint32 `toml:"capture.bitrate_bps" env:"CAPTURE_BITRATE_BPS"`
	KeyframeMs int    `toml:"capture.keyframe_ms" env:"CAPTURE_KEYFRAME_MS"`
	Output     string
	LogJSON    bool
}

// CreateSourceCmd creates the source command: it runs the capture
// pipeline standalone and writes the Annex-B stream to a file or stdout,
// standing in for the radio-link packetizer.
func CreateSourceCmd() *cobra.Command {
	opts := &sourceOptions{}

	cmd := &cobra.Command{
		Use:   "source",
		Short: "Run the capture source standalone",
		Long: `Starts the USB camera capture pipeline and drains buffered NAL units ` +
			`to the given output, acting as its own consumer. Intended for bench ` +
			`testing a camera without the telemetry link.`,
		Run: func(cmd *cobra.Command, _ []string) {
			if err := config.LoadConfig(opts, cmd); err != nil {
				os.Exit(1)
			}

			format := "text"
			if opts.LogJSON {
				format = "json"
			}
			logging.Initialize(logging.Config{Level: "info", Format: format})
			logger := logging.GetLogger("source")

			out := os.Stdout
			if opts.Output != "" && opts.Output != "-" {
				f, err := os.Create(opts.Output)
				if err != nil {
					logger.Error("Failed to open output", "path", opts.Output, "error", err)
					os.Exit(1)
				}
				defer f.Close()
				out = f
			}

			src := source.New(source.Options{
				DevicePath: opts.Device,
				Width:      opts.Width,
				Height:     opts.Height,
				FPS:        opts.FPS,
				Logger:     logger,
			})

			bitrate, keyframeMs := src.Start(opts.BitrateBps, opts.KeyframeMs, 0)
			if bitrate == 0 {
				logger.Error("Failed to start capture source")
				os.Exit(1)
			}
			logger.Info("Capture running", "bitrate", bitrate, "keyframe_ms", keyframeMs)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			healthTicker := time.NewTicker(time.Second)
			defer healthTicker.Stop()
			drainTicker := time.NewTicker(5 * time.Millisecond)
			defer drainTicker.Stop()

		loop:
			for {
				select {
				case sig := <-sigChan:
					logger.Info("Received shutdown signal", "signal", sig.String())
					break loop

				case <-healthTicker.C:
					src.PeriodicHealthChecks()

				case <-drainTicker.C:
					for {
						data, _, ok := src.Read(false)
						if !ok {
							break
						}
						if _, err := out.Write(data); err != nil {
							logger.Error("Output write failed", "error", err)
							break loop
						}
					}
				}
			}

			src.Stop()
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "config.toml", "Path to configuration file")
	cmd.Flags().StringVar(&opts.Device, "device", "/dev/video0", "V4L2 capture device")
	cmd.Flags().IntVar(&opts.Width, "width", 0, "Capture width (0 = default)")
	cmd.Flags().IntVar(&opts.Height, "height", 0, "Capture height (0 = default)")
	cmd.Flags().IntVar(&opts.FPS, "fps", 0, "Capture framerate (0 = default)")
	cmd.Flags().Uint32Var(&opts.BitrateBps, "bitrate-bps", 0, "Encode bitrate in bits/sec (0 = default)")
	cmd.Flags().IntVar(&opts.KeyframeMs, "keyframe-ms", 0, "Keyframe period in ms (0 = default)")
	cmd.Flags().StringVar(&opts.Output, "output", "capture.h264", "Annex-B output path, - for stdout")
	cmd.Flags().BoolVar(&opts.LogJSON, "log-json", false, "Use JSON log format")

	return cmd
}
