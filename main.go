package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/openvtx/vehiclecam/cmd"
	"github.com/openvtx/vehiclecam/internal/api"
	"github.com/openvtx/vehiclecam/internal/config"
	"github.com/openvtx/vehiclecam/internal/events"
	"github.com/openvtx/vehiclecam/internal/logging"
	"github.com/openvtx/vehiclecam/internal/metrics"
	natsuplink "github.com/openvtx/vehiclecam/internal/nats"
	"github.com/openvtx/vehiclecam/internal/source"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Status API listen address" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Capture settings
	Device     string `help:"V4L2 capture device" default:"/dev/video0" toml:"capture.device" env:"CAPTURE_DEVICE"`
	Width      int    `help:"Capture width (0 = default)" default:"0" toml:"capture.width" env:"CAPTURE_WIDTH"`
	Height     int    `help:"Capture height (0 = default)" default:"0" toml:"capture.height" env:"CAPTURE_HEIGHT"`
	FPS        int    `help:"Capture framerate (0 = default)" default:"0" toml:"capture.fps" env:"CAPTURE_FPS"`
	BitrateBps int    `help:"Encode bitrate in bits/sec (0 = default)" default:"0" toml:"capture.bitrate_bps" env:"CAPTURE_BITRATE_BPS"`
	KeyframeMs int    `help:"Keyframe period in ms (0 = default)" default:"0" toml:"capture.keyframe_ms" env:"CAPTURE_KEYFRAME_MS"`
	AutoStart  bool   `help:"Start capture on boot" default:"true" toml:"capture.auto_start" env:"CAPTURE_AUTO_START"`

	// Telemetry uplink settings
	NATSURL string `help:"NATS broker URL, empty disables the uplink" default:"" toml:"nats.url" env:"NATS_URL"`
	NodeID  string `help:"Telemetry node identifier" default:"vehiclecam" toml:"nats.node_id" env:"NATS_NODE_ID"`

	// Logging settings
	LoggingLevel  string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		logging.Initialize(loggingConfig)

		logger := logging.GetLogger("main")

		eventBus := events.New()
		sourceMetrics := metrics.NewSource()

		src := source.New(source.Options{
			DevicePath: opts.Device,
			Width:      opts.Width,
			Height:     opts.Height,
			FPS:        opts.FPS,
			Logger:     logging.GetLogger("source"),
			Bus:        eventBus,
			Metrics:    sourceMetrics,
		})

		server := api.NewServer(&api.Options{
			Source:         src,
			MetricsHandler: sourceMetrics.Handler(),
		})

		// Telemetry uplink, optional.
		var uplink *natsuplink.Client
		if opts.NATSURL != "" {
			uplink = natsuplink.NewClient(opts.NATSURL, opts.NodeID, logging.GetLogger("nats"))
			uplink.OnRestart(func() {
				src.Stop()
				src.Start(uint32(opts.BitrateBps), opts.KeyframeMs, 0)
			})
			uplink.BindBus(eventBus)
		}

		// Restart capture when the config file's bitrate or keyframe period
		// changes. Device, resolution and frame rate are read at startup only.
		watcher := config.NewConfigWatcher(
			opts.Config,
			func(path string) (*Options, error) {
				fresh := &Options{Config: path}
				err := config.LoadConfig(fresh, nil)
				return fresh, err
			},
			logging.GetLogger("config"),
		)
		watcher.OnReload(func(fresh *Options) {
			if fresh.BitrateBps == opts.BitrateBps && fresh.KeyframeMs == opts.KeyframeMs {
				return
			}
			logger.Info("Capture parameters changed, restarting pipeline")
			opts.BitrateBps = fresh.BitrateBps
			opts.KeyframeMs = fresh.KeyframeMs
			src.Stop()
			src.Start(uint32(opts.BitrateBps), opts.KeyframeMs, 0)
		})

		healthStop := make(chan struct{})

		hooks.OnStart(func() {
			if uplink != nil {
				if err := uplink.Connect(); err != nil {
					logger.Warn("Telemetry uplink failed to connect", "error", err)
				}
			}

			if err := watcher.Start(); err != nil {
				logger.Warn("Config watcher disabled", "error", err)
			}

			if opts.AutoStart {
				if bitrate, _ := src.Start(uint32(opts.BitrateBps), opts.KeyframeMs, 0); bitrate == 0 {
					logger.Error("Capture failed to start, health loop will retry")
				}
			}

			// Health tick loop drives stats, reprobe and error recovery.
			go func() {
				ticker := time.NewTicker(time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-healthStop:
						return
					case <-ticker.C:
						src.PeriodicHealthChecks()
					}
				}
			}()

			logger.Info("Starting status API", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start status API", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down")
			close(healthStop)

			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping status API", "error", stopErr)
			}

			src.Stop()

			if stopErr := watcher.Stop(); stopErr != nil {
				logger.Error("Error stopping config watcher", "error", stopErr)
			}
			if uplink != nil {
				uplink.Close()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateSourceCmd())
	cli.Root().AddCommand(cmd.CreateDevicesCmd())

	cli.Run()
}
