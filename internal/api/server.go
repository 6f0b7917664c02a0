// Package api serves the node's HTTP status surface: capture source
// state, detected devices, a log tail and Prometheus metrics. It is a
// read-only diagnostic interface; control stays with the telemetry link.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/openvtx/vehiclecam/internal/api/models"
	"github.com/openvtx/vehiclecam/internal/logging"
	"github.com/openvtx/vehiclecam/internal/source"
	"github.com/openvtx/vehiclecam/internal/version"
	"github.com/openvtx/vehiclecam/pkg/linuxav/v4l2"
)

// Options configures the API server.
type Options struct {
	Source         *source.Source
	MetricsHandler http.Handler
}

// Server is the Huma v2 status API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	source     *source.Source
	logger     *slog.Logger
}

// NewServer creates the API server and registers all routes.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	config := huma.DefaultConfig("VehicleCam API", version.Version)
	config.Info.Description = "Status API for the USB camera capture source"

	s := &Server{
		api:    humago.New(mux, config),
		mux:    mux,
		source: opts.Source,
		logger: logging.GetLogger("api"),
	}

	s.registerRoutes()

	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	}

	return s
}

// Start begins serving on addr. Blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type statusOutput struct {
	Body models.SourceStatus
}

type devicesOutput struct {
	Body struct {
		Devices []models.DeviceInfo `json:"devices" doc:"Detected V4L2 capture devices"`
	}
}

type logsInput struct {
	Limit int `query:"limit" default:"100" minimum:"1" maximum:"1000" doc:"Maximum entries to return"`
}

type logsOutput struct {
	Body struct {
		Entries []models.LogEntry `json:"entries" doc:"Recent log entries, oldest first"`
	}
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-source-status",
		Method:      http.MethodGet,
		Path:        "/api/source/status",
		Summary:     "Get capture source status",
	}, func(_ context.Context, _ *struct{}) (*statusOutput, error) {
		src := s.source
		resp := &statusOutput{}
		resp.Body = models.SourceStatus{
			State:        src.State().String(),
			DevicePath:   src.DevicePath(),
			BitrateBps:   src.Bitrate(),
			KeyframeMs:   src.KeyframeMs(),
			UptimeMs:     src.ProgramStartTime(),
			BufferedNALs: src.BufferedNALs(),
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List V4L2 capture devices",
	}, func(_ context.Context, _ *struct{}) (*devicesOutput, error) {
		devices, err := v4l2.FindDevices()
		if err != nil {
			return nil, huma.Error500InternalServerError("device enumeration failed", err)
		}

		resp := &devicesOutput{}
		resp.Body.Devices = make([]models.DeviceInfo, 0, len(devices))
		for _, dev := range devices {
			resp.Body.Devices = append(resp.Body.Devices, models.DeviceInfo{
				DevicePath: dev.DevicePath,
				DeviceName: dev.DeviceName,
				Driver:     dev.Driver,
				BusInfo:    dev.BusInfo,
			})
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-logs",
		Method:      http.MethodGet,
		Path:        "/api/logs",
		Summary:     "Get recent log entries",
	}, func(_ context.Context, input *logsInput) (*logsOutput, error) {
		resp := &logsOutput{}
		resp.Body.Entries = []models.LogEntry{}

		buffer := logging.Buffer()
		if buffer == nil {
			return resp, nil
		}

		entries := buffer.ReadAll()
		if input.Limit > 0 && len(entries) > input.Limit {
			entries = entries[len(entries)-input.Limit:]
		}

		for _, e := range entries {
			resp.Body.Entries = append(resp.Body.Entries, models.LogEntry{
				Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
				Level:      e.Level,
				Module:     e.Module,
				Message:    e.Message,
				Attributes: e.Attributes,
			})
		}
		return resp, nil
	})
}
