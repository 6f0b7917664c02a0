// Package source implements the USB camera capture source: it probes the
// V4L2 device, supervises the external H.264 encoder child, parses the
// encoder's Annex-B output into NAL units and buffers them for the
// downstream link consumer.
//
// A single Source value owns all pipeline state; its lifecycle is bounded
// by Start and Stop. The caller drives Read and PeriodicHealthChecks from
// one goroutine; the capture worker is the only other actor and touches
// nothing but the ring, the scanner, its own counters and the state for
// its error transitions.
package source

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/openvtx/vehiclecam/internal/annexb"
	"github.com/openvtx/vehiclecam/internal/encoder"
	"github.com/openvtx/vehiclecam/internal/events"
	"github.com/openvtx/vehiclecam/internal/ffmpeg"
	"github.com/openvtx/vehiclecam/internal/logging"
	"github.com/openvtx/vehiclecam/internal/metrics"
	"github.com/openvtx/vehiclecam/internal/nalring"
	"github.com/openvtx/vehiclecam/pkg/linuxav/v4l2"
)

// Options configures a capture source.
type Options struct {
	DevicePath string
	Width      int
	Height     int
	FPS        int

	Logger  logging.Logger
	Bus     *events.Bus     // optional
	Metrics *metrics.Source // optional
}

// Source is the capture pipeline controller.
type Source struct {
	opts   Options
	logger logging.Logger
	bus    *events.Bus
	m      *metrics.Source

	state    atomic.Int32
	stopFlag atomic.Bool

	enc           *encoder.Encoder
	ring          *nalring.Ring
	scanMu        sync.Mutex
	scanner       *annexb.Scanner
	workerDone    chan struct{}
	workerRunning atomic.Bool

	// Retained encode parameters, reused across restarts.
	bitrate    uint32
	keyframeMs int

	epoch     time.Time
	startTime uint32

	// Last-read NAL metadata, updated only by Read.
	lastNALType     uint32
	lastReadIsStart bool
	lastReadIsEnd   bool
	lastReadSingle  bool

	// Worker-side statistics counters.
	windowBytes           atomic.Uint64
	windowReads           atomic.Uint32
	consecutiveReadErrors atomic.Int32

	// Controller-side health bookkeeping.
	lastStatsLog  uint32
	lastProbeTime uint32

	// Seams for tests.
	probeFunc func(path string) bool
	spawnFunc func(p *ffmpeg.Params, logger logging.Logger) (*encoder.Encoder, error)
	sleep     func(d time.Duration)
}

// New creates a stopped capture source.
func New(opts Options) *Source {
	if opts.DevicePath == "" {
		opts.DevicePath = ffmpeg.DefaultDevice
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetLogger("source")
	}

	s := &Source{
		opts:      opts,
		logger:    opts.Logger,
		bus:       opts.Bus,
		m:         opts.Metrics,
		ring:      nalring.New(),
		epoch:     time.Now(),
		probeFunc: v4l2.Probe,
		spawnFunc: encoder.Spawn,
		sleep:     time.Sleep,
	}
	s.scanner = annexb.NewScanner(s.onNAL, s.nowMs)
	return s
}

// nowMs returns monotonic milliseconds since the source was created.
func (s *Source) nowMs() uint32 {
	return uint32(time.Since(s.epoch) / time.Millisecond)
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	return State(s.state.Load())
}

func (s *Source) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev == next {
		return
	}
	if s.m != nil {
		s.m.State.Set(float64(next))
	}
	if s.bus != nil {
		s.bus.Publish(events.SourceStateChangedEvent{
			OldState:  prev.String(),
			NewState:  next.String(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Start probes the device, spawns the encoder child and launches the
// capture worker. Zero or negative overrides select the defaults. Returns
// the chosen bitrate and the keyframe period actually set; a zero bitrate
// means the start failed and the state is left at error. qpDelta is
// accepted for interface symmetry with other source types and unused by
// the external encoder.
func (s *Source) Start(bitrate uint32, keyframeMs, qpDelta int) (uint32, int) {
	_ = qpDelta
	s.logger.Info("Starting USB camera capture", "device", s.opts.DevicePath)

	if !s.probeFunc(s.opts.DevicePath) {
		s.logger.Error("Camera device not available", "device", s.opts.DevicePath)
		s.setState(StateError)
		return 0, 0
	}

	s.bitrate = bitrate
	if s.bitrate == 0 {
		s.bitrate = DefaultBitrate
	}
	s.keyframeMs = keyframeMs
	if s.keyframeMs <= 0 {
		s.keyframeMs = DefaultKeyframeMs
	}

	s.logger.Info("Capture settings",
		"bitrate_mbps", float64(s.bitrate)/1e6, "keyframe_ms", s.keyframeMs)

	s.ring.Clear()
	s.scanMu.Lock()
	s.scanner.Reset()
	s.scanMu.Unlock()

	s.setState(StateStarting)

	params := &ffmpeg.Params{
		DevicePath: s.opts.DevicePath,
		Width:      s.opts.Width,
		Height:     s.opts.Height,
		FPS:        s.opts.FPS,
		Bitrate:    s.bitrate,
		KeyframeMs: s.keyframeMs,
	}
	params.ApplyDefaults()

	enc, err := s.spawnFunc(params, s.logger)
	if err != nil {
		s.logger.Error("Failed to start encoder", "error", err)
		s.setState(StateError)
		return 0, 0
	}
	s.enc = enc

	// Give the encoder a moment to open the device and emit headers.
	s.sleep(warmupDelayMs * time.Millisecond)

	s.stopFlag.Store(false)
	s.consecutiveReadErrors.Store(0)
	s.workerDone = make(chan struct{})
	s.workerRunning.Store(true)
	go s.captureWorker(enc)

	s.startTime = s.nowMs()
	s.lastStatsLog = s.startTime
	s.lastProbeTime = s.startTime
	s.setState(StateRunning)

	s.logger.Info("USB camera started", "pid", enc.Pid())
	return s.bitrate, s.keyframeMs
}

// Stop tears the pipeline down: signals the worker, joins it with a
// bounded wait (closing the pipe out from under it as escalation), stops
// the encoder child and clears the ring. Safe to call repeatedly.
func (s *Source) Stop() {
	s.logger.Info("Stopping USB camera capture")

	s.stopFlag.Store(true)

	if s.workerRunning.Load() {
		joined := false
		for waited := 0; waited < workerJoinTimeoutMs; waited += workerJoinTickMs {
			select {
			case <-s.workerDone:
				joined = true
			default:
				s.sleep(workerJoinTickMs * time.Millisecond)
				continue
			}
			break
		}

		if !joined {
			// The worker only blocks in poll; closing the pipe forces it
			// out, the Go equivalent of cancelling the thread.
			s.logger.Warn("Worker still running, closing pipe to unblock it")
			if s.enc != nil {
				s.enc.ClosePipe()
			}
			<-s.workerDone
		}
		s.workerRunning.Store(false)
	}

	if s.enc != nil {
		s.enc.Stop()
		s.enc = nil
	}

	s.ring.Clear()

	s.setState(StateStopped)
	s.startTime = 0

	s.logger.Info("USB camera stopped")
}

// Read returns the oldest buffered NAL unit, its capture timestamp and
// true, or false when the source is not running or the ring is empty. The
// returned bytes are a borrowed view, valid until the next Read call. The
// async flag is accepted for interface symmetry; reads never block.
func (s *Source) Read(async bool) ([]byte, uint32, bool) {
	_ = async

	if s.State() != StateRunning {
		return nil, 0, false
	}

	rec := s.ring.Read()
	if rec == nil || !rec.Valid {
		return nil, 0, false
	}

	s.lastNALType = rec.Type
	s.lastReadIsStart = rec.IsStart
	s.lastReadIsEnd = rec.IsEnd
	s.lastReadSingle = true

	return rec.Bytes(), rec.Timestamp, true
}

// LastNALType returns the NAL type of the most recently read record.
func (s *Source) LastNALType() uint32 { return s.lastNALType }

// LastReadIsStartNAL reports whether the last read record starts a slice.
func (s *Source) LastReadIsStartNAL() bool { return s.lastReadIsStart }

// LastReadIsEndNAL reports whether the last read record ends a slice.
func (s *Source) LastReadIsEndNAL() bool { return s.lastReadIsEnd }

// LastReadIsSingleNAL reports whether the last read returned a single
// complete NAL unit. Ring records always hold exactly one unit.
func (s *Source) LastReadIsSingleNAL() bool { return s.lastReadSingle }

// ClearInputBuffers drops all buffered NAL units and resets the scanner.
// Idempotent; clearing an empty pipeline is a no-op.
func (s *Source) ClearInputBuffers() {
	s.logger.Info("Clearing input buffers")
	s.ring.Clear()
	s.scanMu.Lock()
	s.scanner.Reset()
	s.scanMu.Unlock()
}

// ApplyAllParameters acknowledges a parameter change. Bitrate and
// keyframe changes require a full encoder restart, which the caller
// performs via Stop and Start.
func (s *Source) ApplyAllParameters() {
	s.logger.Info("Parameter change acknowledged, restart required to apply")
}

// AudioData fills buf with captured audio. USB thermal cameras carry no
// audio; always returns 0.
func (s *Source) AudioData(buf []byte) int {
	_ = buf
	return 0
}

// ClearAudioBuffers is a no-op; there is no audio path.
func (s *Source) ClearAudioBuffers() {}

// IsAvailable reprobes the device node.
func (s *Source) IsAvailable() bool {
	return s.probeFunc(s.opts.DevicePath)
}

// ProgramStartTime returns the monotonic-ms timestamp of the last
// successful Start, or 0 when stopped.
func (s *Source) ProgramStartTime() uint32 {
	return s.startTime
}

// BufferedNALs returns the current ring occupancy.
func (s *Source) BufferedNALs() int {
	return s.ring.Len()
}

// DevicePath returns the configured V4L2 node path.
func (s *Source) DevicePath() string {
	return s.opts.DevicePath
}

// Bitrate returns the retained encode bitrate in bits per second.
func (s *Source) Bitrate() uint32 { return s.bitrate }

// KeyframeMs returns the retained keyframe period in milliseconds.
func (s *Source) KeyframeMs() int { return s.keyframeMs }

// PeriodicHealthChecks runs the health tick: throughput stats every 5 s,
// device reprobe every 10 s, encoder liveness on every call, and a full
// restart attempt when the source sits in the error state. Returns false
// when the pipeline is unhealthy and the caller should expect recovery
// action (or escalate if restarts keep failing).
func (s *Source) PeriodicHealthChecks() bool {
	if s.State() == StateStopped {
		return true
	}

	now := s.nowMs()

	if now > s.lastStatsLog+statsIntervalMs {
		s.logThroughput(now)
	}

	if s.State() == StateError {
		return s.restart()
	}

	if s.enc != nil && !s.enc.Alive() {
		s.logger.Error("Encoder process died unexpectedly", "error", s.enc.ExitErr())
		if s.bus != nil {
			s.bus.Publish(events.EncoderExitedEvent{
				Pid:       s.enc.Pid(),
				Error:     errString(s.enc.ExitErr()),
				Timestamp: time.Now().UTC().Format(time.RFC3339),
			})
		}
		s.setState(StateError)
		return false
	}

	if now > s.lastProbeTime+reprobeIntervalMs {
		s.lastProbeTime = now
		if !s.probeFunc(s.opts.DevicePath) {
			s.logger.Error("Camera device lost", "device", s.opts.DevicePath)
			if s.bus != nil {
				s.bus.Publish(events.DeviceLostEvent{
					DevicePath: s.opts.DevicePath,
					Timestamp:  time.Now().UTC().Format(time.RFC3339),
				})
			}
			s.setState(StateDeviceLost)
			return false
		}
	}

	if s.consecutiveReadErrors.Load() > maxConsecutiveReadErrors {
		s.logger.Error("Too many consecutive read errors")
		s.setState(StateError)
		return false
	}

	return true
}

// logThroughput logs and resets the windowed stats counters.
func (s *Source) logThroughput(now uint32) {
	window := now - s.lastStatsLog
	bytes := s.windowBytes.Swap(0)
	reads := s.windowReads.Swap(0)
	s.lastStatsLog = now

	if window == 0 {
		return
	}

	mbps := float64(bytes*8) / float64(window) / 1000.0
	s.logger.Info("Capture throughput",
		"mbps", mbps, "reads", reads, "window_ms", window)

	if s.bus != nil {
		s.bus.Publish(events.SourceStatsEvent{
			BitrateMbps: mbps,
			Reads:       reads,
			WindowMs:    window,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// restart performs the stop-settle-start sequence with retained
// parameters. Returns true when the source came back up.
func (s *Source) restart() bool {
	s.logger.Error("Camera in error state, attempting restart")

	bitrate, keyframeMs := s.bitrate, s.keyframeMs
	s.Stop()
	s.sleep(restartSettleMs * time.Millisecond)
	chosen, _ := s.Start(bitrate, keyframeMs, 0)

	success := chosen > 0
	if s.m != nil {
		s.m.Restarts.Inc()
	}
	if s.bus != nil {
		s.bus.Publish(events.SourceRestartedEvent{
			Success:   success,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return success
}

// onNAL receives completed NAL units from the scanner and stores them in
// the ring.
func (s *Source) onNAL(u annexb.Unit) {
	if s.m != nil {
		if s.ring.Len() == nalring.Capacity {
			s.m.RingDrops.Inc()
		}
		s.m.NALUnits.WithLabelValues(annexb.TypeName(u.Type)).Inc()
	}
	s.ring.Write(u.Data, u.Type, u.IsStart, u.IsEnd, u.Timestamp)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
