package source

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openvtx/vehiclecam/internal/encoder"
	"github.com/openvtx/vehiclecam/internal/events"
	"github.com/openvtx/vehiclecam/internal/ffmpeg"
	"github.com/openvtx/vehiclecam/internal/logging"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testStream is a minimal Annex-B sequence: SPS, PPS and an IDR slice
// closed by a trailing P-slice start. Only the first three units complete
// while the fake encoder keeps the pipe open.
var testStream = []byte{
	0x00, 0x00, 0x00, 0x01, 0x67, 0x42, 0x00, 0x1E,
	0x00, 0x00, 0x00, 0x01, 0x68, 0xCE, 0x38, 0x80,
	0x00, 0x00, 0x01, 0x65, 0x88, 0x84, 0x00, 0xFF,
	0x00, 0x00, 0x00, 0x01, 0x41, 0x9A, 0x00, 0x00,
}

// newTestSource builds a source whose encoder is a shell script and whose
// device probe always succeeds. Sleeps are shortened tenfold.
func newTestSource(t *testing.T, script string) *Source {
	t.Helper()

	s := New(Options{
		DevicePath: "/dev/video-test",
		Logger:     testLogger(),
	})
	s.probeFunc = func(string) bool { return true }
	s.spawnFunc = func(_ *ffmpeg.Params, logger logging.Logger) (*encoder.Encoder, error) {
		return encoder.SpawnCommand("sh", []string{"-c", script}, logger)
	}
	s.sleep = func(d time.Duration) { time.Sleep(d / 10) }

	t.Cleanup(s.Stop)
	return s
}

// streamScript writes the test stream to a temp file and returns a script
// that cats it into the pipe and then idles, keeping the pipe open.
func streamScript(t *testing.T, tail string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.h264")
	if err := os.WriteFile(path, testStream, 0o644); err != nil {
		t.Fatal(err)
	}
	return "cat " + path + "; " + tail
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal(msg)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartFailsWhenProbeFails(t *testing.T) {
	s := newTestSource(t, "sleep 10")
	s.probeFunc = func(string) bool { return false }

	bitrate, _ := s.Start(0, 0, 0)
	if bitrate != 0 {
		t.Errorf("Start returned bitrate %d for an absent device, want 0", bitrate)
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

func TestStartFailsWhenSpawnFails(t *testing.T) {
	s := newTestSource(t, "")
	s.spawnFunc = func(_ *ffmpeg.Params, logger logging.Logger) (*encoder.Encoder, error) {
		return encoder.SpawnCommand("/nonexistent-encoder", nil, logger)
	}

	bitrate, _ := s.Start(0, 0, 0)
	if bitrate != 0 {
		t.Errorf("Start returned bitrate %d after spawn failure, want 0", bitrate)
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

func TestStartAppliesDefaults(t *testing.T) {
	s := newTestSource(t, "sleep 10")

	bitrate, keyframeMs := s.Start(0, 0, 0)
	if bitrate != DefaultBitrate {
		t.Errorf("bitrate = %d, want default %d", bitrate, DefaultBitrate)
	}
	if keyframeMs != DefaultKeyframeMs {
		t.Errorf("keyframeMs = %d, want default %d", keyframeMs, DefaultKeyframeMs)
	}
	if s.State() != StateRunning {
		t.Errorf("state = %v, want running", s.State())
	}
	if s.ProgramStartTime() == 0 {
		t.Error("ProgramStartTime() = 0 while running")
	}
}

func TestPipelineDeliversNALs(t *testing.T) {
	s := newTestSource(t, streamScript(t, "sleep 10"))

	if bitrate, _ := s.Start(2_500_000, 1500, 0); bitrate != 2_500_000 {
		t.Fatalf("Start returned %d, want the override 2500000", bitrate)
	}

	var records [][]byte
	var timestamps []uint32
	waitFor(t, 2*time.Second, func() bool {
		data, ts, ok := s.Read(false)
		if ok {
			records = append(records, bytes.Clone(data))
			timestamps = append(timestamps, ts)
		}
		return len(records) >= 3
	}, "pipeline never delivered 3 NAL units")

	wantTypes := []uint32{7, 8, 5}
	for i, rec := range records {
		if !bytes.HasPrefix(rec, []byte{0x00, 0x00, 0x00, 0x01}) {
			t.Errorf("record %d missing canonical start code: % x", i, rec[:4])
		}
		if got := uint32(rec[4] & 0x1F); got != wantTypes[i] {
			t.Errorf("record %d type = %d, want %d", i, got, wantTypes[i])
		}
	}

	// The IDR slice came last; last-read metadata reflects it.
	if s.LastNALType() != 5 {
		t.Errorf("LastNALType() = %d, want 5", s.LastNALType())
	}
	if !s.LastReadIsStartNAL() || !s.LastReadIsEndNAL() {
		t.Error("IDR slice must set both boundary flags")
	}
	if !s.LastReadIsSingleNAL() {
		t.Error("LastReadIsSingleNAL() = false after a successful read")
	}

	s.Stop()
	if s.State() != StateStopped {
		t.Errorf("state = %v after Stop, want stopped", s.State())
	}
	if _, _, ok := s.Read(false); ok {
		t.Error("Read succeeded after Stop")
	}
}

func TestWorkerEOFSetsErrorState(t *testing.T) {
	// The fake encoder exits immediately after writing, closing the pipe.
	s := newTestSource(t, streamScript(t, "exit 0"))

	s.Start(0, 0, 0)
	waitFor(t, 2*time.Second, func() bool {
		return s.State() == StateError
	}, "state never reached error after pipe EOF")

	if _, _, ok := s.Read(false); ok {
		t.Error("Read succeeded while in error state")
	}
}

func TestHealthDetectsEncoderDeath(t *testing.T) {
	// The child exits but a background grandchild keeps the pipe open, so
	// only the liveness reap can notice the death.
	s := newTestSource(t, "sleep 2 & exit 0")

	s.Start(0, 0, 0)
	waitFor(t, 2*time.Second, func() bool {
		return !s.enc.Alive() || s.State() == StateError
	}, "encoder child never observed dead")

	if s.PeriodicHealthChecks() {
		t.Error("PeriodicHealthChecks() = true with a dead encoder")
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

func TestHealthRestartsFromErrorState(t *testing.T) {
	s := newTestSource(t, "sleep 10")

	s.Start(3_000_000, 1000, 0)
	s.setState(StateError)

	if !s.PeriodicHealthChecks() {
		t.Error("restart reported failure")
	}
	if s.State() != StateRunning {
		t.Errorf("state = %v after restart, want running", s.State())
	}
	if s.Bitrate() != 3_000_000 || s.KeyframeMs() != 1000 {
		t.Errorf("restart lost parameters: bitrate=%d keyframe=%d",
			s.Bitrate(), s.KeyframeMs())
	}
}

func TestHealthDeviceLost(t *testing.T) {
	s := newTestSource(t, "sleep 10")
	// Shift the epoch back so nowMs is far past the reprobe interval.
	s.epoch = time.Now().Add(-time.Minute)

	s.Start(0, 0, 0)

	deviceGone := false
	s.probeFunc = func(string) bool { return !deviceGone }
	deviceGone = true
	s.lastProbeTime = 0

	if s.PeriodicHealthChecks() {
		t.Error("PeriodicHealthChecks() = true with the device gone")
	}
	if s.State() != StateDeviceLost {
		t.Errorf("state = %v, want device_lost", s.State())
	}
	if s.IsAvailable() {
		t.Error("IsAvailable() = true with the device gone")
	}
}

func TestHealthReadErrorThreshold(t *testing.T) {
	s := newTestSource(t, "sleep 10")

	s.Start(0, 0, 0)
	s.consecutiveReadErrors.Store(maxConsecutiveReadErrors + 1)

	if s.PeriodicHealthChecks() {
		t.Error("PeriodicHealthChecks() = true past the read-error threshold")
	}
	if s.State() != StateError {
		t.Errorf("state = %v, want error", s.State())
	}
}

func TestHealthWhileStopped(t *testing.T) {
	s := newTestSource(t, "sleep 10")
	if !s.PeriodicHealthChecks() {
		t.Error("PeriodicHealthChecks() = false for a stopped source")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	s := newTestSource(t, "sleep 10")

	s.Start(0, 0, 0)
	s.Stop()
	s.Stop()

	if s.State() != StateStopped {
		t.Errorf("state = %v, want stopped", s.State())
	}
	if s.ProgramStartTime() != 0 {
		t.Error("ProgramStartTime() != 0 after Stop")
	}
}

func TestClearInputBuffersIsIdempotent(t *testing.T) {
	s := newTestSource(t, streamScript(t, "sleep 10"))

	s.Start(0, 0, 0)
	waitFor(t, 2*time.Second, func() bool {
		return s.ring.Len() > 0
	}, "ring never filled")

	s.ClearInputBuffers()
	if _, _, ok := s.Read(false); ok {
		t.Error("Read succeeded immediately after ClearInputBuffers")
	}

	// Clearing an empty pipeline is a no-op.
	s.ClearInputBuffers()
	s.ClearInputBuffers()
}

func TestAudioStubs(t *testing.T) {
	s := newTestSource(t, "sleep 10")

	buf := make([]byte, 64)
	if n := s.AudioData(buf); n != 0 {
		t.Errorf("AudioData() = %d, want 0", n)
	}
	s.ClearAudioBuffers()
	s.ApplyAllParameters()
}

func TestStateEventsPublished(t *testing.T) {
	bus := events.New()
	transitions := make(chan events.SourceStateChangedEvent, 16)
	unsub := bus.Subscribe(func(e events.SourceStateChangedEvent) {
		transitions <- e
	})
	defer unsub()

	s := newTestSource(t, "sleep 10")
	s.bus = bus

	s.Start(0, 0, 0)
	s.Stop()

	seen := map[string]bool{}
	timeout := time.After(2 * time.Second)
	for len(seen) < 3 {
		select {
		case e := <-transitions:
			seen[e.NewState] = true
		case <-timeout:
			t.Fatalf("missing transitions, saw %v", seen)
		}
	}
	for _, want := range []string{"starting", "running", "stopped"} {
		if !seen[want] {
			t.Errorf("no transition into %q observed", want)
		}
	}
}
