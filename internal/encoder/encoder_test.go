package encoder

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// spawnShell starts a shell script as the supervised child with short
// reap timings for tests.
func spawnShell(t *testing.T, script string) *Encoder {
	t.Helper()
	e, err := SpawnCommand("sh", []string{"-c", script}, testLogger())
	if err != nil {
		t.Fatalf("spawnCommand failed: %v", err)
	}
	e.reapInterval = 20 * time.Millisecond
	return e
}

func TestSpawnFailureReturnsError(t *testing.T) {
	_, err := SpawnCommand("/nonexistent-encoder-binary", nil, testLogger())
	if err == nil {
		t.Fatal("spawnCommand succeeded for a nonexistent binary")
	}
}

func TestAliveAndNaturalExit(t *testing.T) {
	e := spawnShell(t, "exit 0")

	// The child exits on its own; Alive flips to false once reaped.
	deadline := time.Now().Add(2 * time.Second)
	for e.Alive() {
		if time.Now().After(deadline) {
			t.Fatal("child never observed dead")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if e.Alive() {
		t.Error("Alive() = true after reap")
	}

	// Stop after natural exit only closes the pipe.
	e.Stop()
}

func TestGracefulStop(t *testing.T) {
	e := spawnShell(t, `trap 'exit 0' TERM; while :; do sleep 0.05; done`)

	time.Sleep(100 * time.Millisecond)
	e.Stop()

	if e.Alive() {
		t.Error("child alive after Stop")
	}
}

func TestForcefulStopWhenTermIgnored(t *testing.T) {
	e := spawnShell(t, `trap '' TERM; while :; do sleep 0.05; done`)

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	e.Stop()
	elapsed := time.Since(start)

	if e.Alive() {
		t.Error("child alive after forced Stop")
	}
	// 10 polls at the shortened interval then SIGKILL; well under 2s.
	if elapsed > 2*time.Second {
		t.Errorf("Stop took %v, escalation too slow", elapsed)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	e := spawnShell(t, "sleep 10")
	e.Stop()
	e.Stop()

	if e.Alive() {
		t.Error("child alive after double Stop")
	}
}

func TestStopClosesReadEnd(t *testing.T) {
	e := spawnShell(t, "sleep 10")
	fd := e.ReadFd()
	e.Stop()

	// The descriptor must be closed after Stop.
	pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	if _, err := unix.Poll(pfd, 0); err == nil && pfd[0].Revents&unix.POLLNVAL == 0 {
		t.Error("pipe read end still open after Stop")
	}
}

func TestChildOutputReadableOnPipe(t *testing.T) {
	e := spawnShell(t, `printf 'hello'`)
	defer e.Stop()

	buf := make([]byte, 16)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := unix.Read(e.ReadFd(), buf)
		if n > 0 {
			if string(buf[:n]) != "hello" {
				t.Errorf("read %q, want %q", buf[:n], "hello")
			}
			return
		}
		if err == unix.EAGAIN || (n == 0 && err == nil) {
			if time.Now().After(deadline) {
				t.Fatal("no data on pipe")
			}
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
	}
}
