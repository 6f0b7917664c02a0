// Package encoder supervises the external H.264 encoder child process.
// The supervisor owns the child PID and the parent side of the stdout
// pipe; its job is to never leave a zombie process or an orphan pipe
// descriptor, whatever the error path.
package encoder

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/openvtx/vehiclecam/internal/ffmpeg"
	"github.com/openvtx/vehiclecam/internal/logging"
)

// Encoder owns a running encoder child and the read end of its stdout
// pipe. Alive and Stop must be called from the controller goroutine only;
// the capture worker holds the read descriptor for its (strictly shorter)
// lifetime but never closes it.
type Encoder struct {
	cmd     *exec.Cmd
	readEnd *os.File
	fd      int
	command string

	done     chan error // receives the reap result exactly once
	exitErr  error
	reaped   bool
	stopped  bool
	logger   logging.Logger

	// Graceful termination tuning, shortened by tests.
	reapInterval time.Duration
	reapAttempts int
}

// Spawn builds the encoder command line from params and starts the child
// with stdout wired to an anonymous pipe and stderr discarded. The
// returned Encoder owns the child and the non-blocking read end.
func Spawn(p *ffmpeg.Params, logger logging.Logger) (*Encoder, error) {
	return SpawnCommand(ffmpeg.Binary, ffmpeg.BuildEncodeArgs(p), logger)
}

// SpawnCommand starts an arbitrary binary under the same supervision
// contract as Spawn: stdout piped, stderr discarded, child reaped.
func SpawnCommand(name string, args []string, logger logging.Logger) (*Encoder, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = writeEnd
	cmd.Stderr = nil // connected to the null device by os/exec

	if err := cmd.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}

	// The child holds its own copy of the write end.
	writeEnd.Close()

	// The worker polls and reads the raw descriptor itself, outside the
	// runtime poller, so the fd must be non-blocking at the kernel level.
	fd := int(readEnd.Fd())
	if err := unix.SetNonblock(fd, true); err != nil {
		logger.Warn("Failed to set pipe non-blocking", "error", err)
	}

	e := &Encoder{
		cmd:          cmd,
		readEnd:      readEnd,
		fd:           fd,
		command:      name,
		done:         make(chan error, 1),
		logger:       logger,
		reapInterval: 50 * time.Millisecond,
		reapAttempts: 10,
	}

	go func() {
		e.done <- cmd.Wait()
	}()

	logger.Info("Encoder process started", "pid", cmd.Process.Pid, "command", name)
	return e, nil
}

// Pid returns the child process id.
func (e *Encoder) Pid() int {
	return e.cmd.Process.Pid
}

// ReadFd returns the raw read descriptor of the stdout pipe. The worker
// borrows it; ownership stays with the supervisor.
func (e *Encoder) ReadFd() int {
	return e.fd
}

// Command returns the executed binary name, for logs.
func (e *Encoder) Command() string {
	return e.command
}

// Alive reports whether the child is still running, reaping it without
// blocking if it has exited.
func (e *Encoder) Alive() bool {
	if e.reaped {
		return false
	}
	select {
	case err := <-e.done:
		e.reaped = true
		e.exitErr = err
		return false
	default:
		return true
	}
}

// ExitErr returns the reap result once the child has been observed dead.
func (e *Encoder) ExitErr() error {
	return e.exitErr
}

// Stop terminates the child and releases the pipe: SIGTERM first, a
// bounded polling reap, then SIGKILL with a blocking reap if the child
// ignored the polite signal. Safe to call more than once.
func (e *Encoder) Stop() {
	if e.stopped {
		return
	}
	e.stopped = true

	if e.Alive() {
		e.logger.Info("Stopping encoder process", "pid", e.Pid())

		if err := e.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			e.logger.Warn("Failed to send SIGTERM", "error", err)
		}

		for i := 0; i < e.reapAttempts && !e.tryReap(); i++ {
			time.Sleep(e.reapInterval)
		}

		if !e.reaped {
			e.logger.Warn("Encoder ignored SIGTERM, force killing", "pid", e.Pid())
			if err := e.cmd.Process.Kill(); err != nil {
				e.logger.Warn("Failed to kill encoder", "error", err)
			}
			e.exitErr = <-e.done
			e.reaped = true
		} else {
			e.logger.Info("Encoder process terminated gracefully")
		}
	}

	if err := e.readEnd.Close(); err != nil {
		e.logger.Warn("Failed to close pipe read end", "error", err)
	}
}

// ClosePipe closes the read end without touching the child. The
// controller uses it to unblock an abandoned worker during forced stop.
func (e *Encoder) ClosePipe() {
	_ = e.readEnd.Close()
}

func (e *Encoder) tryReap() bool {
	select {
	case err := <-e.done:
		e.reaped = true
		e.exitErr = err
		return true
	default:
		return false
	}
}
