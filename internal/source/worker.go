package source

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/openvtx/vehiclecam/internal/encoder"
)

// captureWorker is the pipeline's only producer. It polls the encoder
// pipe, drives the Annex-B scanner over whatever bytes are available and
// lets the scanner's emit callback fill the ring. The worker never
// restarts itself and touches the controller state only for the error
// transitions below; everything else is the health loop's job.
func (s *Source) captureWorker(enc *encoder.Encoder) {
	s.logger.Info("Capture worker started")

	defer func() {
		s.scanMu.Lock()
		s.scanner.Flush()
		s.scanMu.Unlock()

		s.workerRunning.Store(false)
		close(s.workerDone)
		s.logger.Info("Capture worker ended")
	}()

	buf := make([]byte, ReadBufferSize)
	fd := enc.ReadFd()

	for !s.stopFlag.Load() {
		if fd < 0 {
			time.Sleep(noPipeSleepMs * time.Millisecond)
			continue
		}

		pfd := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		ready, err := unix.Poll(pfd, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			s.logger.Error("Poll error on encoder pipe", "error", err)
			s.readError()
			continue
		}
		if ready == 0 {
			continue
		}

		if pfd[0].Revents&unix.POLLIN == 0 {
			if pfd[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				// During forced stop the controller closes the pipe on
				// purpose; only an unexpected hangup is an error.
				if !s.stopFlag.Load() {
					s.logger.Error("Encoder pipe error or hangup",
						"revents", pfd[0].Revents)
					s.setState(StateError)
				}
				return
			}
			continue
		}

		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			s.logger.Error("Read error on encoder pipe", "error", err)
			s.readError()
			continue
		}
		if n == 0 {
			s.logger.Info("Encoder pipe closed (EOF)")
			if !s.stopFlag.Load() {
				s.setState(StateError)
			}
			return
		}

		s.consecutiveReadErrors.Store(0)
		s.windowBytes.Add(uint64(n))
		s.windowReads.Add(1)
		if s.m != nil {
			s.m.BytesRead.Add(float64(n))
			s.m.ReadCalls.Inc()
		}

		s.scanMu.Lock()
		s.scanner.Feed(buf[:n])
		s.scanMu.Unlock()
	}
}

// readError bumps the consecutive-error counter the health loop watches.
func (s *Source) readError() {
	s.consecutiveReadErrors.Add(1)
	if s.m != nil {
		s.m.ReadErrors.Inc()
	}
}
