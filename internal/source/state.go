package source

// State is the capture source lifecycle state.
type State int32

// Source states.
const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateError
	StateDeviceLost
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	case StateDeviceLost:
		return "device_lost"
	default:
		return "unknown"
	}
}

// Timing and threshold constants for the capture pipeline.
const (
	// ReadBufferSize is the per-read chunk size off the encoder pipe.
	ReadBufferSize = 256 * 1024

	// pollTimeoutMs bounds the worker's readability wait.
	pollTimeoutMs = 10

	// noPipeSleepMs is the worker's idle sleep when no pipe is attached.
	noPipeSleepMs = 100

	// warmupDelayMs gives the encoder a moment to open the device before
	// the worker starts draining its stdout.
	warmupDelayMs = 200

	// workerJoinTimeoutMs bounds the cooperative stop wait before the
	// controller closes the pipe out from under the worker.
	workerJoinTimeoutMs = 500
	workerJoinTickMs    = 10

	// statsIntervalMs is the throughput log/reset period.
	statsIntervalMs = 5000

	// reprobeIntervalMs is the device-availability check period.
	reprobeIntervalMs = 10000

	// restartSettleMs separates stop and start during a health restart.
	restartSettleMs = 500

	// maxConsecutiveReadErrors trips the error state.
	maxConsecutiveReadErrors = 100

	// DefaultBitrate is used when the caller passes no override.
	DefaultBitrate uint32 = 4_000_000

	// DefaultKeyframeMs is used when the caller passes no override.
	DefaultKeyframeMs = 2000
)
