package events

// Event type constants for kelindar/event.
const (
	TypeSourceStateChanged uint32 = iota + 1
	TypeDeviceLost
	TypeEncoderExited
	TypeSourceStats
	TypeSourceRestarted
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SourceStateChangedEvent is published on every capture source state
// transition.
type SourceStateChangedEvent struct {
	OldState  string `json:"old_state" example:"running" doc:"Previous source state"`
	NewState  string `json:"new_state" example:"error" doc:"New source state"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Transition timestamp"`
}

// Type returns the event type identifier for SourceStateChangedEvent.
func (e SourceStateChangedEvent) Type() uint32 { return TypeSourceStateChanged }

// DeviceLostEvent is published when the periodic reprobe finds the capture
// device gone while the pipeline is running.
type DeviceLostEvent struct {
	DevicePath string `json:"device_path" example:"/dev/video0" doc:"Path to the lost device"`
	Timestamp  string `json:"timestamp" doc:"Detection timestamp"`
}

// Type returns the event type identifier for DeviceLostEvent.
func (e DeviceLostEvent) Type() uint32 { return TypeDeviceLost }

// EncoderExitedEvent is published when the health check reaps an encoder
// child that died unexpectedly.
type EncoderExitedEvent struct {
	Pid       int    `json:"pid" doc:"PID of the dead encoder child"`
	Error     string `json:"error,omitempty" doc:"Reap result, if any"`
	Timestamp string `json:"timestamp" doc:"Reap timestamp"`
}

// Type returns the event type identifier for EncoderExitedEvent.
func (e EncoderExitedEvent) Type() uint32 { return TypeEncoderExited }

// SourceStatsEvent carries the periodic throughput snapshot.
type SourceStatsEvent struct {
	BitrateMbps float64 `json:"bitrate_mbps" doc:"Measured input bitrate over the window"`
	Reads       uint32  `json:"reads" doc:"Pipe read calls in the window"`
	WindowMs    uint32  `json:"window_ms" doc:"Measurement window length"`
	Timestamp   string  `json:"timestamp" doc:"Snapshot timestamp"`
}

// Type returns the event type identifier for SourceStatsEvent.
func (e SourceStatsEvent) Type() uint32 { return TypeSourceStats }

// SourceRestartedEvent is published after a health-check driven restart
// attempt, successful or not.
type SourceRestartedEvent struct {
	Success   bool   `json:"success" doc:"Whether the restart brought the source back"`
	Timestamp string `json:"timestamp" doc:"Restart timestamp"`
}

// Type returns the event type identifier for SourceRestartedEvent.
func (e SourceRestartedEvent) Type() uint32 { return TypeSourceRestarted }
