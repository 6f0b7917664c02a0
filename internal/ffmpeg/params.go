package ffmpeg

import "math"

// Defaults used when the model config leaves a field unset.
const (
	DefaultDevice = "/dev/video0"
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultFPS    = 30
)

// Params represents all parameters needed to generate the encoder command.
type Params struct {
	// Input configuration
	DevicePath  string
	InputFormat string // most USB cameras deliver mjpeg
	Width       int
	Height      int
	FPS         int

	// Rate control
	Bitrate uint32 // bits/sec, written into -b:v, -maxrate and -bufsize

	// Keyframe period in milliseconds; converted to a frame count.
	KeyframeMs int
}

// ApplyDefaults fills unset input fields with the stock USB camera profile.
func (p *Params) ApplyDefaults() {
	if p.DevicePath == "" {
		p.DevicePath = DefaultDevice
	}
	if p.InputFormat == "" {
		p.InputFormat = "mjpeg"
	}
	if p.Width <= 0 {
		p.Width = DefaultWidth
	}
	if p.Height <= 0 {
		p.Height = DefaultHeight
	}
	if p.FPS <= 0 {
		p.FPS = DefaultFPS
	}
}

// KeyframeFrames converts the keyframe period to a GOP length in frames.
// A non-positive period selects the default of two seconds worth of frames;
// otherwise the result is rounded and clamped to at least one frame.
func (p *Params) KeyframeFrames() int {
	if p.KeyframeMs <= 0 {
		return p.FPS * 2
	}
	frames := int(math.Round(float64(p.KeyframeMs) * float64(p.FPS) / 1000.0))
	if frames < 1 {
		frames = 1
	}
	return frames
}
