package ffmpeg

import (
	"strings"
	"testing"
)

func TestBuildEncodeCommand(t *testing.T) {
	p := &Params{
		DevicePath:  "/dev/video0",
		InputFormat: "mjpeg",
		Width:       1280,
		Height:      720,
		FPS:         30,
		Bitrate:     4000000,
		KeyframeMs:  2000,
	}

	cmd := BuildEncodeCommand(p)

	for _, want := range []string{
		"1280x720",
		"ultrafast",
		"zerolatency",
		"-g 60",
		"-keyint_min 60",
		"-b:v 4000000",
		"-maxrate 4000000",
		"-bufsize 4000000",
		"-profile:v baseline",
		"-f h264 -",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command missing %q:\n%s", want, cmd)
		}
	}

	args := BuildEncodeArgs(p)
	if args[len(args)-1] != "-" {
		t.Errorf("last argument = %q, want stdout sink %q", args[len(args)-1], "-")
	}
}

func TestKeyframeFrames(t *testing.T) {
	tests := []struct {
		name       string
		keyframeMs int
		fps        int
		expected   int
	}{
		{name: "two seconds at 30fps", keyframeMs: 2000, fps: 30, expected: 60},
		{name: "one second at 60fps", keyframeMs: 1000, fps: 60, expected: 60},
		{name: "zero selects two second default", keyframeMs: 0, fps: 30, expected: 60},
		{name: "negative selects two second default", keyframeMs: -5, fps: 25, expected: 50},
		{name: "tiny period clamps to one frame", keyframeMs: 10, fps: 30, expected: 1},
		{name: "rounds to nearest frame", keyframeMs: 1050, fps: 30, expected: 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Params{FPS: tt.fps, KeyframeMs: tt.keyframeMs}
			if got := p.KeyframeFrames(); got != tt.expected {
				t.Errorf("KeyframeFrames() = %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	p := &Params{}
	p.ApplyDefaults()

	if p.DevicePath != "/dev/video0" {
		t.Errorf("DevicePath = %q, want /dev/video0", p.DevicePath)
	}
	if p.Width != 1280 || p.Height != 720 || p.FPS != 30 {
		t.Errorf("defaults = %dx%d@%d, want 1280x720@30", p.Width, p.Height, p.FPS)
	}
	if p.InputFormat != "mjpeg" {
		t.Errorf("InputFormat = %q, want mjpeg", p.InputFormat)
	}

	// Explicit values survive.
	p2 := &Params{Width: 1920, Height: 1080, FPS: 60}
	p2.ApplyDefaults()
	if p2.Width != 1920 || p2.Height != 1080 || p2.FPS != 60 {
		t.Errorf("explicit values overwritten: %dx%d@%d", p2.Width, p2.Height, p2.FPS)
	}
}
