// Package ffmpeg builds the command line for the external H.264 encoder
// child. The encoder reads the V4L2 device directly and writes a raw
// Annex-B byte stream to stdout, which the capture worker consumes.
package ffmpeg

import (
	"strconv"
	"strings"
)

// Binary is resolved via PATH lookup.
const Binary = "ffmpeg"

// BuildEncodeArgs builds the encoder argv (excluding the binary name) for
// a low-latency baseline-profile H.264 stream on stdout.
func BuildEncodeArgs(p *Params) []string {
	resolution := strconv.Itoa(p.Width) + "x" + strconv.Itoa(p.Height)
	fps := strconv.Itoa(p.FPS)
	bitrate := strconv.FormatUint(uint64(p.Bitrate), 10)
	keyframe := strconv.Itoa(p.KeyframeFrames())

	return []string{
		"-f", "v4l2",
		"-input_format", p.InputFormat,
		"-video_size", resolution,
		"-framerate", fps,
		"-i", p.DevicePath,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-b:v", bitrate,
		"-maxrate", bitrate,
		"-bufsize", bitrate,
		"-g", keyframe,
		"-keyint_min", keyframe,
		"-sc_threshold", "0",
		"-profile:v", "baseline",
		"-level", "4.0",
		"-pix_fmt", "yuv420p",
		"-f", "h264",
		"-",
	}
}

// BuildEncodeCommand renders the full command as a single string for
// logging and diagnostics.
func BuildEncodeCommand(p *Params) string {
	return Binary + " " + strings.Join(BuildEncodeArgs(p), " ")
}
