//go:build !linux

package source

import (
	"strconv"

	"github.com/streekomroep/voxcap/internal/types"
)

// buildFFmpegCaptureArgs constructs FFmpeg arguments for raw PCM capture.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	return []string{
		"-f", inputFormat,
		"-i", device,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	}
}
