//go:build windows

package source

import (
	"regexp"
	"strings"

	"github.com/streekomroep/voxcap/internal/types"
)

func getPlatformCapture() platformCapture {
	return platformCapture{
		Command:       "ffmpeg",
		DefaultDevice: "", // Auto-detect, no safe default on Windows
		UsesFFmpeg:    true,
		BuildArgs:     buildWindowsArgs,
	}
}

func buildWindowsArgs(device string) []string {
	return buildFFmpegCaptureArgs("dshow", device)
}

func (cfg *platformCapture) listDevices() []types.AudioDevice {
	return parseDeviceList(deviceListConfig{
		Command: []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
		// FFmpeg versions vary in section headers, so match lines that
		// end with "(audio)" instead of relying on markers.
		DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 2 {
				return nil
			}
			name := strings.TrimSpace(matches[1])
			return &types.AudioDevice{
				ID:   "audio=" + name,
				Name: name,
			}
		},
	})
}
