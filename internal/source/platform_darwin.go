//go:build darwin

package source

import (
	"regexp"

	"github.com/streekomroep/voxcap/internal/types"
)

func getPlatformCapture() platformCapture {
	return platformCapture{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs:     buildDarwinArgs,
	}
}

func buildDarwinArgs(device string) []string {
	return buildFFmpegCaptureArgs("avfoundation", device)
}

func (cfg *platformCapture) listDevices() []types.AudioDevice {
	return parseDeviceList(deviceListConfig{
		Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
		AudioStartMarker: "AVFoundation audio devices:",
		AudioStopMarker:  "AVFoundation video devices:",
		DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 3 {
				return nil
			}
			return &types.AudioDevice{
				ID:   ":" + matches[1],
				Name: matches[2],
			}
		},
	})
}
