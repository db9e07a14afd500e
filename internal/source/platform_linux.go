//go:build linux

package source

import (
	"regexp"

	"github.com/streekomroep/voxcap/internal/types"
)

func getPlatformCapture() platformCapture {
	return platformCapture{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", "48000",
		"-c", "2",
		"-t", "raw",
		"-q",
		"-",
	}
}

func (cfg *platformCapture) listDevices() []types.AudioDevice {
	return parseDeviceList(deviceListConfig{
		Command:       []string{"arecord", "-l"},
		DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
		ParseDevice: func(matches []string) *types.AudioDevice {
			if len(matches) < 4 {
				return nil
			}
			return &types.AudioDevice{
				ID:   "default:CARD=" + matches[2],
				Name: matches[3],
			}
		},
		FallbackDevices: []types.AudioDevice{
			{ID: "default", Name: "Default ALSA device"},
		},
	})
}
