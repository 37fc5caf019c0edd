//go:build linux

package audio

import (
	"regexp"
	"strconv"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "arecord",
		DefaultDevice: "default",
		BuildArgs:     buildLinuxArgs,
		DeviceList: DeviceListConfig{
			Command:       []string{"arecord", "-l"},
			DevicePattern: regexp.MustCompile(`card\s+(\d+):\s+(\w+)\s+\[([^\]]+)\]`),
			ParseDevice: func(m []string) *types.AudioDevice {
				if len(m) < 4 {
					return nil
				}
				return &types.AudioDevice{ID: "default:CARD=" + m[2], Name: m[3]}
			},
			FallbackDevices: []types.AudioDevice{{ID: "default", Name: "System default"}},
		},
	}
}

func buildLinuxArgs(device string) []string {
	return []string{
		"-D", device,
		"-f", "S16_LE",
		"-r", strconv.Itoa(types.SampleRate),
		"-c", strconv.Itoa(types.Channels),
		"-t", "raw",
		"-q",
		"-",
	}
}
