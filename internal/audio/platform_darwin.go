//go:build darwin

package audio

import (
	"regexp"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:       "ffmpeg",
		DefaultDevice: ":0",
		UsesFFmpeg:    true,
		BuildArgs: func(device string) []string {
			return buildFFmpegCaptureArgs("avfoundation", device)
		},
		DeviceList: DeviceListConfig{
			Command:          []string{"ffmpeg", "-hide_banner", "-f", "avfoundation", "-list_devices", "true", "-i", ""},
			AudioStartMarker: "AVFoundation audio devices:",
			AudioStopMarker:  "AVFoundation video devices:",
			DevicePattern:    regexp.MustCompile(`\[AVFoundation[^\]]*\]\s*\[(\d+)\]\s*(.+)`),
			ParseDevice: func(m []string) *types.AudioDevice {
				if len(m) < 3 {
					return nil
				}
				return &types.AudioDevice{ID: ":" + m[1], Name: m[2]}
			},
		},
	}
}
