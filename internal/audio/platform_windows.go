//go:build windows

package audio

import (
	"regexp"
	"strings"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

func getPlatformConfig() CaptureConfig {
	return CaptureConfig{
		Command:    "ffmpeg",
		UsesFFmpeg: true,
		BuildArgs: func(device string) []string {
			return buildFFmpegCaptureArgs("dshow", device)
		},
		DeviceList: DeviceListConfig{
			// FFmpeg versions differ in section headers; match "(audio)" lines instead.
			Command:       []string{"ffmpeg", "-hide_banner", "-f", "dshow", "-list_devices", "true", "-i", "dummy"},
			DevicePattern: regexp.MustCompile(`\[dshow[^\]]*\]\s*"([^"]+)"\s*\(audio\)`),
			ParseDevice: func(m []string) *types.AudioDevice {
				if len(m) < 2 {
					return nil
				}
				name := strings.TrimSpace(m[1])
				return &types.AudioDevice{ID: "audio=" + name, Name: name}
			},
		},
	}
}
