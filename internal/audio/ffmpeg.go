//go:build !linux

package audio

import (
	"runtime"
	"strconv"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// buildFFmpegCaptureArgs returns FFmpeg arguments that write raw S16LE PCM to stdout.
func buildFFmpegCaptureArgs(inputFormat, device string) []string {
	args := []string{"-f", inputFormat, "-i", device}
	if runtime.GOOS != "windows" {
		args = append(args, "-nostdin")
	}
	return append(args,
		"-hide_banner",
		"-loglevel", "warning",
		"-vn",
		"-f", "s16le",
		"-ac", strconv.Itoa(types.Channels),
		"-ar", strconv.Itoa(types.SampleRate),
		"pipe:1",
	)
}
