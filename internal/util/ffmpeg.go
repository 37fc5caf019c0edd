package util

import "os/exec"

// ResolveFFmpegPath returns customPath if it is executable, otherwise the
// ffmpeg found in PATH. An empty string means FFmpeg is unavailable.
func ResolveFFmpegPath(customPath string) string {
	name := "ffmpeg"
	if customPath != "" {
		name = customPath
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return ""
	}
	if customPath != "" {
		return customPath
	}
	return path
}
