package audio

import (
	"log/slog"
	"os/exec"
	"regexp"
	"strings"

	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
)

// Devices returns the audio input devices available on this platform.
func Devices() []types.AudioDevice {
	cfg := getPlatformConfig()
	return parseDeviceList(cfg.DeviceList)
}

// DeviceListConfig describes how to enumerate capture devices on a platform.
type DeviceListConfig struct {
	// Command lists devices; its combined output is parsed line by line.
	Command []string

	// AudioStartMarker and AudioStopMarker bound the audio section (optional).
	AudioStartMarker string
	AudioStopMarker  string

	// DevicePattern extracts device fields from one line.
	DevicePattern *regexp.Regexp

	// ParseDevice converts regex matches to a device, or nil to skip.
	ParseDevice func(matches []string) *types.AudioDevice

	// FallbackDevices are returned when enumeration yields nothing.
	FallbackDevices []types.AudioDevice
}

//nolint:gocritic // hugeParam: called rarely, copy is fine
func parseDeviceList(cfg DeviceListConfig) []types.AudioDevice {
	if len(cfg.Command) == 0 || cfg.DevicePattern == nil || cfg.ParseDevice == nil {
		return cfg.FallbackDevices
	}

	output, err := exec.Command(cfg.Command[0], cfg.Command[1:]...).CombinedOutput()
	if err != nil && len(output) == 0 {
		slog.Error("failed to list audio devices", "command", cfg.Command[0], "error", err)
		return cfg.FallbackDevices
	}

	devices := parseDeviceOutput(string(output), cfg)
	if len(devices) == 0 {
		return cfg.FallbackDevices
	}
	return devices
}

//nolint:gocritic // hugeParam: called rarely, copy is fine
func parseDeviceOutput(output string, cfg DeviceListConfig) []types.AudioDevice {
	var devices []types.AudioDevice
	inSection := cfg.AudioStartMarker == ""

	for line := range strings.SplitSeq(output, "\n") {
		if cfg.AudioStartMarker != "" && strings.Contains(line, cfg.AudioStartMarker) {
			inSection = true
			continue
		}
		if cfg.AudioStopMarker != "" && strings.Contains(line, cfg.AudioStopMarker) {
			inSection = false
			continue
		}
		// DirectShow prints an alternative name line under each device.
		if !inSection || strings.Contains(line, "Alternative name") {
			continue
		}
		if m := cfg.DevicePattern.FindStringSubmatch(line); len(m) > 0 {
			if dev := cfg.ParseDevice(m); dev != nil {
				devices = append(devices, *dev)
			}
		}
	}
	return devices
}
