package config

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultDeviceName is used when neither the config nor the host supplies one.
const DefaultDeviceName = "Allow2 Device"

const maxDeviceNameRunes = 64

var spaceRun = regexp.MustCompile(`\s+`)

// NormalizeDeviceName cleans a user-provided device name:
//   - surrounding whitespace trimmed, inner runs collapsed to one space
//   - control characters dropped
//   - truncated to 64 runes
//   - empty result falls back to the hostname, then DefaultDeviceName
func NormalizeDeviceName(name string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return ' '
		}
		return r
	}, name)
	cleaned = strings.TrimSpace(spaceRun.ReplaceAllString(cleaned, " "))

	if utf8.RuneCountInString(cleaned) > maxDeviceNameRunes {
		cleaned = strings.TrimSpace(string([]rune(cleaned)[:maxDeviceNameRunes]))
	}

	if cleaned != "" {
		return cleaned
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return DefaultDeviceName
}
