// Package fileutil provides file and path utility functions for the
// pipeline: deterministic safe identifiers for work-item artifacts,
// directory helpers, and human-readable formatting.
package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const (
	defaultDirPermissions = 0o750

	// maxSafeIDLen bounds artifact filenames derived from chapter titles.
	maxSafeIDLen = 50
)

// Time and size formatting constants.
const (
	secondsInMinute = 60
	secondsInHour   = 3600
	formatSeconds   = "%.1fs"
	formatMinutes   = "%dm %.1fs"
	formatHours     = "%dh %dm"
)

// EnsureDir ensures a directory exists at the given path, creating parents
// as needed.
func EnsureDir(path string) error {
	mkdirErr := os.MkdirAll(path, defaultDirPermissions)
	if mkdirErr != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
	}

	return nil
}

// SafeID maps a work-item title to a filesystem-safe identifier. The policy
// is a pure function of the title: keep letters, digits, spaces, hyphens and
// underscores; replace spaces with underscores; truncate to 50 runes.
func SafeID(title string) string {
	var kept []rune

	for _, r := range title {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			kept = append(kept, r)
		case r == ' ' || r == '-' || r == '_':
			kept = append(kept, r)
		}
	}

	safe := strings.TrimRight(string(kept), " ")
	safe = strings.ReplaceAll(safe, " ", "_")

	runes := []rune(safe)
	if len(runes) > maxSafeIDLen {
		runes = runes[:maxSafeIDLen]
	}

	if len(runes) == 0 {
		return "untitled"
	}

	return string(runes)
}

// UniquePath resolves a target path against files already on disk,
// appending a numeric suffix before the extension until the path is free.
// Within a single run the result is deterministic for a given directory
// state.
func UniquePath(path string) string {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		return path
	}

	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)

	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", base, n, ext)

		_, statErr = os.Stat(candidate)
		if os.IsNotExist(statErr) {
			return candidate
		}
	}
}

// FormatDuration formats a duration in seconds as a human-readable string
// (e.g. "1h 15m", "5m 30.5s", "45.2s").
func FormatDuration(seconds float64) string {
	if seconds < secondsInMinute {
		return fmt.Sprintf(formatSeconds, seconds)
	}

	if seconds < secondsInHour {
		minutes := int(seconds / secondsInMinute)
		remainingSeconds := seconds - float64(minutes*secondsInMinute)

		return fmt.Sprintf(formatMinutes, minutes, remainingSeconds)
	}

	hours := int(seconds / secondsInHour)
	remainingSeconds := seconds - float64(hours*secondsInHour)
	remainingMinutes := int(remainingSeconds / secondsInMinute)

	return fmt.Sprintf(formatHours, hours, remainingMinutes)
}
