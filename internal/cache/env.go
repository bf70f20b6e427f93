package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Cache defaults and environment overrides.
const (
	// DefaultLifetime is how long entries stay fresh when no lifetime is configured.
	DefaultLifetime = 600 * time.Second

	// EnvCacheDir overrides the root cache directory.
	EnvCacheDir = "GRUF_CACHE_DIR"

	// EnvCacheLifetime overrides the lifetime; seconds or a Go duration string.
	EnvCacheLifetime = "GRUF_CACHE_LIFETIME"

	defaultRootName = "gruf-cache"

	minutesPerHour = 60
	hoursPerDay    = 24
)

// DefaultRoot returns $GRUF_CACHE_DIR, or gruf-cache under the user cache home.
func DefaultRoot() (string, error) {
	if dir := os.Getenv(EnvCacheDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user cache directory: %w", err)
	}
	return filepath.Join(base, defaultRootName), nil
}

// ParseLifetime parses a lifetime given either as integer seconds ("300") or
// as a duration ("5m", "1h30m").
func ParseLifetime(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.Atoi(s); err == nil {
		if seconds < 0 {
			return 0, fmt.Errorf("%w: got %d", ErrInvalidLifetime, seconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid lifetime format: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: got %s", ErrInvalidLifetime, d)
	}
	return d, nil
}

// FormatDuration formats a duration in a human-readable way.
// Examples: "30s", "5m", "2h30m", "3d2h".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	}
	if d < hoursPerDay*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % minutesPerHour
		if minutes == 0 {
			return fmt.Sprintf("%dh", hours)
		}
		return fmt.Sprintf("%dh%dm", hours, minutes)
	}
	days := int(d.Hours()) / hoursPerDay
	hours := int(d.Hours()) % hoursPerDay
	if hours == 0 {
		return fmt.Sprintf("%dd", days)
	}
	return fmt.Sprintf("%dd%dh", days, hours)
}
