package gerrit

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// ServerVersion asks the server for its version, through the cache like any
// other read-only command.
func (c *Client) ServerVersion(ctx context.Context) (*semver.Version, error) {
	lr, err := c.Fetch(ctx, "version")
	if err != nil {
		return nil, err
	}
	lines, err := lr.Lines()
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if v, ok := ParseVersionLine(line); ok {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no version in gerrit output %q", strings.Join(lines, "\n"))
}

// ParseVersionLine parses a "gerrit version X.Y.Z" line.
func ParseVersionLine(line string) (*semver.Version, bool) {
	raw, ok := strings.CutPrefix(strings.TrimSpace(line), "gerrit version ")
	if !ok {
		return nil, false
	}
	v, err := semver.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return nil, false
	}
	return v, true
}
