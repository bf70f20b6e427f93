package gerrit

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPort is the Gerrit ssh daemon port.
const DefaultPort = 29418

// Remote identifies a Gerrit server and the project a checkout belongs to.
type Remote struct {
	User    string
	Host    string
	Port    int
	Project string
	URL     string
}

// ParseRemoteURL parses ssh://[user@]host[:port]/project[.git].
func ParseRemoteURL(raw string) (Remote, error) {
	if !strings.HasPrefix(raw, "ssh://") {
		return Remote{}, fmt.Errorf("%w: %q", ErrUnsupportedURL, raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Remote{}, fmt.Errorf("parsing remote url: %w", err)
	}
	if u.Hostname() == "" {
		return Remote{}, fmt.Errorf("%w: %q has no host", ErrUnsupportedURL, raw)
	}

	r := Remote{
		Host:    u.Hostname(),
		Port:    DefaultPort,
		Project: strings.TrimSuffix(strings.TrimPrefix(u.Path, "/"), ".git"),
		URL:     raw,
	}
	if u.User != nil {
		r.User = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, convErr := strconv.Atoi(p)
		if convErr != nil || port <= 0 || port > 65535 {
			return Remote{}, fmt.Errorf("%w: invalid port %q", ErrUnsupportedURL, p)
		}
		r.Port = port
	}
	return r, nil
}

// Destination is the ssh destination argument, [user@]host.
func (r Remote) Destination() string {
	if r.User != "" {
		return r.User + "@" + r.Host
	}
	return r.Host
}

// identity is the part of the cache key that scopes results to a login.
func (r Remote) identity() string {
	return fmt.Sprintf("%s:%s:%d", r.User, r.Host, r.Port)
}
