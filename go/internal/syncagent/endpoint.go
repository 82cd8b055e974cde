package syncagent

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
)

// ErrNoEndpoint is returned when no relay URL can be resolved
var ErrNoEndpoint = errors.New("no relay endpoint configured")

// ResolveEndpoint picks the relay websocket URL. An explicit override wins;
// otherwise the URL is derived from the page origin the client was served
// from, using the relay port: https://host:3000 -> wss://host:8081.
func ResolveEndpoint(override, origin string, port int) (string, error) {
	if override != "" {
		u, err := url.Parse(override)
		if err != nil {
			return "", fmt.Errorf("invalid relay URL %q: %w", override, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return "", fmt.Errorf("invalid relay URL %q: scheme must be ws or wss", override)
		}
		return override, nil
	}

	if origin == "" {
		return "", ErrNoEndpoint
	}
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "", fmt.Errorf("%w: cannot derive from origin %q", ErrNoEndpoint, origin)
	}

	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}
	return scheme + "://" + net.JoinHostPort(u.Hostname(), strconv.Itoa(port)), nil
}
