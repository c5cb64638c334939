package connection

import (
	"errors"
	"fmt"
	"net/url"
)

var (
	ErrInvalidEndpoint  = errors.New("invalid endpoint")
	ErrInsecureEndpoint = errors.New("insecure endpoint")
)

// CheckEndpoint enforces the transport security policy: only wss:// is
// accepted, plain ws:// only when devMode is set.
func CheckEndpoint(raw string, devMode bool) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host in %q", ErrInvalidEndpoint, raw)
	}

	switch u.Scheme {
	case "wss":
		return nil
	case "ws":
		if devMode {
			return nil
		}
		return fmt.Errorf("%w: %s requires TLS outside development mode", ErrInsecureEndpoint, u.Host)
	default:
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
}
