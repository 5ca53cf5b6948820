package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// Kind classifies a transport failure.
type Kind int

const (
	KindTimeout Kind = iota + 1
	KindConnectionRefused
	KindNetworkUnreachable
	KindHTTPStatus
	KindEmptyStreamBody
)

var (
	ErrTransportTimeout   = errors.New("request timed out")
	ErrConnectionRefused  = errors.New("connection refused")
	ErrNetworkUnreachable = errors.New("network unreachable")
	ErrHTTPStatus         = errors.New("unexpected HTTP status")
	ErrEmptyStreamBody    = errors.New("empty streaming body")
)

func (k Kind) sentinel() error {
	switch k {
	case KindTimeout:
		return ErrTransportTimeout
	case KindConnectionRefused:
		return ErrConnectionRefused
	case KindNetworkUnreachable:
		return ErrNetworkUnreachable
	case KindHTTPStatus:
		return ErrHTTPStatus
	case KindEmptyStreamBody:
		return ErrEmptyStreamBody
	default:
		return nil
	}
}

func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// TransportError is a classified failure of one exchange with the model
// server. Its message names the configured endpoint and provider so callers
// can show it as is.
type TransportError struct {
	Kind       Kind
	Endpoint   string
	Provider   string
	StatusCode int           // KindHTTPStatus only
	Body       string        // KindHTTPStatus only, truncated
	Timeout    time.Duration // KindTimeout only, zero when the caller cancelled
	Err        error
}

func (e *TransportError) Error() string {
	switch e.Kind {
	case KindTimeout:
		if e.Timeout > 0 {
			return fmt.Sprintf("%s at %s did not respond within %s", e.Provider, e.Endpoint, e.Timeout)
		}
		return fmt.Sprintf("request to %s at %s was cancelled or timed out: %v", e.Provider, e.Endpoint, e.Err)
	case KindConnectionRefused:
		return fmt.Sprintf("connection to %s at %s was refused; is the server running?", e.Provider, e.Endpoint)
	case KindNetworkUnreachable:
		return fmt.Sprintf("cannot reach %s at %s: %v", e.Provider, e.Endpoint, e.Err)
	case KindHTTPStatus:
		if e.Body != "" {
			return fmt.Sprintf("%s at %s returned HTTP %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s at %s returned HTTP %d", e.Provider, e.Endpoint, e.StatusCode)
	case KindEmptyStreamBody:
		return fmt.Sprintf("%s at %s returned an empty body for a streaming request", e.Provider, e.Endpoint)
	default:
		return fmt.Sprintf("%s at %s: %v", e.Provider, e.Endpoint, e.Err)
	}
}

// Is makes errors.Is(err, ErrConnectionRefused) and friends work.
func (e *TransportError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// classify maps low-level network errors onto a TransportError. Errors that
// match none of the known kinds are returned unchanged with ok == false.
func (c *Client) classify(err error, timeout time.Duration) (classified error, ok bool) {
	if err == nil {
		return nil, false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return err, true
	}

	var kind Kind
	var dnsErr *net.DNSError
	var netErr net.Error

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, context.Canceled):
		kind = KindTimeout
		timeout = 0
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = KindConnectionRefused
	case errors.As(err, &dnsErr),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH):
		kind = KindNetworkUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	default:
		return err, false
	}

	return &TransportError{
		Kind:     kind,
		Endpoint: c.baseURL,
		Provider: c.label,
		Timeout:  timeout,
		Err:      err,
	}, true
}
