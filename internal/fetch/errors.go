package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Error taxonomy shared by every tier.
var (
	ErrNetworkTimeout  = errors.New("network timeout")
	ErrNetwork         = errors.New("network error")
	ErrNonHTMLContent  = errors.New("non-html content")
	ErrSoftBlock       = errors.New("soft block detected")
	ErrParseFailure    = errors.New("parse failure")
	ErrCacheCorruption = errors.New("cache corruption")
	ErrContentTooShort = errors.New("content too short")
	ErrEmptyURL        = errors.New("empty url")
)

// HTTPError reports a terminal HTTP status from an origin or archive.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, http.StatusText(e.Status))
}

// NewHTTPError returns an HTTPError for status.
func NewHTTPError(status int) error {
	return &HTTPError{Status: status}
}

// StatusOf extracts the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	return 0
}

// IsBlockStatus reports statuses that commonly front bot walls.
func IsBlockStatus(status int) bool {
	switch status {
	case http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

// IsDefinitiveStatus reports statuses for which retrying the same tier is pointless.
func IsDefinitiveStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusNotFound || status >= http.StatusInternalServerError
}

// ClassifyError maps transport errors onto the taxonomy. Already classified
// errors and nil are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrNetworkTimeout, ErrNetwork, ErrNonHTMLContent, ErrSoftBlock, ErrContentTooShort} {
		if errors.Is(err, known) {
			return err
		}
	}
	if StatusOf(err) != 0 || errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrNetworkTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	return err
}
