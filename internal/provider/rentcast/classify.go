package rentcast

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/vipcre/portal/internal/apierr"
)

// ClassifyStatus maps an upstream HTTP status to an error kind. 2xx maps to
// the empty kind.
func ClassifyStatus(status int) apierr.Kind {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apierr.KindAuth
	case status == http.StatusNotFound:
		return apierr.KindNotFound
	case status == http.StatusTooManyRequests:
		return apierr.KindRateLimited
	case status >= 500:
		return apierr.KindServer
	default:
		return apierr.KindUnclassified
	}
}

// ClassifyError maps a transport-level error to an error kind.
func ClassifyError(err error) apierr.Kind {
	if err == nil {
		return ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apierr.KindTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apierr.KindTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return apierr.KindConnection
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return apierr.KindConnection
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return apierr.KindConnection
	}
	return apierr.KindConnection
}
