package server

import (
	"errors"

	"github.com/noteflow/mp-server/internal/metrics"
)

// Sentinel errors used for wrapping so callers can classify via
// errors.Is, grounded on the teacher's internal/server/errors.go.
var (
	ErrListen   = errors.New("listen")
	ErrAccept   = errors.New("accept")
	ErrContext  = errors.New("context_cancelled")
	ErrShutdown = errors.New("shutdown_timeout")
)

// mapErrToMetric maps wrapped sentinel errors to metrics labels.
func mapErrToMetric(err error) string {
	switch {
	case errors.Is(err, ErrAccept), errors.Is(err, ErrListen):
		return metrics.ErrTCPRead
	case errors.Is(err, ErrContext):
		return metrics.ErrContext
	default:
		return "other"
	}
}
