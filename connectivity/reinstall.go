package connectivity

import (
	"context"
	"errors"
	"log/slog"
)

// Installer registers a service on a router.
type Installer func(r *Router) error

// WithReinstall returns a Handler that calls service on r. When the router
// reports the service missing, install runs once and the same request is
// retried exactly once; a second failure is returned as is.
func WithReinstall(r *Router, service string, install Installer, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		resp, err := r.Call(ctx, service, payload)
		var snf *ErrServiceNotFound
		if err == nil || !errors.As(err, &snf) {
			return resp, err
		}

		logger.WarnContext(ctx, "connectivity: service missing, reinstalling", "service", service)
		if ierr := install(r); ierr != nil {
			return nil, &ErrReinstallFailed{Service: service, Cause: ierr}
		}
		return r.Call(ctx, service, payload)
	}
}
