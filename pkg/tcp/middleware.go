package tcp

import (
	"time"

	"github.com/fluxorio/jobpool/pkg/core"
)

// LoggingConfig configures the connection logging middleware.
type LoggingConfig struct {
	// Logger receives one line per connection (default: the server logger on ConnContext).
	Logger core.Logger

	// SlowThreshold promotes lines for connections held at least this long to INFO.
	// Zero logs every connection at DEBUG.
	SlowThreshold time.Duration
}

// Logging logs each connection's request id, peer and handling time.
func Logging(config LoggingConfig) Middleware {
	return func(next ConnectionHandler) ConnectionHandler {
		return func(ctx *ConnContext) error {
			logger := config.Logger
			if logger == nil {
				logger = ctx.Logger
			}
			if logger == nil {
				return next(ctx)
			}

			start := time.Now()
			err := next(ctx)
			elapsed := time.Since(start)

			switch {
			case err != nil:
				logger.Warnf("conn request_id=%s remote=%s elapsed=%v error=%v", ctx.RequestID, ctx.RemoteAddr, elapsed, err)
			case config.SlowThreshold > 0 && elapsed >= config.SlowThreshold:
				logger.Infof("conn request_id=%s remote=%s elapsed=%v (slow)", ctx.RequestID, ctx.RemoteAddr, elapsed)
			default:
				logger.Debugf("conn request_id=%s remote=%s elapsed=%v", ctx.RequestID, ctx.RemoteAddr, elapsed)
			}
			return err
		}
	}
}
