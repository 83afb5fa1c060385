package tcp

import (
	"context"
	"net"

	"github.com/fluxorio/jobpool/pkg/core"
	"github.com/fluxorio/jobpool/pkg/core/concurrency"
)

// Server represents a TCP server abstraction.
type Server interface {
	// Start starts the server (blocking, like HTTP servers).
	Start() error

	// Stop stops accepting connections. It does not shut the pool down.
	Stop() error

	// SetHandler sets the connection handler (fail-fast on nil).
	SetHandler(handler ConnectionHandler)

	// Use appends connection middleware (fail-fast on nil).
	Use(mw ...Middleware)

	// Metrics returns current server metrics.
	Metrics() ServerMetrics
}

// ConnectionHandler handles a single TCP connection.
// Implementations must not block forever: they occupy a pool worker.
// The server closes the connection after handler returns.
type ConnectionHandler func(ctx *ConnContext) error

// Middleware wraps a ConnectionHandler.
type Middleware func(next ConnectionHandler) ConnectionHandler

// Submitter is the part of the worker pool the server dispatches to.
// *concurrency.ThreadPool satisfies it.
type Submitter interface {
	SubmitNamed(name string, job concurrency.Job) error
}

// ConnContext carries one accepted connection through the handler chain.
type ConnContext struct {
	// Context is cancelled when the server stops.
	Context context.Context
	Conn    net.Conn

	RequestID string
	Logger    core.Logger

	LocalAddr  net.Addr
	RemoteAddr net.Addr
}

// ServerMetrics provides TCP server metrics.
type ServerMetrics struct {
	TotalAccepted       int64 // Total connections accepted
	RejectedConnections int64 // Closed without running the handler (MaxConns or pool shut down)
	QueuedConnections   int64 // Submitted to the pool, handler not started yet
	ActiveConnections   int64 // In flight: queued + handling
	HandledConnections  int64 // Handler invocations started
	ErrorConnections    int64 // Handler returned an error or panicked
	MaxConns            int   // 0 means unlimited
}
