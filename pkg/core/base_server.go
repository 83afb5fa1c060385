package core

import (
	"errors"
	"sync"

	"github.com/fluxorio/jobpool/pkg/core/failfast"
)

// ErrServerStarted is returned by Start on a server that is already running.
var ErrServerStarted = errors.New("server already started")

// BaseServer is the Start/Stop lifecycle shared by the TCP acceptor and the
// metrics endpoint. Embedders register their behaviour with SetHooks.
type BaseServer struct {
	name string

	mu      sync.RWMutex
	started bool
	stopped bool

	logger Logger

	// Embedded methods are not virtual, so the embedder's behaviour is
	// stored as plain funcs.
	startHook func() error
	stopHook  func() error
}

// NewBaseServer panics if logger is nil.
func NewBaseServer(name string, logger Logger) *BaseServer {
	failfast.NotNil(logger, "logger")
	return &BaseServer{
		name:   name,
		logger: logger,
	}
}

// SetHooks registers the embedder's start and stop functions:
//
//	s.BaseServer.SetHooks(s.doStart, s.doStop)
func (bs *BaseServer) SetHooks(startHook func() error, stopHook func() error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.startHook = startHook
	bs.stopHook = stopHook
}

// Start runs the start hook, which may block for the lifetime of the server.
// The server counts as started while the hook runs; a hook error resets it.
func (bs *BaseServer) Start() error {
	bs.mu.Lock()
	if bs.started {
		bs.mu.Unlock()
		return ErrServerStarted
	}
	startHook := bs.startHook
	bs.started = true
	bs.mu.Unlock()

	if startHook == nil {
		return nil
	}
	if err := startHook(); err != nil {
		bs.Logger().Errorf("%s: start failed: %v", bs.name, err)
		bs.mu.Lock()
		bs.started = false
		bs.mu.Unlock()
		return err
	}
	return nil
}

// Stop runs the stop hook until it succeeds once. Later calls return nil.
func (bs *BaseServer) Stop() error {
	bs.mu.Lock()
	if bs.stopped {
		bs.mu.Unlock()
		return nil
	}
	stopHook := bs.stopHook
	bs.mu.Unlock()

	if stopHook != nil {
		if err := stopHook(); err != nil {
			return err
		}
	}
	bs.Logger().Debugf("%s: stopped", bs.name)

	bs.mu.Lock()
	bs.stopped = true
	bs.mu.Unlock()
	return nil
}

// Name is used as the prefix of lifecycle log lines.
func (bs *BaseServer) Name() string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.name
}

func (bs *BaseServer) Logger() Logger {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.logger
}

// SetLogger panics if logger is nil.
func (bs *BaseServer) SetLogger(logger Logger) {
	failfast.NotNil(logger, "logger")
	bs.mu.Lock()
	defer bs.mu.Unlock()
	bs.logger = logger
}

// IsStarted is true from Start until the start hook fails.
func (bs *BaseServer) IsStarted() bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.started
}

// IsStopped is true once a stop hook has succeeded.
func (bs *BaseServer) IsStopped() bool {
	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.stopped
}
