package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fluxorio/jobpool/pkg/core"
	"github.com/fluxorio/jobpool/pkg/core/concurrency"
	"github.com/fluxorio/jobpool/pkg/core/failfast"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// TCPServer accepts connections and runs one pool job per connection.
// The pool is owned by the caller: stop the server first, then shut the
// pool down so already-dispatched connections are still served.
type TCPServer struct {
	*core.BaseServer

	addr   string
	config *TCPServerConfig
	pool   Submitter

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.RWMutex
	listener net.Listener
	stopping int32

	handler     ConnectionHandler
	middlewares []Middleware
	effective   ConnectionHandler
	limiter     *ConnLimiter

	// Metrics (atomic for thread-safety)
	totalAccepted       int64
	rejectedConnections int64
	queuedConnections   int64
	handledConnections  int64
	errorConnections    int64
}

// TCPServerConfig configures the TCP server.
type TCPServerConfig struct {
	Addr string

	// MaxConns bounds concurrent in-flight connections (queued + handling).
	// 0 means unlimited.
	MaxConns int

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config

	// Connection settings.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger core.Logger
}

// DefaultTCPServerConfig returns a sensible default configuration.
func DefaultTCPServerConfig(addr string) *TCPServerConfig {
	if addr == "" {
		addr = "127.0.0.1:7878"
	}
	return &TCPServerConfig{
		Addr:         addr,
		MaxConns:     0,
		TLSConfig:    nil,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// NewTCPServer creates a TCP server dispatching to pool.
func NewTCPServer(pool Submitter, config *TCPServerConfig) *TCPServer {
	failfast.NotNil(pool, "pool")
	if config == nil {
		config = DefaultTCPServerConfig("")
	}
	if config.Addr == "" {
		config.Addr = "127.0.0.1:7878"
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &TCPServer{
		BaseServer: core.NewBaseServer("tcp-server", logger),
		addr:       config.Addr,
		config:     config,
		pool:       pool,
		ctx:        ctx,
		cancel:     cancel,
		limiter:    NewConnLimiter(config.MaxConns),
		handler:    defaultConnectionHandler,
	}
	s.effective = s.handler

	// Wire BaseServer hooks (template method pattern).
	s.BaseServer.SetHooks(s.doStart, s.doStop)
	return s
}

func defaultConnectionHandler(ctx *ConnContext) error {
	// Default: do nothing. Connection will be closed by server.
	return nil
}

// SetHandler sets the connection handler (fail-fast on nil).
func (s *TCPServer) SetHandler(handler ConnectionHandler) {
	failfast.NotNil(handler, "tcp handler")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
	s.rebuildHandlerLocked()
}

// Use adds middleware to the TCP server. Call before Start().
// Fail-fast: panics if any middleware is nil.
func (s *TCPServer) Use(mw ...Middleware) {
	if len(mw) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range mw {
		failfast.NotNil(m, "tcp middleware")
		s.middlewares = append(s.middlewares, m)
	}
	s.rebuildHandlerLocked()
}

func (s *TCPServer) rebuildHandlerLocked() {
	h := s.handler
	// First added runs outermost.
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	s.effective = h
}

// ListeningAddr returns the actual listening address (useful when Addr is ":0").
// Returns empty string if not currently listening.
func (s *TCPServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// doStart is called by BaseServer.Start(). It blocks in the accept loop.
func (s *TCPServer) doStart() error {
	var (
		ln  net.Listener
		err error
	)
	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return err
	}

	s.mu.Lock()
	if atomic.LoadInt32(&s.stopping) == 1 {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Infof("tcp server listening on %s", ln.Addr())
	return s.acceptLoop(ln)
}

func (s *TCPServer) acceptLoop(ln net.Listener) error {
	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			// If we're stopping, treat "closed listener" as clean shutdown.
			if atomic.LoadInt32(&s.stopping) == 1 || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if isTransientAcceptError(err) {
				if backoff == 0 {
					backoff = minAcceptBackoff
				} else {
					backoff *= 2
				}
				if backoff > maxAcceptBackoff {
					backoff = maxAcceptBackoff
				}
				s.Logger().Warnf("tcp accept error: %v; retrying in %v", err, backoff)
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		atomic.AddInt64(&s.totalAccepted, 1)
		s.dispatch(conn)
	}
}

// isTransientAcceptError reports accept failures the listener recovers from:
// timeouts, descriptor exhaustion and connections aborted before Accept.
func isTransientAcceptError(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var te interface{ Temporary() bool }
	if errors.As(err, &te) && te.Temporary() {
		return true
	}
	for _, errno := range []syscall.Errno{syscall.EMFILE, syscall.ENFILE, syscall.ECONNABORTED, syscall.ENOBUFS, syscall.ENOMEM} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// dispatch hands conn to the pool. It never runs the handler itself.
func (s *TCPServer) dispatch(conn net.Conn) {
	if !s.limiter.TryAcquire() {
		atomic.AddInt64(&s.rejectedConnections, 1)
		_ = conn.Close()
		return
	}

	reqID := core.GenerateRequestID()
	atomic.AddInt64(&s.queuedConnections, 1)
	if err := s.pool.SubmitNamed("conn-"+reqID, s.connJob(conn, reqID)); err != nil {
		atomic.AddInt64(&s.queuedConnections, -1)
		atomic.AddInt64(&s.rejectedConnections, 1)
		s.limiter.Release()
		_ = conn.Close()
		if errors.Is(err, concurrency.ErrPoolShuttingDown) {
			s.Logger().Warnf("tcp connection %s rejected: pool is shutting down", reqID)
		} else {
			s.Logger().Errorf("tcp connection %s rejected: %v", reqID, err)
		}
	}
}

// connJob builds the pool job serving one connection. A handler panic is not
// recovered here: it propagates to the pool's isolation boundary, which logs
// it with the original stack. The connection is closed either way.
func (s *TCPServer) connJob(conn net.Conn, reqID string) concurrency.Job {
	return func() {
		atomic.AddInt64(&s.queuedConnections, -1)
		atomic.AddInt64(&s.handledConnections, 1)

		returned := false
		defer func() {
			if !returned {
				atomic.AddInt64(&s.errorConnections, 1)
			}
			_ = conn.Close()
			s.limiter.Release()
		}()

		s.mu.RLock()
		h := s.effective
		s.mu.RUnlock()

		now := time.Now()
		_ = conn.SetReadDeadline(now.Add(s.config.ReadTimeout))
		_ = conn.SetWriteDeadline(now.Add(s.config.WriteTimeout))

		cctx := &ConnContext{
			Context:    core.WithRequestID(s.ctx, reqID),
			Conn:       conn,
			RequestID:  reqID,
			Logger:     s.Logger(),
			LocalAddr:  conn.LocalAddr(),
			RemoteAddr: conn.RemoteAddr(),
		}

		err := h(cctx)
		returned = true
		if err != nil {
			atomic.AddInt64(&s.errorConnections, 1)
			s.Logger().Errorf("tcp handler error (request_id=%s remote=%s): %v", reqID, cctx.RemoteAddr, err)
		}
	}
}

// doStop is called by BaseServer.Stop().
func (s *TCPServer) doStop() error {
	atomic.StoreInt32(&s.stopping, 1)

	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()

	// Close listener to break Accept().
	if ln != nil {
		_ = ln.Close()
	}
	s.cancel()
	s.Logger().Infof("tcp server stopped accepting (%d in flight)", s.limiter.Active())
	return nil
}

// Metrics returns current server metrics.
func (s *TCPServer) Metrics() ServerMetrics {
	return ServerMetrics{
		TotalAccepted:       atomic.LoadInt64(&s.totalAccepted),
		RejectedConnections: atomic.LoadInt64(&s.rejectedConnections),
		QueuedConnections:   atomic.LoadInt64(&s.queuedConnections),
		ActiveConnections:   s.limiter.Active(),
		HandledConnections:  atomic.LoadInt64(&s.handledConnections),
		ErrorConnections:    atomic.LoadInt64(&s.errorConnections),
		MaxConns:            s.limiter.Limit(),
	}
}
