package prometheus

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/fluxorio/jobpool/pkg/core"
)

// MetricsServer serves the Prometheus text format over fasthttp.
type MetricsServer struct {
	*core.BaseServer

	addr    string
	path    string
	server  *fasthttp.Server
	metrics fasthttp.RequestHandler

	mu       sync.RWMutex
	listener net.Listener
	stopping bool
}

// NewMetricsServer exposes gatherer (default: DefaultRegistry) on addr at path.
func NewMetricsServer(addr, path string, gatherer prometheus.Gatherer, logger core.Logger) *MetricsServer {
	if gatherer == nil {
		gatherer = DefaultRegistry
	}
	if path == "" {
		path = "/metrics"
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	s := &MetricsServer{
		BaseServer: core.NewBaseServer("metrics-server", logger),
		addr:       addr,
		path:       path,
		metrics: fasthttpadaptor.NewFastHTTPHandler(
			promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		),
	}
	s.server = &fasthttp.Server{
		Handler:               s.handle,
		ReadTimeout:           5 * time.Second,
		WriteTimeout:          10 * time.Second,
		NoDefaultServerHeader: true,
	}
	s.BaseServer.SetHooks(s.doStart, s.doStop)
	return s
}

func (s *MetricsServer) handle(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != s.path {
		ctx.Error("not found", fasthttp.StatusNotFound)
		return
	}
	if !ctx.IsGet() && !ctx.IsHead() {
		ctx.Error("method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}
	s.metrics(ctx)
}

// ListeningAddr returns the bound address, or "" before Start.
func (s *MetricsServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// doStart is called by BaseServer.Start() - blocks while serving.
func (s *MetricsServer) doStart() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger().Infof("metrics listening on http://%s%s", ln.Addr(), s.path)
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// doStop is called by BaseServer.Stop().
func (s *MetricsServer) doStop() error {
	s.mu.Lock()
	s.stopping = true
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return s.server.Shutdown()
}
