// Command jobpool serves the hello protocol from a fixed-size worker pool.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/jobpool/pkg/config"
	"github.com/fluxorio/jobpool/pkg/core"
	"github.com/fluxorio/jobpool/pkg/core/concurrency"
	"github.com/fluxorio/jobpool/pkg/events"
	"github.com/fluxorio/jobpool/pkg/hello"
	prommetrics "github.com/fluxorio/jobpool/pkg/observability/prometheus"
	"github.com/fluxorio/jobpool/pkg/observability/tracing"
	"github.com/fluxorio/jobpool/pkg/tcp"
)

const (
	poolName = "jobpool"

	// sinkFlushTimeout bounds flushing traces and events at exit,
	// independent of pool.shutdown_timeout.
	sinkFlushTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "jobpool: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type options struct {
	configPath  string
	workers     int
	addr        string
	writeConfig string
	set         map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("jobpool", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "", "path to a YAML or JSON config file")
	fs.IntVar(&opts.workers, "workers", 0, "number of pool workers (overrides pool.size)")
	fs.StringVar(&opts.addr, "addr", "", "listen address (overrides listen.addr)")
	fs.StringVar(&opts.writeConfig, "write-config", "", "write the effective config to this path and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// loadConfig applies defaults, then the file, then JOBPOOL_* variables, then flags.
func loadConfig(opts options) (*config.AppConfig, error) {
	cfg, err := config.LoadAppConfig(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.set["workers"] {
		cfg.Pool.Size = opts.workers
	}
	if opts.set["addr"] {
		cfg.Listen.Addr = opts.addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if opts.writeConfig != "" {
		return config.Save(opts.writeConfig, cfg)
	}

	level, err := core.ParseLevel(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := core.NewLogger(stderr, level)

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	return a.run(ctx)
}

// app holds every long-lived component of the host.
type app struct {
	cfg    *config.AppConfig
	logger core.Logger

	pool          *concurrency.ThreadPool
	server        *tcp.TCPServer
	metricsServer *prommetrics.MetricsServer
	registry      *prometheus.Registry
	tracing       *tracing.Provider
	events        events.Publisher
}

func newApp(cfg *config.AppConfig, logger core.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.closeSinks()
		}
	}()

	a.tracing, err = tracing.Setup(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		ZipkinURL:   cfg.Tracing.ZipkinURL,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return nil, err
	}

	a.events = events.NopPublisher{}
	if cfg.Events.Enabled {
		pub, err := events.NewNATSPublisher(events.NATSConfig{
			URL:    cfg.Events.URL,
			Prefix: cfg.Events.SubjectPrefix,
			Name:   poolName,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.events = pub
	}

	registerer := prometheus.WrapRegistererWith(prometheus.Labels{"service": poolName}, a.registry)
	metrics := prommetrics.NewMetrics(registerer)

	a.pool, err = concurrency.NewThreadPool(cfg.Pool.Size,
		concurrency.WithName(poolName),
		concurrency.WithLogger(logger),
		concurrency.WithQueueCapacity(cfg.Pool.QueueCapacity),
		concurrency.WithJobObserver(metrics.ObserveJob),
		concurrency.WithJobObserver(events.PanicObserver(a.events, poolName, logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	defer func() {
		if err != nil {
			a.pool.Shutdown()
		}
	}()

	handler, err := hello.New(hello.Config{
		SleepDelay: config.Duration(cfg.Handler.SleepDelay, 5*time.Second),
		PagesDir:   cfg.Handler.PagesDir,
	})
	if err != nil {
		return nil, err
	}

	var tlsConfig *tls.Config
	if cfg.Listen.TLSCertFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Listen.TLSCertFile, cfg.Listen.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}
	}

	a.server = tcp.NewTCPServer(a.pool, &tcp.TCPServerConfig{
		Addr:         cfg.Listen.Addr,
		MaxConns:     cfg.Listen.MaxConns,
		TLSConfig:    tlsConfig,
		ReadTimeout:  config.Duration(cfg.Listen.ReadTimeout, 10*time.Second),
		WriteTimeout: config.Duration(cfg.Listen.WriteTimeout, 10*time.Second),
		Logger:       logger,
	})
	a.server.Use(
		tcp.Logging(tcp.LoggingConfig{SlowThreshold: config.Duration(cfg.Handler.SlowThreshold, 0)}),
		tracing.Middleware(a.tracing.Tracer()),
	)
	a.server.SetHandler(handler.Handle)

	if err := prommetrics.RegisterPool(registerer, a.pool); err != nil {
		return nil, fmt.Errorf("register pool metrics: %w", err)
	}
	if err := prommetrics.RegisterServer(registerer, a.server); err != nil {
		return nil, fmt.Errorf("register server metrics: %w", err)
	}
	if cfg.Metrics.Enabled {
		a.metricsServer = prommetrics.NewMetricsServer(cfg.Metrics.Addr, cfg.Metrics.Path, a.registry, logger)
	}
	return a, nil
}

// run serves until ctx is done or a server fails, then shuts everything down.
func (a *app) run(ctx context.Context) error {
	errCh := make(chan error, 2)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	a.publish(events.PoolStarted, map[string]interface{}{
		"workers":        a.pool.Size(),
		"queue_capacity": a.cfg.Pool.QueueCapacity,
		"addr":           a.cfg.Listen.Addr,
	})

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Infof("shutdown requested")
	case runErr = <-errCh:
		a.logger.Errorf("%v", runErr)
	}

	a.shutdown()
	return runErr
}

// shutdown stops intake first, then drains the pool, then flushes the sinks.
func (a *app) shutdown() {
	if err := a.server.Stop(); err != nil {
		a.logger.Warnf("stop tcp server: %v", err)
	}

	timeout := config.Duration(a.cfg.Pool.ShutdownTimeout, 30*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.pool.ShutdownContext(ctx); err != nil {
		a.logger.Warnf("pool did not drain: %v", err)
	}
	stats := a.pool.Stats()
	a.logger.Infof("pool stopped: submitted=%d completed=%d panicked=%d rejected=%d",
		stats.Submitted, stats.Completed, stats.Panicked, stats.Rejected)
	a.publish(events.PoolStopped, map[string]interface{}{
		"submitted": stats.Submitted,
		"completed": stats.Completed,
		"panicked":  stats.Panicked,
		"rejected":  stats.Rejected,
	})

	a.closeSinks()
}

func (a *app) closeSinks() {
	ctx, cancel := context.WithTimeout(context.Background(), sinkFlushTimeout)
	defer cancel()

	if a.metricsServer != nil {
		if err := a.metricsServer.Stop(); err != nil {
			a.logger.Warnf("stop metrics server: %v", err)
		}
	}
	if a.tracing != nil {
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warnf("flush traces: %v", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warnf("close events: %v", err)
		}
	}
}

func (a *app) publish(typ events.Type, data map[string]interface{}) {
	if err := a.events.Publish(context.Background(), events.New(typ, poolName, data)); err != nil {
		a.logger.Warnf("publish %s: %v", typ, err)
	}
}
