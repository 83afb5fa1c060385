package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/fluxorio/jobpool/pkg/core"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("events: publisher closed")

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. "nats://127.0.0.1:4222".
	URL string

	// Prefix is prepended to every subject. Default: "jobpool".
	Prefix string

	// Name is an optional NATS connection name.
	Name string

	// FlushTimeout bounds the flush performed by Close. Default: 2s.
	FlushTimeout time.Duration
}

// NATSPublisher publishes each event on <prefix>.<type>.
type NATSPublisher struct {
	nc           *nats.Conn
	prefix       string
	flushTimeout time.Duration
	logger       core.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg NATSConfig, logger core.Logger) (*NATSPublisher, error) {
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "jobpool"
	}
	flushTimeout := cfg.FlushTimeout
	if flushTimeout <= 0 {
		flushTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	nc, err := nats.Connect(url, func(o *nats.Options) error {
		if cfg.Name != "" {
			o.Name = cfg.Name
		}
		return nil
	}, nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
		if err != nil {
			logger.Warnf("events: nats disconnected: %v", err)
		}
	}), nats.ReconnectHandler(func(c *nats.Conn) {
		logger.Infof("events: nats reconnected to %s", c.ConnectedUrl())
	}))
	if err != nil {
		return nil, fmt.Errorf("events: connect %s: %w", url, err)
	}

	return &NATSPublisher{
		nc:           nc,
		prefix:       prefix,
		flushTimeout: flushTimeout,
		logger:       logger,
	}, nil
}

// Subject returns the subject an event type is published on.
func (p *NATSPublisher) Subject(typ Type) string {
	return p.prefix + "." + string(typ)
}

// Publish encodes ev as JSON. A request id on ctx travels as X-Request-ID.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	if p.nc.IsClosed() {
		return ErrPublisherClosed
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}

	msg := &nats.Msg{
		Subject: p.Subject(ev.Type),
		Data:    data,
		Header:  nats.Header{},
	}
	if rid := core.GetRequestID(ctx); rid != "" {
		msg.Header.Set("X-Request-ID", rid)
	}
	return p.nc.PublishMsg(msg)
}

// Close flushes buffered events and closes the connection. Safe to call twice.
func (p *NATSPublisher) Close() error {
	p.closeOnce.Do(func() {
		if err := p.nc.FlushTimeout(p.flushTimeout); err != nil {
			p.closeErr = fmt.Errorf("events: flush: %w", err)
		}
		p.nc.Close()
	})
	return p.closeErr
}
