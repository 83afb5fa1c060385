// Package hello serves the demo text protocol: a fixed set of request lines
// answered with static pages.
package hello

import (
	"bufio"
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/fluxorio/jobpool/pkg/tcp"
)

//go:embed pages/*.html
var embedded embed.FS

const (
	// maxRequestLine is how much of the request is used for routing.
	maxRequestLine = 1024
	// maxHeaderBytes caps how much of the rest of the request head is drained.
	maxHeaderBytes = 8 << 10
	// drainTimeout bounds the wait for header bytes the client has not sent yet.
	drainTimeout = 100 * time.Millisecond

	StatusOK       = "HTTP/1.1 200 OK"
	StatusNotFound = "HTTP/1.1 404 NOT FOUND"

	PageHello    = "hello.html"
	PageNotFound = "404.html"
)

var (
	routeRoot  = []byte("GET / HTTP/1.1\r\n")
	routeSleep = []byte("GET /sleep HTTP/1.1\r\n")
)

// Config configures the demo handler.
type Config struct {
	// SleepDelay is how long /sleep holds the connection before answering.
	SleepDelay time.Duration
	// PagesDir, when set, overrides embedded pages with files of the same name.
	PagesDir string
}

// DefaultConfig returns the stock delays and the embedded pages.
func DefaultConfig() Config {
	return Config{SleepDelay: 5 * time.Second}
}

// Route is the outcome of matching a request line.
type Route struct {
	Status string
	Page   string
	Sleep  bool
}

// Match routes on the exact request-line prefix.
func Match(head []byte) Route {
	switch {
	case bytes.HasPrefix(head, routeRoot):
		return Route{Status: StatusOK, Page: PageHello}
	case bytes.HasPrefix(head, routeSleep):
		return Route{Status: StatusOK, Page: PageHello, Sleep: true}
	default:
		return Route{Status: StatusNotFound, Page: PageNotFound}
	}
}

// Handler answers one connection per call.
type Handler struct {
	sleepDelay time.Duration
	pages      map[string][]byte
}

// New loads the pages once so every connection serves the same bytes.
func New(cfg Config) (*Handler, error) {
	if cfg.SleepDelay < 0 {
		return nil, fmt.Errorf("hello: negative sleep delay %v", cfg.SleepDelay)
	}
	h := &Handler{
		sleepDelay: cfg.SleepDelay,
		pages:      make(map[string][]byte, 2),
	}
	for _, name := range []string{PageHello, PageNotFound} {
		body, err := loadPage(cfg.PagesDir, name)
		if err != nil {
			return nil, err
		}
		h.pages[name] = body
	}
	return h, nil
}

func loadPage(dir, name string) ([]byte, error) {
	if dir != "" {
		body, err := os.ReadFile(filepath.Join(dir, name))
		if err == nil {
			return body, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("hello: load page %s: %w", name, err)
		}
	}
	body, err := embedded.ReadFile("pages/" + name)
	if err != nil {
		return nil, fmt.Errorf("hello: embedded page %s: %w", name, err)
	}
	return body, nil
}

// Page returns the loaded body for name.
func (h *Handler) Page(name string) []byte {
	return h.pages[name]
}

// Handle implements tcp.ConnectionHandler.
func (h *Handler) Handle(ctx *tcp.ConnContext) error {
	br := bufio.NewReaderSize(ctx.Conn, maxRequestLine)
	head, err := readRequestLine(br)
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	route := Match(head)
	if route.Sleep && h.sleepDelay > 0 {
		timer := time.NewTimer(h.sleepDelay)
		select {
		case <-timer.C:
		case <-ctx.Context.Done():
			timer.Stop()
		}
	}

	if err := WriteResponse(ctx.Conn, route.Status, h.pages[route.Page]); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	drainRequestHead(ctx.Conn, br)
	return nil
}

// readRequestLine returns the first line of the request, at most
// maxRequestLine bytes of it.
func readRequestLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadSlice('\n')
	head := append([]byte(nil), line...)
	switch {
	case err == nil:
		return head, nil
	case errors.Is(err, bufio.ErrBufferFull), errors.Is(err, io.EOF):
		if len(head) == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return head, nil
	default:
		return nil, err
	}
}

// drainRequestHead reads what is left of the request head so closing the
// connection does not reset it before the client has read the response.
func drainRequestHead(conn net.Conn, br *bufio.Reader) {
	_ = conn.SetReadDeadline(time.Now().Add(drainTimeout))
	for drained := 0; drained < maxHeaderBytes; {
		l, err := br.ReadSlice('\n')
		drained += len(l)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil || len(bytes.TrimRight(l, "\r\n")) == 0 {
			return
		}
	}
}

// WriteResponse writes "<status>\r\nContent-Length: <n>\r\n\r\n<body>".
func WriteResponse(w io.Writer, status string, body []byte) error {
	var buf bytes.Buffer
	buf.Grow(len(status) + len(body) + 32)
	fmt.Fprintf(&buf, "%s\r\nContent-Length: %d\r\n\r\n", status, len(body))
	buf.Write(body)
	_, err := w.Write(buf.Bytes())
	return err
}
