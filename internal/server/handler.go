// Package server implements the toy HTTP/1.1 server whose connections are
// processed by the worker pool
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/jzx17/gopool/pkg/types"
	"github.com/jzx17/gopool/pkg/worker"
)

// Route identifies a served page
type Route int

const (
	RouteHome Route = iota
	RouteSleep
	RouteNotFound
	RouteBadRequest
	RouteUnavailable
)

// Limits on the request head
const (
	MaxHeaderBytes = 8 << 10
	MaxHeaderLines = 100
)

// ErrRequestTooLarge is returned when the request head exceeds MaxHeaderBytes
// or MaxHeaderLines
var ErrRequestTooLarge = errors.New("request head too large")

// Built-in pages used when the pages directory has no file for a route
var builtinPages = map[Route]string{
	RouteHome:       "<!DOCTYPE html><html><body><h1>Hello!</h1></body></html>",
	RouteSleep:      "<!DOCTYPE html><html><body><h1>Heavy task finished</h1></body></html>",
	RouteNotFound:   "<!DOCTYPE html><html><body><h1>Oops!</h1><p>Page not found.</p></body></html>",
	RouteBadRequest:  "<!DOCTYPE html><html><body><h1>Bad request</h1></body></html>",
	RouteUnavailable: "<!DOCTYPE html><html><body><h1>Server shutting down</h1></body></html>",
}

var pageFiles = map[Route]string{
	RouteHome:       "index.html",
	RouteSleep:      "heavy-task.html",
	RouteNotFound:   "404.html",
	RouteBadRequest:  "400.html",
	RouteUnavailable: "503.html",
}

// Request is the parsed request head
type Request struct {
	Method  string
	Path    string
	Proto   string
	Headers []string
}

// HandlerConfig configures a Handler
type HandlerConfig struct {
	// PagesDir holds index.html, heavy-task.html, 404.html, 400.html and 503.html
	PagesDir string

	// SleepDuration is how long /sleep takes
	SleepDuration time.Duration

	// ReadTimeout bounds reading the request head; zero disables it
	ReadTimeout time.Duration

	Clock  quartz.Clock
	Logger *slog.Logger
}

// Handler turns connections into pool tasks
type Handler struct {
	config HandlerConfig
}

// NewHandler creates a handler
func NewHandler(config HandlerConfig) *Handler {
	if config.Clock == nil {
		config.Clock = quartz.NewReal()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Handler{config: config}
}

// Task wraps one accepted connection. The connection is closed when the task ends.
func (h *Handler) Task(conn net.Conn) types.Task {
	id := fmt.Sprintf("conn-%s", conn.RemoteAddr())
	return worker.NewBasicTaskWithID(id, func(ctx context.Context, workerID int) error {
		defer conn.Close()
		if err := h.Serve(ctx, conn); err != nil {
			return err
		}
		h.config.Logger.Info("worker finished task", "worker_id", workerID, "task_id", id)
		return nil
	})
}

// Serve performs one request/response exchange on conn
func (h *Handler) Serve(ctx context.Context, conn net.Conn) error {
	// socket deadlines are wall-clock, independent of the injected clock
	if h.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
			return fmt.Errorf("set read deadline: %w", err)
		}
	}

	req, err := ReadRequest(conn)
	route := RouteBadRequest
	if err == nil {
		route = req.Route()
	} else {
		h.config.Logger.Debug("malformed request", "error", err)
	}

	if route == RouteSleep {
		timer := h.config.Clock.NewTimer(h.config.SleepDuration, "server", "sleep")
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			// the client still gets an answer while the server drains
			if err := h.writeResponse(conn, RouteUnavailable); err != nil {
				return err
			}
			return ctx.Err()
		}
	}

	return h.writeResponse(conn, route)
}

func (h *Handler) writeResponse(w io.Writer, route Route) error {
	code, msg := route.Status()
	body := h.page(route)
	if _, err := fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: %d\r\n\r\n%s", code, msg, len(body), body); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}

func (h *Handler) page(route Route) string {
	if h.config.PagesDir != "" {
		data, err := os.ReadFile(filepath.Join(h.config.PagesDir, pageFiles[route]))
		if err == nil {
			return string(data)
		}
	}
	return builtinPages[route]
}

// ReadRequest reads request lines up to the first blank line and parses the
// request line. At most MaxHeaderBytes+1 bytes are read from r.
func ReadRequest(r io.Reader) (*Request, error) {
	br := bufio.NewReader(io.LimitReader(r, MaxHeaderBytes+1))

	var lines []string
	var size int
	for {
		line, err := br.ReadString('\n')
		size += len(line)
		if size > MaxHeaderBytes {
			return nil, ErrRequestTooLarge
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err != nil && len(lines) == 0 {
				return nil, fmt.Errorf("read request: %w", err)
			}
			break
		}
		lines = append(lines, line)
		if len(lines) > MaxHeaderLines {
			return nil, ErrRequestTooLarge
		}
		if err != nil {
			break
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("empty request")
	}

	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed request line %q", lines[0])
	}
	return &Request{
		Method:  parts[0],
		Path:    parts[1],
		Proto:   parts[2],
		Headers: lines[1:],
	}, nil
}

// Route selects the page for a request
func (r *Request) Route() Route {
	if r.Method != "GET" {
		return RouteNotFound
	}
	switch r.Path {
	case "/":
		return RouteHome
	case "/sleep":
		return RouteSleep
	default:
		return RouteNotFound
	}
}

// Status returns the status code and reason phrase for a route
func (r Route) Status() (int, string) {
	switch r {
	case RouteHome, RouteSleep:
		return 200, "OK"
	case RouteBadRequest:
		return 400, "BAD REQUEST"
	case RouteUnavailable:
		return 503, "SERVICE UNAVAILABLE"
	default:
		return 404, "NOT FOUND"
	}
}
