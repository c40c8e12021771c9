// Package testserver serves generated test artifacts to the headless browser.
package testserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hochfrequenz/bundle-orch/internal/domain"
)

// Config configures the test server
type Config struct {
	Host            string
	Root            string
	ShutdownTimeout time.Duration

	// Mounts maps path prefixes such as "/__orch/" to extra handlers
	Mounts map[string]http.Handler

	// OnShutdown hooks run when a server begins shutting down, so
	// long-lived streams can end before the graceful timeout
	OnShutdown []func()
}

// Controller starts and stops test servers, at most one per port
type Controller struct {
	config Config
	log    zerolog.Logger

	mu   sync.Mutex
	live map[int]*Handle
}

// Handle is a running test server bound to a port
type Handle struct {
	port     int
	server   *http.Server
	listener net.Listener
	errCh    chan error
	done     chan struct{}
	stopOnce sync.Once

	mu    sync.Mutex
	state domain.ServerState
}

// Port returns the bound port
func (h *Handle) Port() int { return h.port }

// State returns the handle's lifecycle state
func (h *Handle) State() domain.ServerState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Errors receives errors from the serving goroutine. Buffered; never closed.
func (h *Handle) Errors() <-chan error { return h.errCh }

// New creates a test server controller
func New(config Config, logger zerolog.Logger) *Controller {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	return &Controller{
		config: config,
		log:    logger.With().Str("component", "testserver").Logger(),
		live:   make(map[int]*Handle),
	}
}

// Mount serves h under prefix on servers started after the call
func (c *Controller) Mount(prefix string, h http.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.config.Mounts == nil {
		c.config.Mounts = make(map[string]http.Handler)
	}
	c.config.Mounts[prefix] = h
}

// Handler returns the HTTP handler serving the static root and mounts
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	for prefix, h := range c.config.Mounts {
		mux.Handle(prefix, http.StripPrefix(strings.TrimSuffix(prefix, "/"), h))
	}
	mux.Handle("/", noCache(http.FileServer(http.Dir(c.config.Root))))
	return mux
}

// Start binds the port and serves in the background. Binding happens before
// Start returns, so an occupied port fails here rather than later.
// Port 0 picks a free port.
func (c *Controller) Start(ctx context.Context, port int) (domain.ServerHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.live[port]; exists && port != 0 {
		return nil, fmt.Errorf("test server already running on port %d", port)
	}

	c.log.Info().Msgf("Starting test server on port %d", port)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", net.JoinHostPort(c.config.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("failed to bind to port %d: %w", port, err)
	}

	h := &Handle{
		port: listener.Addr().(*net.TCPAddr).Port,
		server: &http.Server{
			Handler:           c.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		listener: listener,
		errCh:    make(chan error, 1),
		done:     make(chan struct{}),
		state:    domain.ServerRunning,
	}
	for _, f := range c.config.OnShutdown {
		h.server.RegisterOnShutdown(f)
	}

	go func() {
		defer close(h.done)
		defer func() {
			if r := recover(); r != nil {
				h.report(fmt.Errorf("test server panic: %v", r))
			}
		}()

		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error().Err(err).Int("port", h.port).Msg("test server error")
			h.report(err)
		}
	}()

	c.live[h.port] = h
	return h, nil
}

// Stop shuts the server down. It is safe to call with a nil handle, a
// handle from a failed start, or more than once.
func (c *Controller) Stop(ctx context.Context, handle domain.ServerHandle) error {
	h, ok := handle.(*Handle)
	if !ok || h == nil {
		return nil
	}

	var err error
	h.stopOnce.Do(func() {
		c.log.Info().Msgf("Stopping test server on port %d", h.port)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.ShutdownTimeout)
		defer cancel()
		err = h.server.Shutdown(shutdownCtx)

		// Shutdown only closes listeners Serve has already tracked, so a
		// Stop right after Start must close the socket itself.
		if cerr := h.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			c.log.Debug().Err(cerr).Int("port", h.port).Msg("closing listener")
		}
		select {
		case <-h.done:
		case <-shutdownCtx.Done():
			if err == nil {
				err = shutdownCtx.Err()
			}
		}

		h.mu.Lock()
		h.state = domain.ServerStopped
		h.mu.Unlock()

		c.mu.Lock()
		if c.live[h.port] == h {
			delete(c.live, h.port)
		}
		c.mu.Unlock()
	})
	return err
}

// Running returns the ports with a live server
func (c *Controller) Running() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ports := make([]int, 0, len(c.live))
	for p := range c.live {
		ports = append(ports, p)
	}
	return ports
}

func (h *Handle) report(err error) {
	select {
	case h.errCh <- err:
	default:
	}
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
