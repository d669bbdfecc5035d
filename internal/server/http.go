package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	jsonwriter "github.com/dgellow/signin-gate/internal/json"
	"github.com/dgellow/signin-gate/internal/log"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 2 * time.Minute
	// Requests carry a session cookie and a few binding cookies at most
	maxHeaderBytes = 64 << 10

	healthCheckTimeout = 2 * time.Second
)

// HTTPServer runs the gate's handler on one address
type HTTPServer struct {
	server *http.Server
}

func NewHTTPServer(handler http.Handler, addr string) *HTTPServer {
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
			MaxHeaderBytes:    maxHeaderBytes,
		},
	}
}

// Start serves until Stop is called. A clean stop returns nil.
func (h *HTTPServer) Start() error {
	log.LogInfoWithFields("http", "Listening", map[string]any{
		"addr": h.server.Addr,
	})

	err := h.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop drains in-flight requests until ctx expires
func (h *HTTPServer) Stop(ctx context.Context) error {
	log.LogInfoWithFields("http", "Draining connections", map[string]any{
		"addr": h.server.Addr,
	})
	if err := h.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.LogInfoWithFields("http", "Stopped", map[string]any{
		"addr": h.server.Addr,
	})
	return nil
}

// HealthChecker is a dependency /health reports on
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// HealthHandler answers /health. With a checker, an unreachable state store
// turns the response into 503 since no login could complete.
type HealthHandler struct {
	checker HealthChecker
}

// NewHealthHandler creates the health handler. checker may be nil.
func NewHealthHandler(checker HealthChecker) *HealthHandler {
	return &HealthHandler{checker: checker}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.checker != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		if err := h.checker.Ping(ctx); err != nil {
			log.LogWarnWithFields("http", "Health check failed", map[string]any{
				"error": err.Error(),
			})
			_ = jsonwriter.WriteResponse(w, http.StatusServiceUnavailable, map[string]string{
				"status":     "unavailable",
				"stateStore": "unreachable",
			})
			return
		}
	}
	_ = jsonwriter.Write(w, map[string]string{"status": "ok"})
}
