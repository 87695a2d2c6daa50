package transport

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/arbiter"
	"github.com/rndmzd/laser-turret/internal/obslog"
)

// Server exposes the telemetry hub and command gateway over plain HTTP,
// deliberately without any HTML, video, or capture-grid endpoints.
type Server struct {
	addr string
	hub  *Hub
	gw   *Gateway
}

// NewServer wires a Hub and Gateway around arb and binds them to addr.
func NewServer(addr string, arb *arbiter.Arbiter) *Server {
	return &Server{
		addr: addr,
		hub:  NewHub(arb),
		gw:   NewGateway(arb),
	}
}

// Mux returns the registered route set: GET /telemetry (websocket) and
// POST /command (JSON).
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.hub.ServeTelemetry(w, r)
	})
	mux.HandleFunc("/command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.gw.ServeCommand(w, r)
	})
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	errCh := make(chan error, 1)
	go func() {
		obslog.L().Info("transport_listening", zap.String("addr", s.addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
