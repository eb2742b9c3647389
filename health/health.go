package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-notify/engine"
	"github.com/aquasecurity/vuln-notify/metrics"
)

const source = "NIST NVD"

// Engine is the read-only view of the sync loop the health endpoint reports on.
type Engine interface {
	Identity() string
	Interval() time.Duration
	State() engine.State
	Tracked() int
}

type Status struct {
	Status      string `json:"status"`
	BotName     string `json:"bot_name"`
	CVEsTracked int    `json:"cves_tracked"`
	Source      string `json:"source"`
	Interval    int    `json:"interval"`
	State       string `json:"state"`
}

type Server struct {
	engine Engine
	srv    *http.Server
}

func NewServer(addr string, eng Engine, m *metrics.Metrics) *Server {
	s := &Server{engine: eng}

	mux := http.NewServeMux()
	mux.Handle("/health", m.Instrument("/health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("/metrics", m.Handler())

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// ListenAndServe blocks until the server fails or is shut down. Shutdown is not an error.
func (s *Server) ListenAndServe() error {
	slog.Info("Healthcheck listening", "url", "http://"+s.srv.Addr+"/health")
	if err := s.srv.ListenAndServe(); err != nil && !xerrors.Is(err, http.ErrServerClosed) {
		return xerrors.Errorf("health server error: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	status := Status{
		Status:      "ok",
		BotName:     s.engine.Identity(),
		CVEsTracked: s.engine.Tracked(),
		Source:      source,
		Interval:    int(s.engine.Interval().Seconds()),
		State:       string(s.engine.State()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Error("Unable to write health response", "error", err)
	}
}
