package app

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pipewright/pipewright/internal/report"
)

// reportServer exposes the latest run report over HTTP for a downstream
// dashboard or notifier.
type reportServer struct {
	mu  sync.RWMutex
	run *report.Run
}

func (s *reportServer) publish(run *report.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
}

func (s *reportServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *reportServer) handleReport(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	run := s.run
	s.mu.RUnlock()

	if run == nil {
		http.Error(w, "no run has completed yet", http.StatusNotFound)
		return
	}
	body, err := run.JSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

// startReportServer initializes and runs the report HTTP server.
func (a *App) startReportServer(port int) *reportServer {
	a.logger.Debug("Configuring report server.")
	server := &reportServer{}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", server.handleHealthz)
	r.Get("/report", server.handleReport)

	addr := fmt.Sprintf(":%d", port)
	go func() {
		a.logger.Info("🩺 Report server starting", "address", fmt.Sprintf("http://localhost%s/report", addr))
		if err := http.ListenAndServe(addr, r); err != nil {
			a.logger.Error("Report server failed", "error", err)
		}
	}()
	return server
}
