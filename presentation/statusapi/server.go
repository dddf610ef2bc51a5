// Package statusapi serves the run status over HTTP for dashboards and
// operators watching an unattended desktop.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"screenfill/domain/entities"
	"screenfill/domain/interfaces"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const maxMessages = 50

// Status is the body of GET /status.
type Status struct {
	State    entities.OverlayState `json:"state"`
	Message  string                `json:"message"`
	Updated  time.Time             `json:"updated"`
	Messages []string              `json:"messages"`
}

// Server implements interfaces.StatusReporter and forwards every call to
// the wrapped reporter.
type Server struct {
	mu     sync.RWMutex
	status Status

	store  interfaces.RunStore
	next   interfaces.StatusReporter
	logger *logrus.Logger
	now    func() time.Time
}

// New returns a status server. store and next may be nil.
func New(store interfaces.RunStore, next interfaces.StatusReporter, logger *logrus.Logger) *Server {
	s := &Server{store: store, next: next, logger: logger, now: time.Now}
	s.status.State = entities.OverlayOff
	return s
}

var _ interfaces.StatusReporter = (*Server)(nil)

// SetState implements interfaces.StatusReporter.
func (s *Server) SetState(state entities.OverlayState) {
	s.mu.Lock()
	s.status.State = state
	s.status.Updated = s.now()
	s.mu.Unlock()
	if s.next != nil {
		s.next.SetState(state)
	}
}

// Update implements interfaces.StatusReporter.
func (s *Server) Update(message string) {
	s.mu.Lock()
	s.status.Message = message
	s.status.Updated = s.now()
	s.status.Messages = append(s.status.Messages, message)
	if n := len(s.status.Messages); n > maxMessages {
		s.status.Messages = append([]string(nil), s.status.Messages[n-maxMessages:]...)
	}
	s.mu.Unlock()
	if s.next != nil {
		s.next.Update(message)
	}
}

// Snapshot returns a copy of the current status.
func (s *Server) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	st.Messages = append([]string(nil), s.status.Messages...)
	return st
}

// Router returns the HTTP routes.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK\n"))
	}).Methods("GET")
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.HandleFunc("/runs", s.getRuns).Methods("GET")
	r.HandleFunc("/runs/{id}", s.getRun).Methods("GET")
	return r
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	s.logger.Infof("Status API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) runs(w http.ResponseWriter) ([]entities.TaskResult, bool) {
	if s.store == nil {
		return []entities.TaskResult{}, true
	}
	runs, err := s.store.LoadRuns()
	if err != nil {
		s.logger.WithError(err).Warn("Failed to load run history")
		http.Error(w, "run history unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return runs, true
}

// getRuns lists runs newest first.
func (s *Server) getRuns(w http.ResponseWriter, r *http.Request) {
	runs, ok := s.runs(w)
	if !ok {
		return
	}
	out := make([]entities.TaskResult, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	runs, ok := s.runs(w)
	if !ok {
		return
	}
	for _, run := range runs {
		if run.ID == id {
			writeJSON(w, http.StatusOK, run)
			return
		}
	}
	http.Error(w, "run not found", http.StatusNotFound)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
