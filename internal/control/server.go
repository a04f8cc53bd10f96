package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage"
	"github.com/kth-biblioteket/almatools-tasks/internal/infra/storage/postgres"
)

// Server exposes the HTTP control surface: liveness, Prometheus metrics, and
// a read-only view of the retry queue for operators.
type Server struct {
	db     *postgres.DB
	repo   storage.FailedRecordRepository
	server *http.Server
}

// NewServer creates the control server.
func NewServer(port int, db *postgres.DB, repo storage.FailedRecordRepository) *Server {
	mux := http.NewServeMux()
	s := &Server{
		db:   db,
		repo: repo,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		},
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.Handle("/metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK

	if s.db != nil {
		if err := s.db.Health(ctx); err != nil {
			status = "critical"
			code = http.StatusServiceUnavailable
		}
	}

	depth, err := s.repo.CountFailed(ctx)
	if err != nil && code == http.StatusOK {
		status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":      status,
		"queue_depth": depth,
	})
}

// handleQueue returns every queue row, newest first is left to the client;
// rows come back in creation order.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rows, err := s.repo.List(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type row struct {
		ID          string    `json:"id"`
		LibrisID    string    `json:"libris_id"`
		RecordType  string    `json:"record_type"`
		MmsID       string    `json:"mms_id,omitempty"`
		Attempts    int       `json:"attempts"`
		LastAttempt time.Time `json:"last_attempt"`
		MailSent    bool      `json:"mail_sent"`
		Status      string    `json:"status"`
		Message     string    `json:"message,omitempty"`
		CreatedAt   time.Time `json:"created_at"`
	}

	out := make([]row, 0, len(rows))
	for _, rec := range rows {
		out = append(out, row{
			ID:          rec.ID,
			LibrisID:    rec.LibrisID,
			RecordType:  string(rec.RecordType),
			MmsID:       rec.MmsID,
			Attempts:    rec.Attempts,
			LastAttempt: rec.LastAttempt,
			MailSent:    rec.MailSent,
			Status:      string(rec.Status),
			Message:     rec.Message,
			CreatedAt:   rec.CreatedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
