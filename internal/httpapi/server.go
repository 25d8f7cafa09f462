// Package httpapi exposes the front desk over HTTP: provider webhooks
// for the voice legs, a JSON chat surface for text sessions, and a few
// operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"clinic-frontdesk/internal/callctx"
	"clinic-frontdesk/internal/convo"
	"clinic-frontdesk/internal/emr"
	"clinic-frontdesk/internal/telephony"
	"clinic-frontdesk/internal/verify"
	"clinic-frontdesk/pkg"
)

// CallLogStore persists and reads call records.
type CallLogStore interface {
	CreateCallLog(ctx context.Context, e *pkg.CallLogEntry) (int64, error)
	UpdateCallStatus(ctx context.Context, id int64, status pkg.CallStatus, durationSeconds int) error
	AttachPatientSummary(ctx context.Context, id int64, summary string) error
	GetCallLog(ctx context.Context, id int64) (*pkg.CallLogEntry, error)
	ListRecentCalls(ctx context.Context, limit int) ([]pkg.CallLogEntry, error)
}

// StatusNotifier announces call-status transitions to listeners.
type StatusNotifier interface {
	NotifyCallStatus(ctx context.Context, logID int64, status string) error
}

// Server bundles the handlers' collaborators.  Logs, Notifier,
// Summarizer, Pipeline and PromptFrames are optional; a nil value
// disables that side effect without affecting call handling.
type Server struct {
	Machine    *convo.Machine
	Verifier   *verify.Verifier
	Contexts   *callctx.Store
	Provider   telephony.Provider
	Registry   emr.Client
	Logs       CallLogStore
	Notifier   StatusNotifier
	Summarizer *convo.Summarizer
	Pipeline   SpeechPipeline

	// PromptFrames is the pre-encoded greeting played at stream start.
	PromptFrames [][]byte

	PublicBaseURL string
	HospitalID    string
	ClinicLine    string
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	r.HandleFunc("/voice/inbound", s.handleInboundCall).Methods(http.MethodPost)
	r.HandleFunc("/voice/outbound", s.handleOutboundCall).Methods(http.MethodPost)
	r.HandleFunc("/voice/status", s.handleStatusCallback).Methods(http.MethodPost)
	r.HandleFunc("/voice/stream", s.handleStream).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/voice/verify", s.handleVerifyCaller).Methods(http.MethodPost)
	r.HandleFunc("/voice/verify-relationship", s.handleVerifyRelationship).Methods(http.MethodPost)

	r.HandleFunc("/chat/sessions", s.handleCreateSession).Methods(http.MethodPost)
	r.HandleFunc("/chat/sessions/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	r.HandleFunc("/chat/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)

	r.HandleFunc("/calls/recent", s.handleRecentCalls).Methods(http.MethodGet)
	r.HandleFunc("/calls/{id:[0-9]+}", s.handleGetCall).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
