package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/yasarts/reunion-live/internal/handlers"
	"github.com/yasarts/reunion-live/internal/identity"
	"github.com/yasarts/reunion-live/internal/metrics"
	"github.com/yasarts/reunion-live/internal/session"
	"github.com/yasarts/reunion-live/internal/ws"
)

// NewServer creates and configures a mux.Router with all routes and
// middleware.
func NewServer(facade *session.Facade, hub *ws.Hub, jwtSecret string, log *logrus.Logger) *mux.Router {
	h := &handlers.Handlers{
		Facade: facade,
		Hub:    hub,
		Log:    log,
	}

	r := mux.NewRouter()

	// Global middleware.
	r.Use(corsMiddleware)
	r.Use(loggingMiddleware(log))

	// Health check and metrics (no auth required).
	r.HandleFunc("/health", h.HealthCheck).Methods("GET")
	r.Handle("/metrics", metrics.Handler()).Methods("GET")

	authn := identity.Middleware(jwtSecret)

	// WebSocket endpoint; the identity middleware runs before the upgrade so
	// room joins are bound to an authenticated identity.
	r.Handle("/ws", authn(http.HandlerFunc(h.HandleWebSocket))).Methods("GET")

	// API routes with identity middleware.
	api := r.PathPrefix("/api").Subrouter()
	api.Use(authn)

	api.HandleFunc("/meetings", h.CreateMeeting).Methods("POST")
	api.HandleFunc("/meetings", h.ListMeetings).Methods("GET")
	api.HandleFunc("/meetings/{id}", h.GetMeeting).Methods("GET")
	api.HandleFunc("/meetings/{id}", h.DeleteMeeting).Methods("DELETE")
	api.HandleFunc("/meetings/{id}/status", h.SetMeetingStatus).Methods("PUT")
	api.HandleFunc("/meetings/{id}/agenda", h.GetAgenda).Methods("GET")
	api.HandleFunc("/meetings/{id}/agenda-items", h.CreateAgendaItem).Methods("POST")
	api.HandleFunc("/meetings/{id}/participants", h.ListParticipants).Methods("GET")
	api.HandleFunc("/meetings/{id}/participants", h.AddParticipant).Methods("POST")
	api.HandleFunc("/meetings/{id}/participants/{userId}/status", h.SetParticipantStatus).Methods("PUT")
	api.HandleFunc("/meetings/{id}/participants/{userId}", h.RemoveParticipant).Methods("DELETE")
	api.HandleFunc("/meetings/{id}/quorum", h.GetQuorum).Methods("GET")

	api.HandleFunc("/agenda-items/{id}", h.UpdateAgendaItem).Methods("PUT")
	api.HandleFunc("/agenda-items/{id}", h.DeleteAgendaItem).Methods("DELETE")
	api.HandleFunc("/agenda-items/{id}/complete", h.CompleteAgendaItem).Methods("POST")
	api.HandleFunc("/agenda-items/{id}/votes", h.CreateVote).Methods("POST")
	api.HandleFunc("/agenda-items/{id}/votes", h.ListVotes).Methods("GET")

	api.HandleFunc("/votes/{id}/cast", h.CastVote).Methods("POST")
	api.HandleFunc("/votes/{id}/close", h.CloseVote).Methods("POST")
	api.HandleFunc("/votes/{id}", h.DeleteVote).Methods("DELETE")

	api.HandleFunc("/audit", h.ListAudit).Methods("GET")

	return r
}

// corsMiddleware adds permissive CORS headers for development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each incoming request with method, path, status,
// and duration.
func loggingMiddleware(log *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			log.WithFields(logrus.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"status":   rw.statusCode,
				"duration": time.Since(start).String(),
			}).Info("request")
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker so WebSocket upgrades work through the
// logging middleware.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}
