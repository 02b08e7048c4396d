// Package httpapi exposes the REST and WebSocket surface of the reminiscence
// backend: therapy session lifecycle, session history, transcript upload,
// the live voice endpoint, and the operational endpoints (health, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zachwitte21/reminisce-poc/internal/auth"
	"github.com/Zachwitte21/reminisce-poc/internal/health"
	"github.com/Zachwitte21/reminisce-poc/internal/observe"
	"github.com/Zachwitte21/reminisce-poc/internal/store"
	"github.com/Zachwitte21/reminisce-poc/internal/voice"
)

// TherapyStore is the persistence surface the REST handlers need.
type TherapyStore interface {
	VerifyAccess(ctx context.Context, userID, patientID string) (store.PatientAccess, error)
	StartTherapySession(ctx context.Context, patientID string) (store.TherapySession, error)
	EndTherapySession(ctx context.Context, sessionID string) (store.TherapySession, error)
	TherapySessionPatient(ctx context.Context, sessionID string) (string, error)
	SessionHistory(ctx context.Context, patientID string, limit int) ([]store.TherapySession, error)
	SaveTranscript(ctx context.Context, sessionID string, sum voice.Summary) error
}

// Handler serves the REST API.
type Handler struct {
	verifier *auth.Verifier
	store    TherapyStore
}

// NewHandler creates a REST API handler.
func NewHandler(verifier *auth.Verifier, ts TherapyStore) *Handler {
	return &Handler{verifier: verifier, store: ts}
}

// Router assembles the full HTTP surface. The voice WebSocket route is
// mounted outside the observability middleware so a session lasting many
// minutes is not recorded as one giant request-duration sample; session
// metrics are reported by the relay itself.
func Router(h *Handler, voiceHandler http.HandlerFunc, healthHandler *health.Handler, m *observe.Metrics) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(observe.Middleware(m))

		healthHandler.Register(r)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Use(h.requireUser)
			r.Post("/therapy/sessions", h.startSession)
			r.Post("/therapy/sessions/{sessionID}/end", h.endSession)
			r.Get("/therapy/sessions/{patientID}/history", h.sessionHistory)
			r.Post("/voice/transcript/{sessionID}", h.saveTranscript)
		})
	})

	r.Get("/ws/voice/{sessionID}", voiceHandler)

	return r
}

// ── Auth middleware ──────────────────────────────────────────────────────────

type contextKey string

const userIDKey contextKey = "userID"

// requireUser validates the Bearer token and stores the user ID in the
// request context.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, err := h.verifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestUser returns the authenticated user ID stored by [requireUser].
func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// ── Handlers ─────────────────────────────────────────────────────────────────

type startSessionRequest struct {
	PatientID string `json:"patient_id"`
}

func (h *Handler) startSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := uuid.Parse(req.PatientID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient_id")
		return
	}

	if !h.authorizePatient(w, r, req.PatientID) {
		return
	}

	ts, err := h.store.StartTherapySession(r.Context(), req.PatientID)
	if err != nil {
		h.storeError(w, r, "start therapy session", err)
		return
	}
	writeJSON(w, http.StatusCreated, ts)
}

func (h *Handler) endSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	patientID, err := h.store.TherapySessionPatient(r.Context(), sessionID)
	if err != nil {
		h.storeError(w, r, "resolve therapy session", err)
		return
	}
	if !h.authorizePatient(w, r, patientID) {
		return
	}

	ts, err := h.store.EndTherapySession(r.Context(), sessionID)
	if err != nil {
		h.storeError(w, r, "end therapy session", err)
		return
	}
	writeJSON(w, http.StatusOK, ts)
}

func (h *Handler) sessionHistory(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")
	if _, err := uuid.Parse(patientID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid patient id")
		return
	}

	if !h.authorizePatient(w, r, patientID) {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	sessions, err := h.store.SessionHistory(r.Context(), patientID, limit)
	if err != nil {
		h.storeError(w, r, "session history", err)
		return
	}
	if sessions == nil {
		sessions = []store.TherapySession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// saveTranscript accepts a client-assembled transcript for a session. Only
// the patient's caregiver may upload transcripts.
func (h *Handler) saveTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := uuid.Parse(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	patientID, err := h.store.TherapySessionPatient(r.Context(), sessionID)
	if err != nil {
		h.storeError(w, r, "resolve therapy session", err)
		return
	}

	access, err := h.store.VerifyAccess(r.Context(), requestUser(r), patientID)
	if err != nil {
		h.storeError(w, r, "verify access", err)
		return
	}
	if access.Role != "caregiver" {
		writeError(w, http.StatusForbidden, "only the caregiver may upload transcripts")
		return
	}

	var sum voice.Summary
	if err := json.NewDecoder(r.Body).Decode(&sum); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.store.SaveTranscript(r.Context(), sessionID, sum); err != nil {
		h.storeError(w, r, "save transcript", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "saved"})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// authorizePatient checks the caller's relationship to the patient and writes
// the error response itself when access is denied.
func (h *Handler) authorizePatient(w http.ResponseWriter, r *http.Request, patientID string) bool {
	_, err := h.store.VerifyAccess(r.Context(), requestUser(r), patientID)
	if err != nil {
		h.storeError(w, r, "verify access", err)
		return false
	}
	return true
}

// storeError maps store errors to HTTP responses.
func (h *Handler) storeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, store.ErrNoAccess):
		writeError(w, http.StatusForbidden, "access denied")
	default:
		slog.ErrorContext(r.Context(), "store operation failed", "op", op, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
