package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/annotator/nipsa/internal/middleware"
	"github.com/annotator/nipsa/internal/queue"
	"github.com/annotator/nipsa/internal/repository"
	"github.com/annotator/nipsa/internal/service"
)

// NipsaService is the denylist API used by NipsaHandler.
type NipsaService interface {
	List(ctx context.Context) ([]string, error)
	Flag(ctx context.Context, userID string) error
	Unflag(ctx context.Context, userID string) error
	IsFlagged(ctx context.Context, userID string) (bool, error)
}

// NipsaHandler serves the Administrative API.
type NipsaHandler struct {
	svc    NipsaService
	logger *slog.Logger
}

// NewNipsaHandler creates a new NipsaHandler.
func NewNipsaHandler(svc NipsaService, logger *slog.Logger) *NipsaHandler {
	return &NipsaHandler{svc: svc, logger: logger}
}

// FlagResponse is returned by a successful flag.
type FlagResponse struct {
	UserID string `json:"user_id"`
}

// List handles GET /nipsa/user.
func (h *NipsaHandler) List(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.List(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

// Flag handles PUT /nipsa/user/{id}.
func (h *NipsaHandler) Flag(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Flag(r.Context(), userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, FlagResponse{UserID: userID})
}

// Unflag handles DELETE /nipsa/user/{id}. The body is JSON null.
func (h *NipsaHandler) Unflag(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	if err := h.svc.Unflag(r.Context(), userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// Read handles GET /nipsa/user/{id}: 200 with the ID as a JSON string when
// flagged, 404 with a JSON content type and an empty body otherwise.
func (h *NipsaHandler) Read(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	flagged, err := h.svc.IsFlagged(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !flagged {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, userID)
}

// userID returns the {id} path value decoded exactly once. chi matches on
// r.URL.RawPath when it is set and on the already decoded r.URL.Path
// otherwise, so only the raw form needs unescaping.
func (h *NipsaHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := chi.URLParam(r, "id")
	var err error
	if r.URL.RawPath != "" {
		userID, err = url.PathUnescape(userID)
	}
	if err != nil || userID == "" {
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id is required")
		return "", false
	}
	return userID, true
}

func (h *NipsaHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	switch {
	case errors.Is(err, service.ErrInvalidUserID):
		writeErrorJSON(w, http.StatusBadRequest, "INVALID_USER_ID", "user_id is required")
	case errors.Is(err, repository.ErrStorageUnavailable):
		h.logger.Error("denylist store unavailable", "request_id", requestID, "error", err)
		writeErrorJSON(w, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "denylist store unavailable")
	case errors.Is(err, queue.ErrChannelUnavailable):
		h.logger.Error("change channel unavailable", "request_id", requestID, "error", err)
		writeErrorJSON(w, http.StatusServiceUnavailable, "CHANNEL_UNAVAILABLE", "change saved but propagation could not be queued")
	default:
		h.logger.Error("unexpected error", "request_id", requestID, "error", err)
		writeErrorJSON(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
