package views

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"vlog-serverless/internal/auth"
	"vlog-serverless/internal/observability"
)

type Handler struct {
	service *Service
	limiter *RateLimiter
}

func NewHandler(service *Service, limiter *RateLimiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// RecordView handles PUT /vlogs/{id}/view. A view is only ever counted through
// this endpoint; the vlog read handlers never touch the counter.
func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	contentID := r.PathValue("id")
	if _, err := uuid.Parse(contentID); err != nil {
		writeError(w, http.StatusBadRequest, "invalid vlog id")
		return
	}

	ip := observability.ClientIP(r)
	viewerID := deriveViewerID(r, ip)

	if allowed, retryAfter := h.limiter.Allow(ip, viewerID, time.Now().UTC()); !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "too many view requests")
		return
	}

	result, err := h.service.RecordView(r.Context(), contentID, viewerID)
	if err != nil {
		if errors.Is(err, ErrContentNotFound) {
			writeError(w, http.StatusNotFound, "vlog not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to record view")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// deriveViewerID prefers the authenticated principal id so views dedup per
// account across devices; anonymous viewers fall back to a hashed network
// address, which is stable within a window without storing the raw IP.
func deriveViewerID(r *http.Request, ip string) string {
	if principalID, ok := auth.PrincipalID(r.Context()); ok {
		return principalID
	}

	digest := sha256.Sum256([]byte(ip))
	return "anon-" + hex.EncodeToString(digest[:8])
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
