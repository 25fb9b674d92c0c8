package vlog

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"vlog-serverless/internal/auth"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	repo *Repository
}

func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// ListVlogs and GetVlog are pure reads. Fetching a vlog never bumps its view
// counter; that happens only through the explicit view endpoint.
func (h *Handler) ListVlogs(w http.ResponseWriter, r *http.Request) {
	vlogs, err := h.repo.List(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to list vlogs")
		return
	}

	writeJSON(w, http.StatusOK, vlogs)
}

func (h *Handler) GetVlog(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid vlog id")
		return
	}

	v, err := h.repo.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "vlog not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to get vlog")
		return
	}

	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) CreateVlog(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.PrincipalID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}

	input, ok := parseInput(w, r)
	if !ok {
		return
	}

	v, err := h.repo.Create(r.Context(), ownerID, input)
	if err != nil {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to create vlog")
		return
	}

	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) DeleteVlog(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := auth.PrincipalID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing principal")
		return
	}

	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid vlog id")
		return
	}

	if err := h.repo.Delete(r.Context(), id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "vlog not found")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to delete vlog")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseInput(w http.ResponseWriter, r *http.Request) (VlogInput, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var input VlogInput
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return VlogInput{}, false
	}

	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	input.ImageURL = strings.TrimSpace(input.ImageURL)

	if input.Title == "" || utf8.RuneCountInString(input.Title) > 140 {
		writeError(w, http.StatusBadRequest, "title must be 1-140 characters")
		return VlogInput{}, false
	}
	if utf8.RuneCountInString(input.Description) > 5000 {
		writeError(w, http.StatusBadRequest, "description is too long")
		return VlogInput{}, false
	}

	return input, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
