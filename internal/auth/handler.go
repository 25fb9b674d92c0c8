package auth

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"

	"vlog-serverless/internal/observability"
)

var usernameRegex = regexp.MustCompile(`^[a-z0-9_.-]{3,32}$`)
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

const (
	maxJSONBodyBytes  = 1 << 20
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/auth"
	loginAgainMessage = "please log in again"
	minPasswordLength = 8
	maxPasswordLength = 200
	maxDisplayNameLen = 64
)

type Handler struct {
	service      *Service
	logger       *observability.Logger
	cookieSecure bool
	refreshTTL   time.Duration
}

func NewHandler(service *Service, logger *observability.Logger, cookieSecure bool, refreshTTL time.Duration) *Handler {
	return &Handler{
		service:      service,
		logger:       logger,
		cookieSecure: cookieSecure,
		refreshTTL:   refreshTTL,
	}
}

type registerRequest struct {
	Email       string `json:"email"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	Tokens
	User Profile `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body registerRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusBadRequest, "email format is invalid")
		return
	}
	if !usernameRegex.MatchString(body.Username) {
		writeError(w, http.StatusBadRequest, "username format is invalid")
		return
	}
	if len(body.Password) < minPasswordLength || len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}
	if len(body.DisplayName) > maxDisplayNameLen {
		writeError(w, http.StatusBadRequest, "display name is too long")
		return
	}

	principal, tokens, err := h.service.Register(r.Context(), body.Email, body.Username, body.Password, body.DisplayName)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email or username already taken")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusCreated, sessionResponse{Tokens: tokens, User: principal.PublicProfile()})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	principal, tokens, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		var lockedErr ErrLoginLocked
		if errors.As(err, &lockedErr) {
			retryAfter := int(time.Until(lockedErr.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "login temporarily locked")
			return
		}

		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusOK, sessionResponse{Tokens: tokens, User: principal.PublicProfile()})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	rawToken, ok := h.presentedRefreshToken(w, r)
	if !ok {
		return
	}

	tokens, err := h.service.Rotate(r.Context(), rawToken)
	if err != nil {
		// Reuse detection and plain revocation get the same client-facing
		// message; the distinction lives in logs only, so an outside observer
		// cannot tell a contained theft from an ordinary logout.
		switch {
		case errors.Is(err, ErrTokenReuseDetected):
			h.logger.Error("refresh_token_reuse_detected", map[string]any{"ip": observability.ClientIP(r)})
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, loginAgainMessage)
		case errors.Is(err, ErrSessionRevoked):
			h.logger.Info("refresh_rejected_session_revoked", map[string]any{"ip": observability.ClientIP(r)})
			h.clearRefreshCookie(w)
			writeError(w, http.StatusUnauthorized, loginAgainMessage)
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrPrincipalNotFound):
			writeError(w, http.StatusUnauthorized, loginAgainMessage)
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to refresh token")
		}
		return
	}

	h.setRefreshCookie(w, tokens.RefreshToken)
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	rawToken, ok := h.presentedRefreshToken(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), rawToken); err != nil {
		switch {
		case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrPrincipalNotFound):
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
		default:
			sentry.CaptureException(err)
			writeError(w, http.StatusInternalServerError, "failed to logout")
		}
		return
	}

	h.clearRefreshCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// presentedRefreshToken reads the refresh token from the JSON body, falling
// back to the auth cookie for browser clients.
func (h *Handler) presentedRefreshToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body refreshRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return "", false
	}

	if body.RefreshToken != "" {
		return body.RefreshToken, true
	}

	cookie, err := r.Cookie(refreshCookieName)
	if err != nil || cookie.Value == "" {
		writeError(w, http.StatusUnauthorized, "missing refresh token")
		return "", false
	}

	return cookie.Value, true
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     refreshCookiePath,
		MaxAge:   int(h.refreshTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
