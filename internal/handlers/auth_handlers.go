package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/service"
)

type AuthHandlers struct {
	authenticator *service.Authenticator
	logger        *logrus.Logger
}

func NewAuthHandlers(authenticator *service.Authenticator, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authenticator: authenticator,
		logger:        logger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password are required")
		return
	}

	pair, err := h.authenticator.Login(r.Context(), username, req.Password)
	if err != nil {
		h.respondAuthFailure(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	pair, err := h.authenticator.Rotate(r.Context(), req.RefreshToken)
	if err != nil {
		h.respondAuthFailure(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, pair)
}

func (h *AuthHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	if err := h.authenticator.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondAuthFailure(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every token of the authenticated caller. The route sits
// behind the access-token middleware, which stores the user id in context.
func (h *AuthHandlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)
	if userID == "" {
		h.respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing authenticated user")
		return
	}

	if err := h.authenticator.LogoutEverywhere(r.Context(), userID); err != nil {
		h.respondAuthFailure(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// respondAuthFailure maps the fault classification onto HTTP: user faults
// carry their specific message with 401, server faults hide the detail
// behind a generic retryable message. Internal detail is logged only.
func (h *AuthHandlers) respondAuthFailure(w http.ResponseWriter, err error) {
	if errs.IsUserFault(err) {
		var authErr *errs.AuthError
		message := "Authentication failed"
		if errors.As(err, &authErr) {
			message = authErr.Message
		}
		h.respondWithError(w, http.StatusUnauthorized, "AUTHENTICATION_FAILED", message)
		return
	}

	h.logger.WithError(err).Error("Authentication request failed on the server side")
	h.respondWithError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Temporary failure, please try again")
}

func (h *AuthHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func (h *AuthHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
