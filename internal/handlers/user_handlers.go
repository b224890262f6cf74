package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/identio/identio/internal/errs"
	"github.com/identio/identio/internal/service"
)

var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type UserHandlers struct {
	userService *service.UserService
	logger      *logrus.Logger
}

func NewUserHandlers(userService *service.UserService, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{
		userService: userService,
		logger:      logger,
	}
}

type RegisterRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *UserHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)

	if username == "" || email == "" || req.Password == "" {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username, email and password are required")
		return
	}

	if !emailRegex.MatchString(email) {
		h.respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
		return
	}

	if req.Password != req.ConfirmPassword {
		h.respondWithError(w, http.StatusBadRequest, "PASSWORD_MISMATCH", "Password does not match confirm password")
		return
	}

	user, err := h.userService.Register(r.Context(), username, email, req.Password)
	if err != nil {
		if errors.Is(err, errs.ErrUserExists) {
			h.respondWithError(w, http.StatusConflict, "USER_EXISTS", "A user with that username or email already exists")
			return
		}
		h.logger.WithError(err).Error("Failed to register user")
		h.respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to register user")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, user)
}

func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	user, err := h.userService.GetUser(r.Context(), userID)
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		h.logger.WithError(err).Error("Failed to get user")
		h.respondWithError(w, http.StatusInternalServerError, "LOOKUP_FAILED", "Failed to look up user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, user)
}

func (h *UserHandlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	if err := h.userService.DeleteUser(r.Context(), userID); err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			h.respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
			return
		}
		h.logger.WithError(err).Error("Failed to delete user")
		h.respondWithError(w, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandlers) respondWithError(w http.ResponseWriter, status int, code, message string) {
	h.respondWithJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

func (h *UserHandlers) respondWithJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}
