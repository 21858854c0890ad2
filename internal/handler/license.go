package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/keyforge/keyforge/internal/service"
)

// LicenseHandler serves the public activation and verification API used by
// client software. Responses use a flat {"error": "..."} body.
type LicenseHandler struct {
	licenses *service.LicenseService
	logger   *slog.Logger
}

// NewLicenseHandler creates a new LicenseHandler.
func NewLicenseHandler(licenses *service.LicenseService, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{licenses: licenses, logger: logger}
}

type keyRequest struct {
	Key string `json:"key"`
}

const (
	msgKeyRequired   = "License key is required"
	msgNotFound      = "License key not found"
	msgAlreadyActive = "License key already activated"
	msgNotActivated  = "License key has not been activated"
	msgExpired       = "License key has expired"
	msgInternal      = "Internal server error"
)

// Activate binds an unactivated key to its expiration date.
// POST /api/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	key, ok := h.readKey(w, r)
	if !ok {
		return
	}

	result, err := h.licenses.Activate(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, service.ErrValidation):
		writePublicError(w, http.StatusBadRequest, msgKeyRequired)
	case errors.Is(err, service.ErrNotFound):
		writePublicError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, service.ErrAlreadyActive):
		writePublicError(w, http.StatusNotFound, msgAlreadyActive)
	default:
		h.logger.Error("activate failed", "error", err)
		writePublicError(w, http.StatusInternalServerError, msgInternal)
	}
}

// Verify reports whether a key is activated and unexpired. Invalid keys are
// a 200 with valid=false.
// POST /api/verify
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	key, ok := h.readKey(w, r)
	if !ok {
		return
	}

	result, err := h.licenses.Verify(r.Context(), key)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, service.ErrValidation):
		writePublicError(w, http.StatusBadRequest, msgKeyRequired)
	case errors.Is(err, service.ErrNotFound):
		writeJSON(w, http.StatusOK, service.VerifyResult{Valid: false, Message: msgNotFound})
	case errors.Is(err, service.ErrNotActivated):
		writeJSON(w, http.StatusOK, service.VerifyResult{Valid: false, Message: msgNotActivated})
	case errors.Is(err, service.ErrExpired):
		writeJSON(w, http.StatusOK, service.VerifyResult{Valid: false, Message: msgExpired})
	default:
		h.logger.Error("verify failed", "error", err)
		writePublicError(w, http.StatusInternalServerError, msgInternal)
	}
}

func (h *LicenseHandler) readKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req keyRequest
	if err := readJSON(w, r, &req); err != nil {
		writePublicError(w, http.StatusBadRequest, "Invalid request body")
		return "", false
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		writePublicError(w, http.StatusBadRequest, msgKeyRequired)
		return "", false
	}
	return key, true
}
