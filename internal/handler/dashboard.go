package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keyforge/keyforge/internal/model"
	"github.com/keyforge/keyforge/internal/server/middleware"
	"github.com/keyforge/keyforge/internal/service"
)

// DashboardHandler serves the cookie-authenticated dashboard API used by the
// admin and by moderators.
type DashboardHandler struct {
	auth         *service.AuthService
	licenses     *service.LicenseService
	ledger       *service.LedgerService
	cookieSecure bool
	logger       *slog.Logger
}

// NewDashboardHandler creates a new DashboardHandler. cookieSecure marks the
// session cookie Secure and should be set when served over HTTPS.
func NewDashboardHandler(auth *service.AuthService, licenses *service.LicenseService, ledger *service.LedgerService, cookieSecure bool, logger *slog.Logger) *DashboardHandler {
	return &DashboardHandler{
		auth:         auth,
		licenses:     licenses,
		ledger:       ledger,
		cookieSecure: cookieSecure,
		logger:       logger,
	}
}

// ---------------------------------------------------------------------------
// Session
// ---------------------------------------------------------------------------

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// meResponse describes the caller. Debt is only set for moderators.
type meResponse struct {
	service.Identity
	Debt *model.Money `json:"debt,omitempty"`
}

// Login authenticates the admin or a moderator and sets the session cookie.
// Both JSON and HTML form bodies are accepted; form posts are answered with
// a redirect.
// POST /dashboard/session
func (h *DashboardHandler) Login(w http.ResponseWriter, r *http.Request) {
	form := isFormRequest(r)

	var req loginRequest
	if form {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid form body")
			return
		}
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	} else if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		if form {
			http.Redirect(w, r, middleware.LoginPath+"?error=missing", http.StatusSeeOther)
			return
		}
		writeError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	id, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if form && statusForError(err) == http.StatusUnauthorized {
			http.Redirect(w, r, middleware.LoginPath+"?error=invalid", http.StatusSeeOther)
			return
		}
		writeServiceError(w, h.logger, "Authentication error", err)
		return
	}

	token, expires, err := h.auth.IssueSession(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to issue session", err)
		return
	}
	h.setSessionCookie(w, token, expires)
	h.logger.Info("dashboard login", "role", id.Role, "username", id.Username)

	if form {
		http.Redirect(w, r, "/dashboard/me", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// Logout revokes the current session and clears the cookie.
// DELETE /dashboard/session
func (h *DashboardHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookie); err == nil {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			h.logger.Error("logout failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "Failed to revoke session")
			return
		}
	}
	h.setSessionCookie(w, "", time.Unix(0, 0))
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the caller's identity and, for moderators, their current debt.
// GET /dashboard/me
func (h *DashboardHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	resp := meResponse{Identity: id}
	if id.IsModerator() {
		debt, err := h.ledger.Debt(r.Context(), id, id.AccountID)
		if err != nil {
			writeServiceError(w, h.logger, "Failed to load debt", err)
			return
		}
		resp.Debt = &debt
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *DashboardHandler) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	c := &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	if token == "" {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

type deleteResponse struct {
	Removed int64 `json:"removed"`
}

// ListKeys returns keys visible to the caller, newest first.
// GET /dashboard/keys?prefix=
func (h *DashboardHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.licenses.ListKeys(r.Context(), identity(r), keyFilter(r))
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list keys", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: keys,
		Meta:     &model.ResponseMeta{Count: len(keys)},
	})
}

// GenerateKeys creates a batch of keys, charging moderators for them.
// POST /dashboard/keys
func (h *DashboardHandler) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req service.GenerateRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	result, err := h.licenses.Generate(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to generate keys", err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ExportKeys downloads the caller's keys as plain text, one per line.
// GET /dashboard/keys/export?prefix=
func (h *DashboardHandler) ExportKeys(w http.ResponseWriter, r *http.Request) {
	filter := keyFilter(r)
	body, err := h.licenses.ExportKeys(r.Context(), identity(r), filter)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to export keys", err)
		return
	}

	name := "keys.txt"
	if filter.Prefix != "" {
		name = filter.Prefix + "-keys.txt"
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(body))
}

// DeleteKey removes one key. Removing nothing is reported as removed=0.
// DELETE /dashboard/keys/{key}
func (h *DashboardHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	n, err := h.licenses.DeleteKey(r.Context(), identity(r), chi.URLParam(r, "key"))
	if err != nil {
		writeServiceError(w, h.logger, "Failed to delete key", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Removed: n})
}

// DeleteKeysByPrefix removes all keys whose prefix equals ?prefix= exactly.
// DELETE /dashboard/keys?prefix=
func (h *DashboardHandler) DeleteKeysByPrefix(w http.ResponseWriter, r *http.Request) {
	prefix := queryString(r, "prefix")
	if prefix == "" {
		writeError(w, http.StatusBadRequest, "Query parameter 'prefix' is required")
		return
	}
	n, err := h.licenses.DeleteByPrefix(r.Context(), identity(r), prefix)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to delete keys", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Removed: n})
}

// ---------------------------------------------------------------------------
// Moderators (admin)
// ---------------------------------------------------------------------------

// ListModerators returns all moderator accounts.
// GET /dashboard/moderators
func (h *DashboardHandler) ListModerators(w http.ResponseWriter, r *http.Request) {
	mods, err := h.ledger.ListModerators(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list moderators", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: mods,
		Meta:     &model.ResponseMeta{Count: len(mods)},
	})
}

// CreateModerator adds a moderator account.
// POST /dashboard/moderators
func (h *DashboardHandler) CreateModerator(w http.ResponseWriter, r *http.Request) {
	var req service.CreateModeratorRequest
	if err := readJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	req.Username = strings.TrimSpace(req.Username)

	m, err := h.ledger.CreateModerator(r.Context(), identity(r), req)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to create moderator", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

// DeleteModerator removes a moderator and every key they created.
// DELETE /dashboard/moderators/{id}
func (h *DashboardHandler) DeleteModerator(w http.ResponseWriter, r *http.Request) {
	n, err := h.ledger.DeleteModerator(r.Context(), identity(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "Failed to delete moderator", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteResponse{Removed: n})
}

// ClearDebt resets a moderator's debt and returns the updated account.
// POST /dashboard/moderators/{id}/clear-debt
func (h *DashboardHandler) ClearDebt(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	accountID := chi.URLParam(r, "id")
	if err := h.ledger.ClearDebt(r.Context(), id, accountID); err != nil {
		writeServiceError(w, h.logger, "Failed to clear debt", err)
		return
	}
	m, err := h.ledger.Moderator(r.Context(), id, accountID)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to load moderator", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// ---------------------------------------------------------------------------
// Prices
// ---------------------------------------------------------------------------

// ListPrices returns the configured tiers.
// GET /dashboard/prices
func (h *DashboardHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.ledger.ListPrices(r.Context(), identity(r))
	if err != nil {
		writeServiceError(w, h.logger, "Failed to list prices", err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: prices,
		Meta:     &model.ResponseMeta{Count: len(prices)},
	})
}

// UpsertPrices applies a batch of tier prices. Malformed rows are skipped
// and reported without failing the batch.
// PUT /dashboard/prices
func (h *DashboardHandler) UpsertPrices(w http.ResponseWriter, r *http.Request) {
	var entries []service.PriceEntry
	if err := readJSON(w, r, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: expected an array of prices")
		return
	}

	result, err := h.ledger.UpsertPrices(r.Context(), identity(r), entries)
	if err != nil {
		writeServiceError(w, h.logger, "Failed to update prices", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// identity returns the caller set by the Authenticate middleware. A missing
// identity yields the zero value, which every service operation rejects.
func identity(r *http.Request) service.Identity {
	id, _ := service.IdentityFrom(r.Context())
	return id
}

func keyFilter(r *http.Request) model.KeyFilter {
	return model.KeyFilter{
		Prefix:    queryString(r, "prefix"),
		CreatedBy: queryString(r, "created_by"),
	}
}

func isFormRequest(r *http.Request) bool {
	ct := r.Header.Get("Content-Type")
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") ||
		strings.HasPrefix(ct, "multipart/form-data")
}
