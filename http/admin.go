package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stephnangue/belfry/core"
	log "github.com/stephnangue/belfry/logger"
)

// requireAdmin gates a handler behind the admin session, redirecting to
// the login page like any browser-facing admin surface.
func (h *handlers) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := h.sessions.CurrentUser(r); !ok {
			http.Redirect(w, r, "/admin/login", http.StatusFound)
			return
		}
		next(w, r)
	}
}

func (h *handlers) handleLoginGet(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.sessions.CurrentUser(r); ok {
		http.Redirect(w, r, "/admin", http.StatusFound)
		return
	}
	csrf, err := h.sessions.CSRFToken(w, r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.renderPage(w, http.StatusOK, "login.html", loginPage{CSRFToken: csrf})
}

func (h *handlers) handleLoginPost(w http.ResponseWriter, r *http.Request) {
	csrf, err := h.sessions.CSRFToken(w, r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !h.sessions.CheckCSRF(r) {
		h.renderPage(w, http.StatusForbidden, "login.html", loginPage{Failed: true, CSRFToken: csrf})
		return
	}

	username := r.PostFormValue("username")
	if !h.sessions.VerifyLogin(username, r.PostFormValue("password")) {
		h.logger.Warn("admin login failed", log.String("username", username))
		h.renderPage(w, http.StatusUnauthorized, "login.html", loginPage{Failed: true, CSRFToken: csrf})
		return
	}

	h.sessions.IssueSession(w, username)
	h.logger.Info("admin logged in", log.String("username", username))
	http.Redirect(w, r, "/admin", http.StatusFound)
}

func (h *handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.sessions.ClearSession(w)
	http.Redirect(w, r, "/admin/login", http.StatusFound)
}

func (h *handlers) renderAdminList(w http.ResponseWriter, r *http.Request, status int, page adminPage) {
	csrf, err := h.sessions.CSRFToken(w, r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	page.CSRFToken = csrf

	items, err := h.core.ListResources(r.Context())
	if err != nil {
		h.logger.Error("failed to list resources", log.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	page.Items = items
	h.renderPage(w, status, "generate.html", page)
}

func (h *handlers) handleAdminList(w http.ResponseWriter, r *http.Request) {
	h.renderAdminList(w, r, http.StatusOK, adminPage{})
}

func (h *handlers) handleAdminPost(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.CheckCSRF(r) {
		respondError(w, http.StatusForbidden, "invalid csrf token")
		return
	}
	if r.PostFormValue("action") == "delete" {
		h.handleAdminDelete(w, r)
		return
	}
	h.handleAdminCreate(w, r)
}

func (h *handlers) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	err := h.core.DeleteResource(r.Context(), token)
	if err != nil {
		h.logger.Warn("failed to delete resource",
			log.String("resource_id", token),
			log.Err(err))
		h.renderAdminList(w, r, http.StatusOK, adminPage{OldToken: token, FailedInDelete: true})
		return
	}
	h.renderAdminList(w, r, http.StatusOK, adminPage{OldToken: token})
}

// parseWindowField reads an optional datetime-local form value.
func parseWindowField(r *http.Request, name string) (*time.Time, error) {
	value := r.PostFormValue(name)
	if value == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02T15:04", value, time.UTC)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02T15:04:05", value, time.UTC)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (h *handlers) handleAdminCreate(w http.ResponseWriter, r *http.Request) {
	fail := func(err error) {
		h.logger.Warn("failed to create resource", log.Err(err))
		h.renderAdminList(w, r, http.StatusOK, adminPage{FailedInCreate: true})
	}

	milliseconds, err := strconv.ParseInt(r.PostFormValue("milliseconds"), 10, 64)
	if err != nil {
		fail(err)
		return
	}
	notBefore, err := parseWindowField(r, "not_before")
	if err != nil {
		fail(err)
		return
	}
	notAfter, err := parseWindowField(r, "not_after")
	if err != nil {
		fail(err)
		return
	}

	res, err := h.core.CreateResource(r.Context(), &core.CreateRequest{
		Milliseconds: milliseconds,
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		Sticky:       r.PostFormValue("sticky") != "",
		API:          r.PostFormValue("api") != "",
	})
	if err != nil {
		if !errors.Is(err, core.ErrInvalidParameters) {
			h.logger.Error("failed to store resource", log.Err(err))
		}
		fail(err)
		return
	}
	h.renderAdminList(w, r, http.StatusOK, adminPage{NewToken: res.ID})
}

func (h *handlers) handleAdminReset(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.CheckCSRF(r) {
		respondError(w, http.StatusForbidden, "invalid csrf token")
		return
	}
	if _, err := h.core.ResetSamples(r.Context()); err != nil {
		h.logger.Error("failed to reset samples", log.Err(err))
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	h.renderAdminList(w, r, http.StatusOK, adminPage{})
}
