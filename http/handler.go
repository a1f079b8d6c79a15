package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stephnangue/belfry/core"
	log "github.com/stephnangue/belfry/logger"
)

// HandlerProperties contains configuration for the HTTP handler
type HandlerProperties struct {
	Core     *core.Core
	Logger   *log.GatedLogger
	Sessions *SessionManager

	// Debug exposes internal error details in responses.
	Debug bool
}

type handlers struct {
	core     *core.Core
	logger   *log.GatedLogger
	sessions *SessionManager
	debug    bool
}

// Handler creates and returns the main HTTP handler for belfry.
func Handler(props *HandlerProperties) http.Handler {
	h := &handlers{
		core:     props.Core,
		logger:   props.Logger,
		sessions: props.Sessions,
		debug:    props.Debug,
	}

	r := chi.NewRouter()
	r.Use(middleware.StripSlashes)

	r.Get("/", h.handleIndex)
	r.Get("/resource/{id}", h.handleResourceGet)
	r.Post("/resource/{id}", h.handleResourcePost)

	r.Get("/admin", h.requireAdmin(h.handleAdminList))
	r.Post("/admin", h.requireAdmin(h.handleAdminPost))
	r.Post("/admin/reset", h.requireAdmin(h.handleAdminReset))
	r.Get("/admin/login", h.handleLoginGet)
	r.Post("/admin/login", h.handleLoginPost)
	r.Get("/admin/logout", h.handleLogout)

	return r
}

// handleIndex renders the token form, or the resource status page when
// a token is supplied.
func (h *handlers) handleIndex(w http.ResponseWriter, r *http.Request) {
	csrf, err := h.sessions.CSRFToken(w, r)
	if err != nil {
		h.internalError(w, r, nil, err)
		return
	}

	page := indexPage{CSRFToken: csrf}
	if token := r.URL.Query().Get("token"); token != "" {
		page.Token = token
		res, err := h.core.GetResource(r.Context(), token)
		switch {
		case err == nil:
			page.Resource = res
		case errors.Is(err, core.ErrUnknownResource):
			page.Message = "Unknown token."
		default:
			h.internalError(w, r, nil, err)
			return
		}
	}
	h.renderPage(w, http.StatusOK, "index.html", page)
}

// handleResourceGet is the status poll endpoint.
func (h *handlers) handleResourceGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	res, err := h.core.GetResource(r.Context(), id)
	switch {
	case err == nil:
		h.respond(w, r, http.StatusOK, id, res, "")
	case errors.Is(err, core.ErrUnknownResource):
		h.respond(w, r, http.StatusNotFound, id, nil, "")
	default:
		h.internalError(w, r, nil, err)
	}
}

// handleResourcePost rings the bell with the token, or deletes the
// token when action=delete.
func (h *handlers) handleResourcePost(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if r.PostFormValue("action") == "delete" {
		h.handleResourceDelete(w, r, id)
		return
	}

	res, err := h.core.GetResource(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrUnknownResource) {
			h.respond(w, r, http.StatusNotFound, id, nil, "")
			return
		}
		h.internalError(w, r, nil, err)
		return
	}

	// Machine tokens skip the CSRF check so bots can ring with a bare
	// POST.
	if !res.API && !h.sessions.CheckCSRF(r) {
		h.respond(w, r, http.StatusForbidden, id, res, "invalid csrf token")
		return
	}

	err = h.core.Activate(r.Context(), id)
	switch {
	case err == nil:
		current, getErr := h.core.GetResource(r.Context(), id)
		if getErr != nil {
			current = res
		}
		h.respond(w, r, http.StatusAccepted, id, current, "")
	case errors.Is(err, core.ErrUnknownResource):
		h.respond(w, r, http.StatusNotFound, id, nil, "")
	case errors.Is(err, core.ErrAlreadyInProgress):
		h.respond(w, r, http.StatusTooManyRequests, id, res, err.Error())
	default:
		if naErr, ok := core.IsNotActivatable(err); ok {
			h.respond(w, r, http.StatusForbidden, id, res, naErr.Error())
			return
		}
		h.internalError(w, r, res, err)
	}
}

func (h *handlers) handleResourceDelete(w http.ResponseWriter, r *http.Request, id string) {
	if !h.sessions.CheckCSRF(r) {
		h.respond(w, r, http.StatusForbidden, id, nil, "invalid csrf token")
		return
	}

	err := h.core.DeleteResource(r.Context(), id)
	switch {
	case err == nil:
		http.Redirect(w, r, "/", http.StatusFound)
	case errors.Is(err, core.ErrUnknownResource):
		h.respond(w, r, http.StatusNotFound, id, nil, "")
	case errors.Is(err, core.ErrResourceInUse):
		h.respond(w, r, http.StatusConflict, id, nil, err.Error())
	default:
		h.internalError(w, r, nil, err)
	}
}

// respond content-negotiates between the HTML status page and the JSON
// resource envelope. API resources prefer JSON, browser tokens prefer
// HTML, and a client that accepts neither gets 406.
func (h *handlers) respond(w http.ResponseWriter, r *http.Request, status int, token string, res *core.Resource, reason string) {
	htmlWeight, jsonWeight := acceptWeights(r.Header.Get("Accept"))

	writeHTML := func() {
		csrf, err := h.sessions.CSRFToken(w, r)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "internal error")
			return
		}
		h.renderPage(w, status, "index.html", indexPage{
			Token:     token,
			Resource:  res,
			Message:   reason,
			CSRFToken: csrf,
		})
	}
	writeJSON := func() {
		respondResource(w, status, res, reason)
	}

	switch {
	case res != nil && !res.API && htmlWeight > 0:
		writeHTML()
	case res != nil && res.API && jsonWeight > 0:
		writeJSON()
	case htmlWeight > 0 && htmlWeight >= jsonWeight:
		writeHTML()
	case jsonWeight > 0 && jsonWeight >= htmlWeight:
		writeJSON()
	default:
		respondError(w, http.StatusNotAcceptable, "not acceptable")
	}
}

func (h *handlers) internalError(w http.ResponseWriter, r *http.Request, res *core.Resource, err error) {
	h.logger.Error("request failed",
		log.String("method", r.Method),
		log.String("path", r.URL.Path),
		log.Err(err))

	reason := ""
	if h.debug {
		reason = err.Error()
	}
	h.respond(w, r, http.StatusInternalServerError, "", res, reason)
}
