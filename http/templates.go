package http

import (
	"embed"
	"html/template"
	"net/http"

	"github.com/stephnangue/belfry/core"
	"github.com/stephnangue/belfry/helper"
	log "github.com/stephnangue/belfry/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").
	Funcs(template.FuncMap{"fmtms": helper.FormatMilliseconds}).
	ParseFS(templateFS, "templates/*.html"))

type indexPage struct {
	Token     string
	Resource  *core.Resource
	Message   string
	CSRFToken string
}

type loginPage struct {
	Failed    bool
	CSRFToken string
}

type adminPage struct {
	Items          []*core.Resource
	NewToken       string
	OldToken       string
	FailedInCreate bool
	FailedInDelete bool
	CSRFToken      string
}

func (h *handlers) renderPage(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		h.logger.Error("failed to render template",
			log.String("template", name),
			log.Err(err))
	}
}
