// Package web renders the HTML pages.
package web

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const layoutFile = "templates/layout.html"

// Page is the data every template receives.
type Page struct {
	Title    string
	Flash    string
	Error    string
	Username string
	Data     any
}

// Question is one yes/no survey item on the form page.
type Question struct {
	Name  string
	Label string
}

// SurveyQuestions lists the yes/no items after gender and age.
var SurveyQuestions = []Question{
	{"smoking", "Do you smoke?"},
	{"yellow_fingers", "Yellow fingers"},
	{"anxiety", "Anxiety"},
	{"peer_pressure", "Peer pressure"},
	{"chronic_disease", "Chronic disease"},
	{"fatigue", "Fatigue"},
	{"allergy", "Allergy"},
	{"wheezing", "Wheezing"},
	{"alcohol_consuming", "Alcohol consumption"},
	{"coughing", "Coughing"},
	{"shortness_of_breath", "Shortness of breath"},
	{"swallowing_difficulty", "Swallowing difficulty"},
	{"chest_pain", "Chest pain"},
}

// Renderer holds one parsed template set per page.
type Renderer struct {
	pages  map[string]*template.Template
	logger *zap.SugaredLogger
}

func NewRenderer(logger *zap.SugaredLogger) (*Renderer, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	files, err := fs.Glob(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(files))
	for _, f := range files {
		if f == layoutFile {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(f, "templates/"), ".html")
		t, err := template.ParseFS(templateFS, layoutFile, f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		pages[name] = t
	}
	return &Renderer{pages: pages, logger: logger}, nil
}

// Render writes the named page with the given status.
func (rd *Renderer) Render(w http.ResponseWriter, status int, name string, p Page) {
	t, ok := rd.pages[name]
	if !ok {
		rd.logger.Errorw("unknown template", "name", name)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		rd.logger.Errorw("render template", "name", name, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// Error renders the generic error page.
func (rd *Renderer) Error(w http.ResponseWriter, status int, msg string) {
	rd.Render(w, status, "error", Page{Title: http.StatusText(status), Data: msg})
}
