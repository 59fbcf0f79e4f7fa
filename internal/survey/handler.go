package survey

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/session"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/web"
)

// Handler serves the gated home, survey and prediction pages.
type Handler struct {
	svc    *Service
	render *web.Renderer
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, render *web.Renderer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, render: render, logger: logger}
}

func page(w http.ResponseWriter, r *http.Request, title string, data any) web.Page {
	p := web.Page{Title: title, Flash: session.TakeFlash(w, r), Data: data}
	if s, ok := session.FromContext(r.Context()); ok {
		p.Username = s.Username
	}
	return p
}

func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, "index", page(w, r, "Home", nil))
}

func (h *Handler) Form(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, "form", page(w, r, "Survey", web.SurveyQuestions))
}

func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}
	f, err := ParseForm(r.PostForm)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			h.render.Error(w, http.StatusBadRequest, "Prediction error: "+ve.Error())
			return
		}
		h.render.Error(w, http.StatusBadRequest, "Prediction error.")
		return
	}
	res, err := h.svc.Predict(r.Context(), f)
	if err != nil {
		h.logger.Errorw("prediction failed", "err", err)
		h.render.Error(w, http.StatusInternalServerError, "Prediction error: the risk model is unavailable.")
		return
	}
	h.logger.Infow("prediction", "record", res.RecordID, "prediction", res.Prediction)
	h.render.Render(w, http.StatusOK, "prediction", page(w, r, "Result", res.Label))
}
