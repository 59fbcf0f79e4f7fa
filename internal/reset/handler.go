package reset

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/session"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/web"
)

// Handler serves the forgot-password and reset-password pages.
type Handler struct {
	svc    *Service
	render *web.Renderer
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, render *web.Renderer, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, render: render, logger: logger}
}

const invalidLink = "This reset link is invalid or has expired."

func (h *Handler) ForgotForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, "forgot_password", web.Page{Title: "Forgot password", Flash: session.TakeFlash(w, r)})
}

func (h *Handler) Forgot(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}
	err := h.svc.RequestReset(r.Context(), r.PostForm.Get("username"))
	switch {
	case err == nil:
		session.SetFlash(w, "A password reset link has been sent to the email address on file.")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case errors.Is(err, ErrUnknownAccount):
		h.render.Render(w, http.StatusNotFound, "forgot_password", web.Page{
			Title: "Forgot password",
			Error: "No account with an email address was found for that username.",
		})
	default:
		h.logger.Errorw("reset request failed", "err", err)
		h.render.Error(w, http.StatusInternalServerError, "Could not start the password reset. Please try again later.")
	}
}

func (h *Handler) ResetForm(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if _, err := h.svc.ValidateAndFetch(r.Context(), token); err != nil {
		h.fail(w, err)
		return
	}
	h.render.Render(w, http.StatusOK, "reset_password", web.Page{Title: "Reset password", Data: token})
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}
	token := r.PathValue("token")
	err := h.svc.ResetPassword(r.Context(), token, r.PostForm.Get("password"))
	if errors.Is(err, user.ErrValidation) {
		h.render.Render(w, http.StatusBadRequest, "reset_password", web.Page{
			Title: "Reset password",
			Error: "Please enter a new password.",
			Data:  token,
		})
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	session.SetFlash(w, "Your password has been reset. You can now log in.")
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrInvalidToken) {
		h.render.Error(w, http.StatusBadRequest, invalidLink)
		return
	}
	h.logger.Errorw("password reset failed", "err", err)
	h.render.Error(w, http.StatusInternalServerError, "Could not reset the password. Please try again later.")
}
