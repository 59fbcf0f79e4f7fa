package user

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/session"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/web"
)

// Handler serves the signup, login and logout pages.
type Handler struct {
	svc      *UserService
	sessions *session.Manager
	render   *web.Renderer
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func NewHandler(svc *UserService, sessions *session.Manager, render *web.Renderer, m *metrics.Metrics, logger *zap.SugaredLogger) *Handler {
	return &Handler{svc: svc, sessions: sessions, render: render, metrics: m, logger: logger}
}

func (h *Handler) SignupForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, "signup", web.Page{Title: "Sign up", Flash: session.TakeFlash(w, r)})
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}
	username := r.PostForm.Get("username")
	_, err := h.svc.SignupUser(r.Context(), username, r.PostForm.Get("password"), r.PostForm.Get("email"))
	switch {
	case err == nil:
		h.metrics.Auth("signup", "ok")
		h.logger.Infow("user signed up", "username", username)
		session.SetFlash(w, "Account created. You can now log in.")
	case errors.Is(err, ErrValidation):
		h.metrics.Auth("signup", "invalid")
		h.render.Render(w, http.StatusBadRequest, "signup", web.Page{Title: "Sign up", Error: "Username and password are required."})
		return
	case errors.Is(err, ErrAlreadyExists):
		h.metrics.Auth("signup", "exists")
		session.SetFlash(w, "User already exists.")
	default:
		h.metrics.Auth("signup", "error")
		h.logger.Errorw("signup failed", "err", err)
		h.render.Error(w, http.StatusInternalServerError, "Signup failed. Please try again later.")
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) LoginForm(w http.ResponseWriter, r *http.Request) {
	h.render.Render(w, http.StatusOK, "login", web.Page{Title: "Log in", Flash: session.TakeFlash(w, r)})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.render.Error(w, http.StatusBadRequest, "Could not read the submitted form.")
		return
	}
	username := r.PostForm.Get("username")
	u, err := h.svc.AuthenticatePassword(r.Context(), username, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			h.metrics.Auth("login", "failed")
			h.logger.Debugw("login failed", "username", username)
			h.render.Render(w, http.StatusUnauthorized, "login", web.Page{Title: "Log in", Flash: "Invalid credentials."})
			return
		}
		h.metrics.Auth("login", "error")
		h.logger.Errorw("login error", "err", err)
		h.render.Error(w, http.StatusInternalServerError, "Login failed. Please try again later.")
		return
	}
	if _, err := h.sessions.Login(r.Context(), w, u.ID, u.Username); err != nil {
		h.metrics.Auth("login", "error")
		h.logger.Errorw("create session", "err", err)
		h.render.Error(w, http.StatusInternalServerError, "Login failed. Please try again later.")
		return
	}
	h.metrics.Auth("login", "ok")
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(w, r); err != nil {
		h.logger.Warnw("logout", "err", err)
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
