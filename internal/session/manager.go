// Package session implements the login gate: a signed cookie naming a
// server-side session record.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/utilities"
)

var (
	ErrNoSession   = errors.New("no session")
	ErrShortSecret = errors.New("session secret must be at least 32 bytes")
)

const (
	defaultTTL      = 12 * time.Hour
	defaultCookie   = "lc_session"
	minSecretLength = 32
)

type Config struct {
	Secret     []byte
	TTL        time.Duration
	CookieName string
	Secure     bool
}

// claims carried in the cookie. The session id is the revocation handle.
type claims struct {
	SessionID string `json:"sid"`
	Username  string `json:"name"`
	jwt.RegisteredClaims
}

// Manager issues, reads and clears session cookies.
type Manager struct {
	cfg    Config
	store  Store
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewManager(cfg Config, store Store, logger *zap.SugaredLogger) (*Manager, error) {
	if len(cfg.Secret) < minSecretLength {
		return nil, ErrShortSecret
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookie
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{cfg: cfg, store: store, logger: logger, now: time.Now}, nil
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Login creates a session for the user and sets the cookie.
func (m *Manager) Login(ctx context.Context, w http.ResponseWriter, userID int64, username string) (*Session, error) {
	now := m.now().UTC()
	sess := &Session{
		ID:        utilities.NewKSUID(),
		UserID:    userID,
		Username:  username,
		LoggedIn:  true,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
	}
	if err := m.store.Save(ctx, sess, m.cfg.TTL); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	c := claims{
		SessionID: sess.ID,
		Username:  username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("sign session: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return sess, nil
}

// Current returns the authenticated session for the request or ErrNoSession.
func (m *Manager) Current(r *http.Request) (*Session, error) {
	sid, err := m.sessionID(r)
	if err != nil {
		return nil, err
	}
	sess, err := m.store.Get(r.Context(), sid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	if !sess.LoggedIn {
		return nil, ErrNoSession
	}
	return sess, nil
}

func (m *Manager) sessionID(r *http.Request) (string, error) {
	ck, err := r.Cookie(m.cfg.CookieName)
	if err != nil || ck.Value == "" {
		return "", ErrNoSession
	}
	var c claims
	_, err = jwt.ParseWithClaims(ck.Value, &c, func(t *jwt.Token) (any, error) {
		return m.cfg.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now), jwt.WithExpirationRequired())
	if err != nil || c.SessionID == "" {
		return "", ErrNoSession
	}
	return c.SessionID, nil
}

// Logout removes the server-side record (when the cookie is readable) and
// always clears the cookie, so repeated calls are harmless.
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) error {
	var err error
	if sid, sErr := m.sessionID(r); sErr == nil {
		err = m.store.Delete(r.Context(), sid)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return err
}

type ctxKey struct{}

// FromContext returns the session stored by RequireAuth.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok
}

// RequireAuth redirects unauthenticated requests to /login.
func (m *Manager) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := m.Current(r)
		if err != nil {
			if !errors.Is(err, ErrNoSession) {
				m.logger.Warnw("session lookup failed", "err", err)
			}
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}
