// Package reset issues, validates and consumes password reset tokens.
package reset

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/notify"
	resetrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/reset/repo"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
)

var (
	ErrInvalidToken   = errors.New("invalid or expired reset token")
	ErrUnknownAccount = errors.New("no account with an email address matches")
	ErrTokenCollision = errors.New("could not generate a unique reset token")
)

const (
	DefaultTTL  = time.Hour
	tokenBytes  = 32
	maxAttempts = 3
	savepoint   = "reset_token_insert"
)

type Config struct {
	TTL time.Duration
	// InvalidatePrior removes a user's outstanding tokens whenever a new one
	// is issued.
	InvalidatePrior bool
	// BaseURL prefixes the emailed link, e.g. https://example.org.
	BaseURL string
}

// Enqueuer accepts outgoing mail without blocking the caller.
type Enqueuer interface {
	Enqueue(msg notify.Message) bool
}

type Service struct {
	db      *sqlx.DB
	users   *user.UserService
	mail    Enqueuer
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.SugaredLogger
	now     func() time.Time
	random  io.Reader
}

func NewService(db *sqlx.DB, users *user.UserService, mail Enqueuer, cfg Config, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{
		db:      db,
		users:   users,
		mail:    mail,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		random:  rand.Reader,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// TTL returns the configured token lifetime.
func (s *Service) TTL() time.Duration { return s.cfg.TTL }

// Link returns the URL a user follows to redeem token.
func (s *Service) Link(token string) string {
	return s.cfg.BaseURL + "/reset-password/" + token
}

func (s *Service) generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue creates and persists a fresh token for the user.
func (s *Service) Issue(ctx context.Context, userID int64) (*Token, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r := resetrepo.NewResetRepo(tx)
	if s.cfg.InvalidatePrior {
		n, err := r.DeleteForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			s.logger.Debugw("invalidated prior reset tokens", "user_id", userID, "count", n)
		}
	} else if err := s.purgeExpired(ctx, r, userID, now); err != nil {
		return nil, err
	}

	tok := &Token{UserID: userID, ExpiresAt: now.Add(s.cfg.TTL), CreatedAt: now}
	for attempt := 1; ; attempt++ {
		if tok.Token, err = s.generate(); err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+savepoint); err != nil {
			return nil, fmt.Errorf("savepoint: %w", err)
		}
		tok.ID, err = r.Save(ctx, userID, tok.Token, tok.ExpiresAt, tok.CreatedAt)
		if err == nil {
			break
		}
		if !errors.Is(err, database.ErrDuplicate) {
			return nil, err
		}
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+savepoint); rbErr != nil {
			return nil, fmt.Errorf("rollback savepoint: %w", rbErr)
		}
		s.logger.Warnw("reset token collision", "attempt", attempt)
		if attempt >= maxAttempts {
			return nil, ErrTokenCollision
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	s.metrics.Reset("issued")
	return tok, nil
}

// purgeExpired drops the user's tokens that can no longer be redeemed.
func (s *Service) purgeExpired(ctx context.Context, r *resetrepo.ResetRepo, userID int64, now time.Time) error {
	rows, err := r.ListForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if fromRow(&row).ValidAt(now) {
			continue
		}
		if err := r.DeleteByID(ctx, row.ID); err != nil {
			return fmt.Errorf("purge expired token: %w", err)
		}
	}
	return nil
}

// RequestReset issues a token for the named account and queues the email.
// Accounts that do not exist or have no email get ErrUnknownAccount and no
// token.
func (s *Service) RequestReset(ctx context.Context, username string) error {
	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			s.metrics.Reset("unknown_account")
			return ErrUnknownAccount
		}
		return err
	}
	if !u.HasEmail() {
		s.metrics.Reset("unknown_account")
		return ErrUnknownAccount
	}

	tok, err := s.Issue(ctx, u.ID)
	if err != nil {
		return err
	}
	msg := notify.ResetMessage(*u.Email, u.Username, s.Link(tok.Token), s.cfg.TTL)
	if s.mail == nil || !s.mail.Enqueue(msg) {
		s.logger.Warnw("reset email not queued", "user_id", u.ID)
	}
	s.logger.Infow("reset token issued", "user_id", u.ID, "expires_at", tok.ExpiresAt)
	return nil
}

// ValidateAndFetch returns the user a live token belongs to without
// consuming it.
func (s *Service) ValidateAndFetch(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	row, err := resetrepo.NewResetRepo(s.db).Get(ctx, token)
	if err != nil {
		if errors.Is(err, resetrepo.ErrNotFound) {
			s.metrics.Reset("rejected")
			return 0, ErrInvalidToken
		}
		return 0, err
	}
	if !fromRow(row).ValidAt(s.now()) {
		s.metrics.Reset("rejected")
		return 0, ErrInvalidToken
	}
	return row.UserID, nil
}

// Consume sets the new password hash and deletes the token in one
// transaction. Of two concurrent consumers only one succeeds.
func (s *Service) Consume(ctx context.Context, token, hash, algo string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	r := resetrepo.NewResetRepo(tx)
	row, err := r.Get(ctx, token)
	if err != nil {
		if errors.Is(err, resetrepo.ErrNotFound) {
			s.metrics.Reset("rejected")
			return ErrInvalidToken
		}
		return err
	}
	if !fromRow(row).ValidAt(s.now()) {
		s.metrics.Reset("rejected")
		return ErrInvalidToken
	}

	if err := userrepo.NewUserRepo(tx).UpdatePassword(ctx, row.UserID, hash, algo); err != nil {
		return err
	}
	n, err := r.Delete(ctx, token)
	if err != nil {
		return err
	}
	if n != 1 {
		s.metrics.Reset("rejected")
		return ErrInvalidToken
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.metrics.Reset("consumed")
	s.logger.Infow("password reset", "user_id", row.UserID)
	return nil
}

// ResetPassword hashes newPassword and consumes the token. A dead token is
// reported as ErrInvalidToken whatever the submitted password.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if _, err := s.ValidateAndFetch(ctx, token); err != nil {
		return err
	}
	if newPassword == "" {
		return user.ErrValidation
	}
	hash, algo, err := s.users.Hasher().Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.Consume(ctx, token, hash, algo)
}
