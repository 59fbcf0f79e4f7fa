package setting

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/setting/repo"
)

const (
	CategorySecurity = "security"
	// SessionSecretID is the settings row holding the cookie signing key.
	SessionSecretID = "session_secret"
	secretBytes     = 48
)

// sentinel errors for common failure modes
var (
	ErrNotFound = errors.New("not found")
)

// Service owns the settings rows the application provisions for itself.
type Service struct {
	repo   *repo.Repo
	logger *zap.SugaredLogger
}

// NewService constructs a Service with the provided database.
func NewService(db *sqlx.DB, logger *zap.SugaredLogger) *Service {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Service{repo: repo.NewRepo(db), logger: logger}
}

// Get returns a setting by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Setting, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

// EnsureSessionSecret returns the persisted session signing key, creating it
// on first use. Concurrent first starts agree on a single key.
func (s *Service) EnsureSessionSecret(ctx context.Context) ([]byte, error) {
	st, err := s.Get(ctx, SessionSecretID)
	if err == nil {
		return decodeSecret(st.Value)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	b := make([]byte, secretBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	st = entity.NewSetting(SessionSecretID, CategorySecurity, base64.StdEncoding.EncodeToString(b))
	st.CreatedAt = time.Now().UTC()
	st.UpdatedAt = st.CreatedAt
	created, err := s.repo.CreateIfAbsent(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("store session secret: %w", err)
	}
	if created {
		s.logger.Infow("generated session secret")
		return b, nil
	}
	st, err = s.Get(ctx, SessionSecretID)
	if err != nil {
		return nil, err
	}
	return decodeSecret(st.Value)
}

func decodeSecret(v string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("decode session secret: %w", err)
	}
	return b, nil
}
