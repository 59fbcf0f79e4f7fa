package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-lungcheck/pkg/database"
)

// PasswordHasher defines minimal hashing interface (abstract so we can swap to argon2 later).
type PasswordHasher interface {
	Hash(pw string) (hash string, algo string, err error)
	Verify(hash, pw string) bool
	NeedsRehash(hash string) bool
}

// BcryptHasher implementation.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) cost() int {
	if b.Cost == 0 {
		return bcrypt.DefaultCost
	}
	return b.Cost
}

func (b BcryptHasher) Hash(pw string) (string, string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pw), b.cost())
	if err != nil {
		return "", "", err
	}
	return string(h), fmt.Sprintf("bcrypt:%d", b.cost()), nil
}

func (b BcryptHasher) Verify(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}

func (b BcryptHasher) NeedsRehash(hash string) bool {
	c, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return c != b.cost()
}

var (
	ErrValidation     = errors.New("username and password are required")
	ErrAlreadyExists  = errors.New("user already exists")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrUserNotFound   = errors.New("user not found")
)

// UserService orchestrates account creation and password authentication.
type UserService struct {
	repo   *userrepo.UserRepo
	hasher PasswordHasher
	logger *zap.SugaredLogger
	// compared against when the username is unknown so both failure paths
	// cost one bcrypt verification
	dummyHash string
}

func NewUserService(db *sqlx.DB, r *userrepo.UserRepo, hasher PasswordHasher, logger *zap.SugaredLogger) *UserService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	if hasher == nil {
		hasher = BcryptHasher{Cost: 12}
	}
	dummy, _, _ := hasher.Hash("lungcheck-dummy-password")
	return &UserService{repo: r, hasher: hasher, logger: logger, dummyHash: dummy}
}

// Hasher exposes the configured hasher to flows that set passwords elsewhere.
func (s *UserService) Hasher() PasswordHasher { return s.hasher }

// SignupUser creates a user with password (hashing inside). Username matching
// is exact and case-sensitive. Email is optional; without one the account
// cannot use password reset.
func (s *UserService) SignupUser(ctx context.Context, username, password, email string) (int64, error) {
	if username == "" || password == "" {
		return 0, ErrValidation
	}
	hash, algo, err := s.hasher.Hash(password)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}
	u := &entity.User{
		Username:     username,
		PasswordHash: hash,
		PasswordAlgo: &algo,
	}
	if e := strings.TrimSpace(email); e != "" {
		e = strings.ToLower(e)
		u.Email = &e
	}
	id, err := s.repo.Create(ctx, u)
	if err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return 0, ErrAlreadyExists
		}
		return 0, err
	}
	return id, nil
}

// AuthenticatePassword verifies the credentials and returns the user. Unknown
// users and wrong passwords both yield ErrBadCredentials.
func (s *UserService) AuthenticatePassword(ctx context.Context, username, password string) (*entity.User, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, password)
			return nil, ErrBadCredentials
		}
		return nil, err
	}
	if u.PasswordHash == "" || !s.hasher.Verify(u.PasswordHash, password) {
		return nil, ErrBadCredentials
	}

	// upgrade hashes created with a different cost; the login stands either way
	if s.hasher.NeedsRehash(u.PasswordHash) {
		newHash, algo, hErr := s.hasher.Hash(password)
		if hErr == nil {
			hErr = s.repo.UpdatePassword(ctx, u.ID, newHash, algo)
		}
		if hErr != nil {
			s.logger.Warnw("password rehash failed", "user_id", u.ID, "error", hErr)
		}
	}
	return u, nil
}

// FindByUsername looks up an account for flows that need the email on file.
func (s *UserService) FindByUsername(ctx context.Context, username string) (*entity.User, error) {
	u, err := s.repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}
