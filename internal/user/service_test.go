package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/dbtest"
	userrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/user/repo"
)

func newService(t *testing.T) (*UserService, *userrepo.UserRepo) {
	t.Helper()
	db := dbtest.New(t)
	r := userrepo.NewUserRepo(db)
	return NewUserService(db, r, BcryptHasher{Cost: bcrypt.MinCost}, nil), r
}

func TestSignupAndAuthenticate(t *testing.T) {
	svc, r := newService(t)
	ctx := context.Background()

	id, err := svc.SignupUser(ctx, "alice", "s3cret", " Alice@Example.org ")
	require.NoError(t, err)
	assert.Positive(t, id)

	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", u.PasswordHash)
	require.NotNil(t, u.Email)
	assert.Equal(t, "alice@example.org", *u.Email)
	require.NotNil(t, u.PasswordAlgo)
	assert.Equal(t, "bcrypt:4", *u.PasswordAlgo)

	got, err := svc.AuthenticatePassword(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, id, got.ID)
}

func TestSignupValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.SignupUser(ctx, "", "pw", "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = svc.SignupUser(ctx, "bob", "", "")
	require.ErrorIs(t, err, ErrValidation)
}

func TestSignupDuplicateIsCaseSensitive(t *testing.T) {
	svc, r := newService(t)
	ctx := context.Background()

	lower, err := svc.SignupUser(ctx, "alice", "one", "")
	require.NoError(t, err)
	_, err = svc.SignupUser(ctx, "alice", "two", "")
	require.ErrorIs(t, err, ErrAlreadyExists)

	upper, err := svc.SignupUser(ctx, "Alice", "three", "")
	require.NoError(t, err)
	assert.NotEqual(t, lower, upper)

	u, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, lower, u.ID)

	// the first password still works
	_, err = svc.AuthenticatePassword(ctx, "alice", "one")
	require.NoError(t, err)
}

func TestAuthenticateFailures(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.SignupUser(ctx, "alice", "s3cret", "")
	require.NoError(t, err)

	_, err = svc.AuthenticatePassword(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.AuthenticatePassword(ctx, "nobody", "s3cret")
	require.ErrorIs(t, err, ErrBadCredentials)
	_, err = svc.AuthenticatePassword(ctx, "ALICE", "s3cret")
	require.ErrorIs(t, err, ErrBadCredentials)
}

func TestAuthenticateRehashesOnCostChange(t *testing.T) {
	db := dbtest.New(t)
	r := userrepo.NewUserRepo(db)
	ctx := context.Background()

	old := NewUserService(db, r, BcryptHasher{Cost: bcrypt.MinCost}, nil)
	id, err := old.SignupUser(ctx, "alice", "s3cret", "")
	require.NoError(t, err)

	upgraded := NewUserService(db, r, BcryptHasher{Cost: bcrypt.MinCost + 1}, nil)
	_, err = upgraded.AuthenticatePassword(ctx, "alice", "s3cret")
	require.NoError(t, err)

	u, err := r.GetByID(ctx, id)
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(u.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.MinCost+1, cost)
	assert.NotNil(t, u.PasswordUpdatedAt)
}

func TestAuthenticateLogsFailedRehash(t *testing.T) {
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "sqlmock")

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	cols := []string{"id", "username", "password_hash", "password_algo", "email", "created_at", "password_updated_at"}
	mock.ExpectQuery(`SELECT .* FROM users WHERE username = \?`).WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(7), "alice", string(hash), "bcrypt:4", nil, time.Now(), nil))
	mock.ExpectExec(`UPDATE users SET password_hash`).WillReturnError(errors.New("disk full"))

	core, logs := observer.New(zapcore.WarnLevel)
	svc := NewUserService(db, nil, BcryptHasher{Cost: bcrypt.MinCost + 1}, zap.New(core).Sugar())

	// the login succeeds even though the upgraded hash was not stored
	u, err := svc.AuthenticatePassword(context.Background(), "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, int64(7), u.ID)
	require.NoError(t, mock.ExpectationsWereMet())

	entries := logs.FilterMessage("password rehash failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(7), entries[0].ContextMap()["user_id"])
	assert.Contains(t, entries[0].ContextMap()["error"], "disk full")
}

func TestFindByUsername(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	_, err := svc.FindByUsername(ctx, "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)

	_, err = svc.SignupUser(ctx, "carol", "pw", "carol@example.org")
	require.NoError(t, err)
	u, err := svc.FindByUsername(ctx, "carol")
	require.NoError(t, err)
	assert.True(t, u.HasEmail())
}

func TestUpdatePasswordUnknownUser(t *testing.T) {
	_, r := newService(t)
	require.ErrorIs(t, r.UpdatePassword(context.Background(), 999, "h", "a"), userrepo.ErrNotFound)
}
