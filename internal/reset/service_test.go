package reset

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/dbtest"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/notify"
	resetrepo "github.com/ovaphlow/pitchfork/service-lungcheck/internal/reset/repo"
	"github.com/ovaphlow/pitchfork/service-lungcheck/internal/user"
)

type fakeMail struct {
	mu     sync.Mutex
	reject bool
	sent   []notify.Message
}

func (f *fakeMail) Enqueue(msg notify.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.sent = append(f.sent, msg)
	return true
}

type fixture struct {
	svc    *Service
	db     *sqlx.DB
	users  *user.UserService
	mail   *fakeMail
	m      *metrics.Metrics
	userID int64
	now    time.Time
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db := dbtest.New(t)
	users := user.NewUserService(db, nil, user.BcryptHasher{Cost: bcrypt.MinCost}, nil)
	id, err := users.SignupUser(context.Background(), "alice", "old-password", "Alice@Example.org")
	require.NoError(t, err)

	f := &fixture{
		db:     db,
		users:  users,
		mail:   &fakeMail{},
		m:      metrics.New(),
		userID: id,
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lungcheck.test/"
	}
	f.svc = NewService(db, users, f.mail, cfg, f.m, nil)
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func countTokens(t *testing.T, db *sqlx.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, `SELECT COUNT(*) FROM password_resets`))
	return n
}

func TestRequestResetQueuesLink(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, f.svc.RequestReset(ctx, "alice"))
	require.Len(t, f.mail.sent, 1)
	msg := f.mail.sent[0]
	assert.Equal(t, "alice@example.org", msg.To)

	rows, err := resetrepo.NewResetRepo(f.db).ListForUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	tok := rows[0].Token
	assert.Len(t, tok, 43)
	assert.Contains(t, msg.Body, "https://lungcheck.test/reset-password/"+tok)
	assert.True(t, rows[0].ExpiresAt.Equal(f.now.Add(time.Hour)))

	uid, err := f.svc.ValidateAndFetch(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, f.userID, uid)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.ResetTokens.WithLabelValues("issued")))
}

func TestRequestResetUnknownAccount(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()

	require.ErrorIs(t, f.svc.RequestReset(ctx, "nobody"), ErrUnknownAccount)
	require.ErrorIs(t, f.svc.RequestReset(ctx, "ALICE"), ErrUnknownAccount)

	_, err := f.users.SignupUser(ctx, "bob", "secret", "")
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.RequestReset(ctx, "bob"), ErrUnknownAccount)

	assert.Zero(t, countTokens(t, f.db))
	assert.Empty(t, f.mail.sent)
}

func TestRequestResetSurvivesMailRejection(t *testing.T) {
	f := newFixture(t, Config{})
	f.mail.reject = true
	require.NoError(t, f.svc.RequestReset(context.Background(), "alice"))
	assert.Equal(t, 1, countTokens(t, f.db))
}

func TestExpiryBoundary(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tok, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)

	f.advance(time.Hour - time.Nanosecond)
	_, err = f.svc.ValidateAndFetch(ctx, tok.Token)
	require.NoError(t, err)

	f.advance(time.Nanosecond)
	_, err = f.svc.ValidateAndFetch(ctx, tok.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, tok.Token, "new-password"), ErrInvalidToken)

	_, err = f.users.AuthenticatePassword(ctx, "alice", "old-password")
	require.NoError(t, err)
}

func TestCustomTTL(t *testing.T) {
	f := newFixture(t, Config{TTL: 10 * time.Minute})
	tok, err := f.svc.Issue(context.Background(), f.userID)
	require.NoError(t, err)
	assert.True(t, tok.ExpiresAt.Equal(f.now.Add(10*time.Minute)))
	assert.Equal(t, 10*time.Minute, f.svc.TTL())
}

func TestTokenIsSingleUse(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tok, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)

	require.NoError(t, f.svc.ResetPassword(ctx, tok.Token, "new-password"))
	require.ErrorIs(t, f.svc.ResetPassword(ctx, tok.Token, "other-password"), ErrInvalidToken)

	_, err = f.users.AuthenticatePassword(ctx, "alice", "new-password")
	require.NoError(t, err)
	_, err = f.users.AuthenticatePassword(ctx, "alice", "old-password")
	require.ErrorIs(t, err, user.ErrBadCredentials)
	assert.Zero(t, countTokens(t, f.db))
}

func TestResetPasswordRejectsEmpty(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tok, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, tok.Token, ""), user.ErrValidation)
	_, err = f.svc.ValidateAndFetch(ctx, tok.Token)
	require.NoError(t, err)
}

func TestResetPasswordDeadTokenBeatsEmptyPassword(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	expired, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	used, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetPassword(ctx, used.Token, "new-password"))

	require.ErrorIs(t, f.svc.ResetPassword(ctx, used.Token, ""), ErrInvalidToken)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, "does-not-exist", ""), ErrInvalidToken)
	f.advance(time.Hour)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, expired.Token, ""), ErrInvalidToken)
}

func TestUnknownTokenRejected(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.svc.ValidateAndFetch(ctx, "does-not-exist")
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.ValidateAndFetch(ctx, "")
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, f.svc.Consume(ctx, "does-not-exist", "h", "a"), ErrInvalidToken)
}

func TestTokensDoNotInvalidateEachOther(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	b, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	_, err = f.svc.ValidateAndFetch(ctx, a.Token)
	require.NoError(t, err)
	require.NoError(t, f.svc.ResetPassword(ctx, a.Token, "first"))
	_, err = f.svc.ValidateAndFetch(ctx, b.Token)
	require.NoError(t, err)
}

func TestConsumingLaterTokenKeepsEarlierUntilItsExpiry(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	a, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	f.advance(10 * time.Minute)
	b, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	require.True(t, b.ExpiresAt.After(a.ExpiresAt))

	require.NoError(t, f.svc.ResetPassword(ctx, b.Token, "second"))
	assert.Equal(t, 1, countTokens(t, f.db))

	f.now = a.ExpiresAt.Add(-time.Nanosecond)
	uid, err := f.svc.ValidateAndFetch(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, f.userID, uid)

	f.now = a.ExpiresAt
	_, err = f.svc.ValidateAndFetch(ctx, a.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
	require.ErrorIs(t, f.svc.ResetPassword(ctx, a.Token, "late"), ErrInvalidToken)

	_, err = f.users.AuthenticatePassword(ctx, "alice", "second")
	require.NoError(t, err)
}

func TestInvalidatePrior(t *testing.T) {
	f := newFixture(t, Config{InvalidatePrior: true})
	ctx := context.Background()
	a, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	b, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)

	_, err = f.svc.ValidateAndFetch(ctx, a.Token)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = f.svc.ValidateAndFetch(ctx, b.Token)
	require.NoError(t, err)
	assert.Equal(t, 1, countTokens(t, f.db))
}

func TestIssuePurgesExpired(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	f.advance(2 * time.Hour)
	b, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)

	rows, err := resetrepo.NewResetRepo(f.db).ListForUser(ctx, f.userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, b.Token, rows[0].Token)
}

func TestIssueRetriesOnCollision(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	same := bytes.Repeat([]byte{0xAB}, tokenBytes)
	other := bytes.Repeat([]byte{0xCD}, tokenBytes)

	f.svc.random = bytes.NewReader(append(append(append([]byte{}, same...), same...), other...))
	a, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	b, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	f.svc.random = bytes.NewReader(bytes.Repeat(same, maxAttempts))
	_, err = f.svc.Issue(ctx, f.userID)
	require.ErrorIs(t, err, ErrTokenCollision)
	assert.Equal(t, 2, countTokens(t, f.db))
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	tok, err := f.svc.Issue(ctx, f.userID)
	require.NoError(t, err)
	hash, algo, err := f.users.Hasher().Hash("raced")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.Consume(ctx, tok.Token, hash, algo)
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, 1, ok)
}

func mockService(t *testing.T) (*Service, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(sqlx.NewDb(raw, "sqlmock"), nil, nil, Config{}, nil, nil)
	svc.SetClock(func() time.Time { return now })
	return svc, mock, now
}

func tokenRows(now time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at"}).
		AddRow(1, 7, "tok", now.Add(time.Hour), now)
}

func TestConsumeRollsBackWhenUpdateFails(t *testing.T) {
	svc, mock, now := mockService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, user_id, token, expires_at, created_at FROM password_resets WHERE token = \?`).
		WithArgs("tok").
		WillReturnRows(tokenRows(now))
	mock.ExpectExec(`UPDATE users SET password_hash`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := svc.Consume(context.Background(), "tok", "hash", "bcrypt:4")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeLostRaceRollsBack(t *testing.T) {
	svc, mock, now := mockService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM password_resets WHERE token = \?`).WithArgs("tok").WillReturnRows(tokenRows(now))
	mock.ExpectExec(`UPDATE users SET password_hash`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM password_resets WHERE token = \?`).WithArgs("tok").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	require.ErrorIs(t, svc.Consume(context.Background(), "tok", "hash", "bcrypt:4"), ErrInvalidToken)
	require.NoError(t, mock.ExpectationsWereMet())
}
