package repository

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
)

func newMemoryRepo(t *testing.T) UserRepository {
	t.Helper()
	return NewMemoryUserRepository(func() time.Time { return fixedNow })
}

func seedUser(t *testing.T, repo UserRepository, email string) *model.User {
	t.Helper()
	u, err := repo.CreateLocalUser(context.Background(), model.NewLocalUser{
		Email:        email,
		PasswordHash: "hash",
		FirstName:    "Alice",
		LastName:     "Smith",
	})
	require.NoError(t, err)
	return u
}

func TestMemoryCreateAndLookup(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()

	username := "alice"
	created, err := repo.CreateLocalUser(ctx, model.NewLocalUser{
		Email:        "alice@example.com",
		Username:     &username,
		PasswordHash: "hash",
		FirstName:    "Alice",
		LastName:     "Smith",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.Equal(t, model.RoleUser, created.Role)
	assert.Equal(t, "Alice Smith", created.Name)
	assert.False(t, created.EmailVerified)
	assert.Equal(t, fixedNow, created.CreatedAt)

	byEmail, err := repo.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byName, err := repo.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	_, err = repo.GetUserByID(ctx, 42)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestMemoryCreate_Conflicts(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	seedUser(t, repo, "alice@example.com")

	_, err := repo.CreateLocalUser(ctx, model.NewLocalUser{Email: "alice@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, common.ErrEmailTaken)

	username := "bob"
	_, err = repo.CreateLocalUser(ctx, model.NewLocalUser{Email: "bob@example.com", Username: &username, PasswordHash: "h"})
	require.NoError(t, err)
	_, err = repo.CreateLocalUser(ctx, model.NewLocalUser{Email: "bob2@example.com", Username: &username, PasswordHash: "h"})
	assert.ErrorIs(t, err, common.ErrUsernameTaken)
}

func TestMemoryReturnsCopies(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")

	u.Role = model.RoleAdmin
	u.Name = "mutated"

	stored, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, stored.Role)
	assert.Equal(t, "Alice Smith", stored.Name)
}

func TestMemoryUpdateUser(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	alice := seedUser(t, repo, "alice@example.com")
	seedUser(t, repo, "bob@example.com")

	role := model.RoleAdmin
	name := "Alice Jones"
	require.NoError(t, repo.UpdateUser(ctx, alice.ID, model.UserUpdate{Role: &role, Name: &name}))

	got, err := repo.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())
	assert.Equal(t, "Alice Jones", got.Name)

	taken := "bob@example.com"
	assert.ErrorIs(t, repo.UpdateUser(ctx, alice.ID, model.UserUpdate{Email: &taken}), common.ErrEmailTaken)

	own := "alice@example.com"
	assert.NoError(t, repo.UpdateUser(ctx, alice.ID, model.UserUpdate{Email: &own}))

	assert.ErrorIs(t, repo.UpdateUser(ctx, 99, model.UserUpdate{Name: &name}), common.ErrNotFound)
}

func TestMemoryUpdateUser_ClearDates(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	alice := seedUser(t, repo, "alice@example.com")

	birth := time.Date(1931, 4, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.UpdateUser(ctx, alice.ID, model.UserUpdate{BirthDate: &birth, DeathDate: &birth}))
	require.NoError(t, repo.UpdateUser(ctx, alice.ID, model.UserUpdate{ClearBirthDate: true}))

	got, err := repo.GetUserByID(ctx, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, got.BirthDate)
	assert.NotNil(t, got.DeathDate)

	assert.False(t, model.UserUpdate{ClearDeathDate: true}.Empty())
}

func TestMemoryDeleteUserAccount(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")

	require.NoError(t, repo.DeleteUserAccount(ctx, u.ID))
	_, err := repo.GetUserByEmail(ctx, "alice@example.com")
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, repo.DeleteUserAccount(ctx, u.ID), common.ErrNotFound)
}

func TestMemoryTokenLifecycle(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")
	expiry := fixedNow.Add(time.Hour)

	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, u.ID, "digest-1", expiry))

	found, err := repo.GetUserByToken(ctx, model.PurposePasswordReset, "digest-1")
	require.NoError(t, err)
	assert.Equal(t, u.ID, found.ID)

	// Slots are independent per purpose.
	_, err = repo.GetUserByToken(ctx, model.PurposeEmailVerification, "digest-1")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// Reissue overwrites the previous token.
	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, u.ID, "digest-2", expiry))
	_, err = repo.ClaimToken(ctx, model.PurposePasswordReset, "digest-1", fixedNow)
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)

	id, err := repo.ClaimToken(ctx, model.PurposePasswordReset, "digest-2", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)

	_, err = repo.ClaimToken(ctx, model.PurposePasswordReset, "digest-2", fixedNow)
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)

	stored, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpiry)
}

func TestMemoryClaimToken_ExpiredLeavesTokenInPlace(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")

	require.NoError(t, repo.SetToken(ctx, model.PurposeEmailVerification, u.ID, "digest", fixedNow.Add(time.Minute)))

	_, err := repo.ClaimToken(ctx, model.PurposeEmailVerification, "digest", fixedNow.Add(time.Minute))
	assert.ErrorIs(t, err, common.ErrTokenInvalidOrExpired)

	stored, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.EmailVerificationToken)
	assert.Equal(t, "digest", *stored.EmailVerificationToken)
}

func TestMemoryClaimToken_ConcurrentSingleWinner(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")
	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, u.ID, "digest", fixedNow.Add(time.Hour)))

	var wins, losses atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.WithTx(ctx, func(ctx context.Context, tx UserRepository) error {
				id, err := tx.ClaimToken(ctx, model.PurposePasswordReset, "digest", fixedNow)
				if err != nil {
					return err
				}
				return tx.UpdateUserPassword(ctx, id, "new-hash")
			})
			if err == nil {
				wins.Add(1)
			} else if errors.Is(err, common.ErrTokenInvalidOrExpired) {
				losses.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), losses.Load())
}

func TestMemoryWithTx_RollsBackOnError(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")
	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, u.ID, "digest", fixedNow.Add(time.Hour)))

	boom := errors.New("boom")
	err := repo.WithTx(ctx, func(ctx context.Context, tx UserRepository) error {
		if _, err := tx.ClaimToken(ctx, model.PurposePasswordReset, "digest", fixedNow); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The claim was undone so the token is still redeemable.
	_, err = repo.ClaimToken(ctx, model.PurposePasswordReset, "digest", fixedNow)
	assert.NoError(t, err)
}

func TestMemoryMarkEmailAsVerified(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	u := seedUser(t, repo, "alice@example.com")

	require.NoError(t, repo.MarkEmailAsVerified(ctx, u.ID))
	got, err := repo.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, got.EmailVerified)
}

func TestMemoryPurgeExpiredTokens(t *testing.T) {
	repo := newMemoryRepo(t)
	ctx := context.Background()
	a := seedUser(t, repo, "a@example.com")
	b := seedUser(t, repo, "b@example.com")

	require.NoError(t, repo.SetToken(ctx, model.PurposeEmailVerification, a.ID, "a-verify", fixedNow.Add(-time.Minute)))
	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, a.ID, "a-reset", fixedNow.Add(time.Hour)))
	require.NoError(t, repo.SetToken(ctx, model.PurposePasswordReset, b.ID, "b-reset", fixedNow))

	n, err := repo.PurgeExpiredTokens(ctx, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := repo.GetUserByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EmailVerificationToken)
	assert.NotNil(t, got.PasswordResetToken)
}
