package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wra13107/digital-memorial-landing/internal/common"
	"github.com/wra13107/digital-memorial-landing/internal/common/security"
	"github.com/wra13107/digital-memorial-landing/internal/domain/model"
	"github.com/wra13107/digital-memorial-landing/internal/domain/repository"
	"github.com/wra13107/digital-memorial-landing/internal/metrics"
)

// SingleUseTokens issues and redeems the expiring tokens that back email
// verification and password reset. Only the token digest is stored; the raw
// value goes out by email.
type SingleUseTokens struct {
	users   repository.UserRepository
	ttl     map[model.TokenPurpose]time.Duration
	now     func() time.Time
	metrics metrics.Recorder
}

func NewSingleUseTokens(users repository.UserRepository, ttl map[model.TokenPurpose]time.Duration, now func() time.Time, rec metrics.Recorder) *SingleUseTokens {
	if now == nil {
		now = time.Now
	}
	if rec == nil {
		rec = metrics.Nop{}
	}
	return &SingleUseTokens{users: users, ttl: ttl, now: now, metrics: rec}
}

func (t *SingleUseTokens) TTL(purpose model.TokenPurpose) time.Duration {
	return t.ttl[purpose]
}

// Issue stores a fresh token for purpose, replacing any pending one, and
// returns the raw value.
func (t *SingleUseTokens) Issue(ctx context.Context, purpose model.TokenPurpose, userID int64) (string, time.Time, error) {
	ttl, ok := t.ttl[purpose]
	if !ok || ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("no ttl configured for %s tokens", purpose)
	}
	raw, digest, err := security.NewOneTimeToken()
	if err != nil {
		return "", time.Time{}, err
	}
	expiry := t.now().Add(ttl).UTC()
	if err := t.users.SetToken(ctx, purpose, userID, digest, expiry); err != nil {
		return "", time.Time{}, fmt.Errorf("store %s token: %w", purpose, err)
	}
	t.metrics.RecordTokenIssued(string(purpose))
	return raw, expiry, nil
}

// Redeem consumes raw and runs action for its owner in the same transaction.
// An absent, consumed or expired token fails with ErrTokenInvalidOrExpired
// and nothing is changed. If action fails the token stays pending.
func (t *SingleUseTokens) Redeem(ctx context.Context, purpose model.TokenPurpose, raw string,
	action func(ctx context.Context, tx repository.UserRepository, userID int64) error) (int64, error) {
	if raw == "" {
		t.metrics.RecordTokenRedeemed(string(purpose), false)
		return 0, common.ErrTokenInvalidOrExpired
	}
	digest := security.DigestToken(raw)

	var userID int64
	err := t.users.WithTx(ctx, func(ctx context.Context, tx repository.UserRepository) error {
		id, err := tx.ClaimToken(ctx, purpose, digest, t.now())
		if err != nil {
			return err
		}
		userID = id
		return action(ctx, tx, id)
	})
	t.metrics.RecordTokenRedeemed(string(purpose), err == nil)
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalidOrExpired) {
			return 0, err
		}
		return 0, fmt.Errorf("redeem %s token: %w", purpose, err)
	}
	return userID, nil
}
