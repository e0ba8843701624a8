package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"golang.org/x/sync/singleflight"

	"github.com/openkcm/auth-relay/internal/identity"
)

// Refresher exchanges a refresh token for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, req identity.RefreshRequest) (identity.Tokens, error)
}

// CoalescingRefresher lets concurrent refreshes of the same refresh token
// share one backend call.
type CoalescingRefresher struct {
	next  Refresher
	group singleflight.Group
}

func NewCoalescingRefresher(next Refresher) *CoalescingRefresher {
	return &CoalescingRefresher{next: next}
}

func (c *CoalescingRefresher) Refresh(ctx context.Context, req identity.RefreshRequest) (identity.Tokens, error) {
	if req.RefreshToken == "" {
		return c.next.Refresh(ctx, req)
	}

	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)

	v, err, _ := c.group.Do(hashToken(req.RefreshToken), func() (any, error) {
		return c.next.Refresh(shared, req)
	})
	if err != nil {
		return identity.Tokens{}, err
	}

	return v.(identity.Tokens), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
