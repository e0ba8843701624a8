package session

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-relay/internal/identity"
	"github.com/openkcm/auth-relay/internal/serviceerr"
)

const defaultFailedRetention = 7 * 24 * time.Hour

// TransitionHook observes state transitions of tokens resolved by a
// Lifecycle.
type TransitionHook func(ctx context.Context, from, to State)

// Lifecycle resolves tokens to a usable state, refreshing expired ones.
type Lifecycle struct {
	refresher Refresher
	failed    *cache.Cache
	now       func() time.Time
	hook      TransitionHook
}

type Option func(*Lifecycle)

func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) {
		l.now = now
	}
}

func WithTransitionHook(hook TransitionHook) Option {
	return func(l *Lifecycle) {
		l.hook = hook
	}
}

// WithFailedRetention sets how long a rejected refresh token is remembered.
func WithFailedRetention(d time.Duration) Option {
	return func(l *Lifecycle) {
		l.failed = cache.New(d, d)
	}
}

func NewLifecycle(refresher Refresher, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		refresher: refresher,
		failed:    cache.New(defaultFailedRetention, time.Hour),
		now:       time.Now,
		hook:      func(context.Context, State, State) {},
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Now returns the lifecycle's notion of the current time.
func (l *Lifecycle) Now() time.Time {
	return l.now()
}

// Resolve returns tok in a usable state. A fresh token is returned as is.
// An expired token is refreshed; the returned token then carries the new
// credentials and the caller is expected to persist them. A token that
// cannot be refreshed comes back failed together with a non nil error.
//
// Failure is sticky: a token carrying the error marker, or a refresh token
// the backend has rejected before, is never sent to the backend again.
func (l *Lifecycle) Resolve(ctx context.Context, tok Token) (Token, error) {
	now := l.now()

	switch tok.State(now) {
	case StateFresh:
		return tok, nil
	case StateFailed:
		return tok.failed(), serviceerr.ErrRefreshFailed
	}

	if tok.RefreshToken == "" {
		l.hook(ctx, StateExpired, StateFailed)
		return tok.failed(), serviceerr.ErrUnauthenticated
	}

	if _, rejected := l.failed.Get(hashToken(tok.RefreshToken)); rejected {
		return tok.failed(), serviceerr.ErrRefreshFailed
	}

	l.hook(ctx, StateExpired, StateRefreshing)

	tokens, err := l.refresher.Refresh(ctx, identity.RefreshRequest{
		RefreshToken: tok.RefreshToken,
		Tenant:       tok.Tenant,
	})
	if err != nil {
		l.hook(ctx, StateRefreshing, StateFailed)

		// An unreachable backend says nothing about the refresh token.
		if !errors.Is(err, serviceerr.ErrBackendUnreachable) {
			l.failed.SetDefault(hashToken(tok.RefreshToken), struct{}{})
		}

		slogctx.Warn(ctx, "Refreshing the access token failed", "error", err)

		return tok.failed(), err
	}

	refreshed := Token{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    l.now().Add(time.Duration(tokens.ExpiresIn) * time.Second),
		Tenant:       tok.Tenant,
		TTLSeconds:   tokens.ExpiresIn,
	}
	if refreshed.RefreshToken == "" {
		refreshed.RefreshToken = tok.RefreshToken
	}

	l.hook(ctx, StateRefreshing, StateRefreshed)
	l.hook(ctx, StateRefreshed, StateFresh)

	return refreshed, nil
}
