// Package session holds the bearer credential used for remote calls.
// The token is opaque; JWTs are additionally checked for expiry without verifying the signature.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/domain/errors"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

// Keys in the session_state table.
const (
	KeyAccessToken = "access_token"
	KeyInvalidated = "invalidated_reason"
)

var _ ports.Session = (*Bootstrap)(nil)

// Status describes the session for display.
type Status struct {
	HasToken      bool
	Authenticated bool
	Invalidated   bool
	Reason        string
	ExpiresAt     *time.Time
}

// Bootstrap serves the current credential from memory and persists changes to the store.
type Bootstrap struct {
	store  ports.SessionStore
	cache  ports.EntityStore
	queue  ports.MutationQueue
	logger *logging.Logger
	now    func() time.Time
	leeway time.Duration

	mu          sync.RWMutex
	token       string
	expiresAt   *time.Time
	invalidated bool
	reason      string
}

// New creates a Bootstrap. cache and queue are cleared on Logout.
func New(store ports.SessionStore, cache ports.EntityStore, queue ports.MutationQueue, logger *logging.Logger) *Bootstrap {
	return &Bootstrap{
		store:  store,
		cache:  cache,
		queue:  queue,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
		leeway: 30 * time.Second,
	}
}

// Load restores the stored session into memory.
func (b *Bootstrap) Load(ctx context.Context) error {
	token, _, err := b.store.GetSessionValue(ctx, KeyAccessToken)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	reason, invalidated, err := b.store.GetSessionValue(ctx, KeyInvalidated)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.token = token
	b.expiresAt = tokenExpiry(token)
	b.invalidated = invalidated
	b.reason = reason
	return nil
}

// AccessToken returns the token when the session is authenticated.
func (b *Bootstrap) AccessToken() (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.token == "" || b.invalidated {
		return "", false
	}
	if b.expiresAt != nil && !b.now().Before(b.expiresAt.Add(-b.leeway)) {
		return "", false
	}
	return b.token, true
}

// IsAuthenticated reports whether AccessToken would succeed.
func (b *Bootstrap) IsAuthenticated() bool {
	_, ok := b.AccessToken()
	return ok
}

// Status returns a snapshot for display.
func (b *Bootstrap) Status() Status {
	_, ok := b.AccessToken()

	b.mu.RLock()
	defer b.mu.RUnlock()
	return Status{
		HasToken:      b.token != "",
		Authenticated: ok,
		Invalidated:   b.invalidated,
		Reason:        b.reason,
		ExpiresAt:     b.expiresAt,
	}
}

// SetToken stores a new credential and clears any invalidation.
func (b *Bootstrap) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.NewError(errors.CodeValidation, "token required", nil)
	}

	if err := b.store.SetSessionValue(ctx, KeyAccessToken, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := b.store.DeleteSessionValue(ctx, KeyInvalidated); err != nil {
		return fmt.Errorf("clear invalidation: %w", err)
	}

	b.mu.Lock()
	b.token = token
	b.expiresAt = tokenExpiry(token)
	b.invalidated = false
	b.reason = ""
	b.mu.Unlock()

	b.logger.Info("session token updated")
	return nil
}

// Invalidate marks the credential rejected. Memory is updated before persistence
// so new writes are refused even if the store fails. A 401 for a token other than
// the current one is ignored.
func (b *Bootstrap) Invalidate(ctx context.Context, rejected, reason string) error {
	if reason == "" {
		reason = "unauthorized"
	}

	b.mu.Lock()
	if rejected != "" && rejected != b.token {
		b.mu.Unlock()
		b.logger.DebugContext(ctx, "ignoring rejection of replaced token", "reason", reason)
		return nil
	}
	already := b.invalidated
	b.invalidated = true
	b.reason = reason
	b.mu.Unlock()

	if !already {
		b.logger.WarnContext(ctx, "session invalidated", "reason", reason)
	}
	if err := b.store.SetSessionValue(ctx, KeyInvalidated, reason); err != nil {
		return fmt.Errorf("persist invalidation: %w", err)
	}
	return nil
}

// Logout clears the credential, the entity cache and the mutation queue.
func (b *Bootstrap) Logout(ctx context.Context) error {
	b.mu.Lock()
	b.token = ""
	b.expiresAt = nil
	b.invalidated = false
	b.reason = ""
	b.mu.Unlock()

	var errs []error
	if err := b.store.DeleteSessionValue(ctx, KeyAccessToken); err != nil {
		errs = append(errs, err)
	}
	if err := b.store.DeleteSessionValue(ctx, KeyInvalidated); err != nil {
		errs = append(errs, err)
	}
	if b.cache != nil {
		if err := b.cache.ClearAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if b.queue != nil {
		if err := b.queue.ClearQueue(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	b.logger.Info("logged out")
	return nil
}

// tokenExpiry returns the exp claim of a JWT, or nil for opaque tokens.
func tokenExpiry(token string) *time.Time {
	if strings.Count(token, ".") != 2 {
		return nil
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}
