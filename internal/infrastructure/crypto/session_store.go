package crypto

import (
	"context"
	"errors"

	"github.com/jbctechsolutions/offsync/internal/application/ports"
	"github.com/jbctechsolutions/offsync/internal/infrastructure/logging"
)

var _ ports.SessionStore = (*SealedSessionStore)(nil)

// SealedSessionStore encrypts session values before they reach the underlying store.
// A value that no longer opens (new host, lost salt) reads as absent.
type SealedSessionStore struct {
	inner  ports.SessionStore
	sealer *Sealer
	logger *logging.Logger
}

// NewSealedSessionStore wraps inner.
func NewSealedSessionStore(inner ports.SessionStore, sealer *Sealer, logger *logging.Logger) *SealedSessionStore {
	return &SealedSessionStore{inner: inner, sealer: sealer, logger: logging.OrDiscard(logger)}
}

// GetSessionValue implements ports.SessionStore.
func (s *SealedSessionStore) GetSessionValue(ctx context.Context, key string) (string, bool, error) {
	value, ok, err := s.inner.GetSessionValue(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}
	plain, err := s.sealer.Open(value)
	if errors.Is(err, ErrInvalidCiphertext) {
		s.logger.WarnContext(ctx, "stored session value could not be decrypted; ignoring it", "key", key)
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

// SetSessionValue implements ports.SessionStore.
func (s *SealedSessionStore) SetSessionValue(ctx context.Context, key, value string) error {
	sealed, err := s.sealer.Seal(value)
	if err != nil {
		return err
	}
	return s.inner.SetSessionValue(ctx, key, sealed)
}

// DeleteSessionValue implements ports.SessionStore.
func (s *SealedSessionStore) DeleteSessionValue(ctx context.Context, key string) error {
	return s.inner.DeleteSessionValue(ctx, key)
}
