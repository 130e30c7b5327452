// Package vaultservice owns the vault lock/unlock state machine and the
// recovery-code escrow. Every mutating operation runs inside one database
// transaction guarded by a per-user advisory lock, so concurrent requests
// for the same user serialize while other users proceed in parallel.
package vaultservice

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"vault-service/internal/domain"
	"vault-service/internal/repository"
	"vault-service/internal/service/keywrap"
	"vault-service/pkg/xerrors"
)

type VaultService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewVaultService(store repository.Store, logger *zap.Logger) *VaultService {
	return &VaultService{store: store, logger: logger}
}

// loadInitialized fetches the vault row and enforces the initialized
// precondition shared by every state-machine operation.
func loadInitialized(ctx context.Context, tx repository.Tx, userID string) (*domain.Vault, error) {
	v, err := tx.GetVault(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return nil, xerrors.ErrVaultNotInitialized
	}
	if err != nil {
		return nil, err
	}
	if !v.Initialized() {
		return nil, xerrors.ErrVaultNotInitialized
	}
	return v, nil
}

// Initialize sets the first passphrase: generates a fresh DEK, wraps it under
// the passphrase-derived key, and creates (or fills in) the vault row in the
// Locked state.
func (s *VaultService) Initialize(ctx context.Context, userID, passphrase string) error {
	params, err := keywrap.NewParams()
	if err != nil {
		return err
	}
	wrappingKey, err := keywrap.DeriveWrappingKey([]byte(passphrase), params)
	if err != nil {
		return err
	}
	defer keywrap.Wipe(wrappingKey)

	dek, err := keywrap.NewDEK()
	if err != nil {
		return err
	}
	defer keywrap.Wipe(dek)

	wrapped, err := keywrap.Wrap(dek, wrappingKey)
	if err != nil {
		return err
	}

	err = s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		v, err := tx.GetVault(ctx, userID)
		switch {
		case errors.Is(err, xerrors.ErrNotFound):
			return tx.CreateVault(ctx, &domain.Vault{
				UserID:     userID,
				State:      domain.VaultStateLocked,
				WrappedDEK: wrapped,
				KDFParams:  params,
				LockReason: domain.LockReasonSystem,
				LockedAt:   &now,
			})
		case err != nil:
			return err
		case v.Initialized():
			return xerrors.ErrVaultAlreadyInitialized
		default:
			// Row pre-created at account creation, still empty.
			if err := tx.UpdateWrappedDEK(ctx, userID, wrapped, params, now); err != nil {
				return err
			}
			return tx.SetVaultState(ctx, userID, domain.VaultStateLocked, domain.LockReasonSystem, now)
		}
	})
	if err != nil {
		return err
	}

	s.logger.Info("vault initialized", zap.String("user_id", userID))
	return nil
}

// Lock transitions the vault to Locked. Idempotent: locking an already
// locked vault succeeds and still appends an event, which is a useful audit
// signal for repeated lock attempts. After Lock returns, no unlock token
// issued before the call remains valid; the session layer owns dropping any
// in-memory DEK handle.
func (s *VaultService) Lock(ctx context.Context, userID, reason string) error {
	if reason == "" {
		reason = domain.LockReasonUser
	}
	err := s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		if _, err := loadInitialized(ctx, tx, userID); err != nil {
			return err
		}
		if err := tx.SetVaultState(ctx, userID, domain.VaultStateLocked, reason, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &domain.VaultLockEvent{
			UserID:    userID,
			EventType: domain.EventLocked,
			Reason:    reason,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("vault locked", zap.String("user_id", userID), zap.String("reason", reason))
	return nil
}

// Unlock verifies the passphrase by unwrapping the stored DEK. On success
// the vault transitions to Unlocked and the DEK is returned for the
// requesting call chain's exclusive, request-scoped use; it is never cached
// or persisted unwrapped. On a wrong passphrase the transaction rolls back
// to a no-op and ErrAuthenticationFailed is returned.
func (s *VaultService) Unlock(ctx context.Context, userID, passphrase string) ([]byte, error) {
	var dek []byte

	err := s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		v, err := loadInitialized(ctx, tx, userID)
		if err != nil {
			return err
		}

		wrappingKey, err := keywrap.DeriveWrappingKey([]byte(passphrase), v.KDFParams)
		if err != nil {
			return err
		}
		defer keywrap.Wipe(wrappingKey)

		dek, err = keywrap.Unwrap(v.WrappedDEK, wrappingKey)
		if err != nil {
			// Wrong passphrase and corrupted blob are deliberately
			// indistinguishable here.
			return xerrors.ErrAuthenticationFailed
		}

		if err := tx.SetVaultState(ctx, userID, domain.VaultStateUnlocked, "", now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &domain.VaultLockEvent{
			UserID:    userID,
			EventType: domain.EventUnlocked,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault unlocked", zap.String("user_id", userID))
	return dek, nil
}

// ChangePassphrase re-wraps the DEK under a new passphrase-derived key.
// Outstanding recovery codes stay valid: each carries its own independent
// wrapping of the same DEK, so rotating one path never touches the others.
func (s *VaultService) ChangePassphrase(ctx context.Context, userID, oldPassphrase, newPassphrase string) error {
	err := s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		v, err := loadInitialized(ctx, tx, userID)
		if err != nil {
			return err
		}

		oldKey, err := keywrap.DeriveWrappingKey([]byte(oldPassphrase), v.KDFParams)
		if err != nil {
			return err
		}
		defer keywrap.Wipe(oldKey)

		dek, err := keywrap.Unwrap(v.WrappedDEK, oldKey)
		if err != nil {
			return xerrors.ErrAuthenticationFailed
		}
		defer keywrap.Wipe(dek)

		newParams, err := keywrap.NewParams()
		if err != nil {
			return err
		}
		newKey, err := keywrap.DeriveWrappingKey([]byte(newPassphrase), newParams)
		if err != nil {
			return err
		}
		defer keywrap.Wipe(newKey)

		wrapped, err := keywrap.Wrap(dek, newKey)
		if err != nil {
			return err
		}

		if err := tx.UpdateWrappedDEK(ctx, userID, wrapped, newParams, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &domain.VaultLockEvent{
			UserID:    userID,
			EventType: domain.EventPassphraseRotated,
			CreatedAt: now,
		})
	})
	if err != nil {
		return err
	}

	s.logger.Info("vault passphrase rotated", zap.String("user_id", userID))
	return nil
}

// Status is the lock-free read model for the dashboard.
func (s *VaultService) Status(ctx context.Context, userID string) (*domain.VaultStatus, error) {
	v, err := s.store.GetVault(ctx, userID)
	if errors.Is(err, xerrors.ErrNotFound) {
		return &domain.VaultStatus{Initialized: false, State: domain.VaultStateLocked}, nil
	}
	if err != nil {
		return nil, err
	}

	n, err := s.store.CountActiveCodes(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &domain.VaultStatus{
		Initialized:     v.Initialized(),
		State:           v.State,
		LockedAt:        v.LockedAt,
		UnlockedAt:      v.UnlockedAt,
		ActiveCodesLeft: n,
	}, nil
}

// ListEvents exposes the append-only audit trail, newest first.
func (s *VaultService) ListEvents(ctx context.Context, userID string, from, to *time.Time, limit int) ([]*domain.VaultLockEvent, error) {
	return s.store.ListEvents(ctx, userID, from, to, limit)
}
