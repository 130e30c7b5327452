package vaultservice

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vault-service/internal/domain"
	"vault-service/internal/repository"
	"vault-service/internal/service/keywrap"
	"vault-service/pkg/xerrors"
)

const (
	DefaultCodeCount = 10
	MaxCodeCount     = 20
)

// RecoveryService generates and redeems one-time recovery codes. Each code
// is an independent escrow path: the DEK is wrapped once per code under a
// key derived from that code alone, so redeeming or leaking one code reveals
// nothing usable against its siblings.
type RecoveryService struct {
	store  repository.Store
	logger *zap.Logger
}

func NewRecoveryService(store repository.Store, logger *zap.Logger) *RecoveryService {
	return &RecoveryService{store: store, logger: logger}
}

// GenerateCodes mints a new active set of count codes and invalidates the
// prior set in the same transaction. The vault must be Unlocked, and the
// caller re-presents the passphrase so the DEK can be recovered inside this
// request; the service holds no DEK between requests. The plaintext codes
// are returned exactly once and never retrievable again.
func (s *RecoveryService) GenerateCodes(ctx context.Context, userID, passphrase string, count int) ([]string, error) {
	if count <= 0 {
		count = DefaultCodeCount
	}
	if count > MaxCodeCount {
		return nil, xerrors.ErrInvalidRequest
	}

	var plaintexts []string

	err := s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		v, err := loadInitialized(ctx, tx, userID)
		if err != nil {
			return err
		}
		if v.State != domain.VaultStateUnlocked {
			return xerrors.ErrVaultLocked
		}

		wrappingKey, err := keywrap.DeriveWrappingKey([]byte(passphrase), v.KDFParams)
		if err != nil {
			return err
		}
		defer keywrap.Wipe(wrappingKey)

		dek, err := keywrap.Unwrap(v.WrappedDEK, wrappingKey)
		if err != nil {
			return xerrors.ErrAuthenticationFailed
		}
		defer keywrap.Wipe(dek)

		// Retire the previous set before minting the new one so at most one
		// set is ever active.
		prev, err := tx.GetActiveSet(ctx, userID)
		switch {
		case err == nil:
			if err := tx.InvalidateSet(ctx, prev.ID, now); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, &domain.VaultLockEvent{
				UserID:    userID,
				EventType: domain.EventRecoveryCodesInvalidated,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		case !errors.Is(err, xerrors.ErrNotFound):
			return err
		}

		gen, err := tx.NextGeneration(ctx, userID)
		if err != nil {
			return err
		}

		set := &domain.RecoveryCodeSet{
			ID:         uuid.NewString(),
			UserID:     userID,
			Generation: gen,
			CreatedAt:  now,
		}
		if err := tx.CreateSet(ctx, set); err != nil {
			return err
		}

		codes := make([]*domain.RecoveryCode, 0, count)
		plaintexts = make([]string, 0, count)
		for i := 0; i < count; i++ {
			plain, err := GenerateRecoveryCode()
			if err != nil {
				return err
			}
			normalized := NormalizeRecoveryCode(plain)

			salt, err := newCodeSalt()
			if err != nil {
				return err
			}

			params, err := keywrap.NewParams()
			if err != nil {
				return err
			}
			codeKey, err := keywrap.DeriveWrappingKey([]byte(normalized), params)
			if err != nil {
				return err
			}
			wrapped, err := keywrap.Wrap(dek, codeKey)
			keywrap.Wipe(codeKey)
			if err != nil {
				return err
			}

			codes = append(codes, &domain.RecoveryCode{
				SetID:      set.ID,
				CodeHash:   hashRecoveryCode(salt, normalized),
				CodeSalt:   salt,
				WrappedDEK: wrapped,
				KDFParams:  params,
				CreatedAt:  now,
			})
			plaintexts = append(plaintexts, plain)
		}

		if err := tx.InsertCodes(ctx, codes); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &domain.VaultLockEvent{
			UserID:    userID,
			EventType: domain.EventRecoveryCodesGenerated,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("recovery codes generated",
		zap.String("user_id", userID),
		zap.Int("count", len(plaintexts)),
	)
	return plaintexts, nil
}

// RedeemCode is the escrow unlock path. The matched code is spent by a
// single conditional update whose affected-row count is the success signal,
// so two concurrent redemptions of the same code can never both succeed; the
// advisory lock additionally serializes redemption against lock, unlock and
// regeneration for the same vault.
func (s *RecoveryService) RedeemCode(ctx context.Context, userID, code string) ([]byte, error) {
	normalized := NormalizeRecoveryCode(code)
	if normalized == "" {
		return nil, xerrors.ErrInvalidRecoveryCode
	}

	var dek []byte

	err := s.store.WithUserLock(ctx, userID, func(tx repository.Tx) error {
		now := time.Now().UTC()

		if _, err := loadInitialized(ctx, tx, userID); err != nil {
			return err
		}

		candidates, err := tx.GetActiveCodes(ctx, userID)
		if err != nil {
			return err
		}

		var match *domain.RecoveryCode
		for _, c := range candidates {
			if codeHashEqual(c.CodeHash, hashRecoveryCode(c.CodeSalt, normalized)) {
				match = c
				break
			}
		}
		if match == nil {
			// Burn a derivation anyway so the no-match path costs the same
			// as a real redemption attempt.
			if params, perr := keywrap.NewParams(); perr == nil {
				if k, derr := keywrap.DeriveWrappingKey([]byte(normalized), params); derr == nil {
					keywrap.Wipe(k)
				}
			}
			return xerrors.ErrInvalidRecoveryCode
		}
		if match.UsedAt != nil {
			return xerrors.ErrRecoveryCodeAlreadyUsed
		}

		ok, err := tx.ConsumeCode(ctx, match.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return xerrors.ErrRecoveryCodeAlreadyUsed
		}

		codeKey, err := keywrap.DeriveWrappingKey([]byte(normalized), match.KDFParams)
		if err != nil {
			return err
		}
		defer keywrap.Wipe(codeKey)

		dek, err = keywrap.Unwrap(match.WrappedDEK, codeKey)
		if err != nil {
			return xerrors.ErrInvalidRecoveryCode
		}

		if err := tx.SetVaultState(ctx, userID, domain.VaultStateUnlocked, "", now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &domain.VaultLockEvent{
			UserID:    userID,
			EventType: domain.EventUnlockedViaRecoveryCode,
			CreatedAt: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("vault unlocked via recovery code", zap.String("user_id", userID))
	return dek, nil
}
