package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"vault-service/internal/domain"
	"vault-service/pkg/xerrors"
)

func scanVault(row pgx.Row) (*domain.Vault, error) {
	var (
		v         domain.Vault
		paramsRaw []byte
	)
	err := row.Scan(
		&v.UserID,
		&v.State,
		&v.WrappedDEK,
		&paramsRaw,
		&v.LockReason,
		&v.LockedAt,
		&v.UnlockedAt,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(paramsRaw) > 0 {
		var p domain.KDFParams
		if err := json.Unmarshal(paramsRaw, &p); err != nil {
			return nil, err
		}
		v.KDFParams = &p
	}
	return &v, nil
}

const vaultColumns = `user_id, state, wrapped_dek, kdf_params, lock_reason, locked_at, unlocked_at, created_at, updated_at`

// GetVault loads the vault row FOR UPDATE inside the transaction.
func (t *pgTx) GetVault(ctx context.Context, userID string) (*domain.Vault, error) {
	q := `SELECT ` + vaultColumns + ` FROM user_vaults WHERE user_id = $1 FOR UPDATE`
	return scanVault(t.tx.QueryRow(ctx, q, userID))
}

func (t *pgTx) CreateVault(ctx context.Context, v *domain.Vault) error {
	paramsRaw, err := json.Marshal(v.KDFParams)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO user_vaults (user_id, state, wrapped_dek, kdf_params, lock_reason, locked_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`
	_, err = t.tx.Exec(ctx, q, v.UserID, v.State, v.WrappedDEK, paramsRaw, v.LockReason, v.LockedAt)
	return err
}

func (t *pgTx) SetVaultState(ctx context.Context, userID, state, reason string, at time.Time) error {
	var q string
	if state == domain.VaultStateLocked {
		q = `
			UPDATE user_vaults
			SET state = $2, lock_reason = $3, locked_at = $4, updated_at = NOW()
			WHERE user_id = $1
		`
	} else {
		q = `
			UPDATE user_vaults
			SET state = $2, lock_reason = $3, unlocked_at = $4, updated_at = NOW()
			WHERE user_id = $1
		`
	}
	ct, err := t.tx.Exec(ctx, q, userID, state, reason, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// UpdateWrappedDEK swaps the passphrase wrapping. Recovery-code wrappings
// are untouched; each carries its own key over the same DEK.
func (t *pgTx) UpdateWrappedDEK(ctx context.Context, userID string, wrappedDEK []byte, params *domain.KDFParams, at time.Time) error {
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	const q = `
		UPDATE user_vaults
		SET wrapped_dek = $2, kdf_params = $3, updated_at = $4
		WHERE user_id = $1
	`
	ct, err := t.tx.Exec(ctx, q, userID, wrappedDEK, paramsRaw, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// GetVault is the lock-free read used by the status endpoint.
func (s *pgStore) GetVault(ctx context.Context, userID string) (*domain.Vault, error) {
	q := `SELECT ` + vaultColumns + ` FROM user_vaults WHERE user_id = $1`
	return scanVault(s.db.QueryRow(ctx, q, userID))
}
