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

// GetActiveSet returns the set with a null invalidated_at, or ErrNotFound.
// The partial unique index on (user_id) WHERE invalidated_at IS NULL keeps
// this to at most one row.
func (t *pgTx) GetActiveSet(ctx context.Context, userID string) (*domain.RecoveryCodeSet, error) {
	const q = `
		SELECT id, user_id, generation, created_at, invalidated_at
		FROM vault_recovery_sets
		WHERE user_id = $1 AND invalidated_at IS NULL
	`
	var set domain.RecoveryCodeSet
	err := t.tx.QueryRow(ctx, q, userID).Scan(
		&set.ID,
		&set.UserID,
		&set.Generation,
		&set.CreatedAt,
		&set.InvalidatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (t *pgTx) InvalidateSet(ctx context.Context, setID string, at time.Time) error {
	const q = `
		UPDATE vault_recovery_sets
		SET invalidated_at = $2
		WHERE id = $1 AND invalidated_at IS NULL
	`
	ct, err := t.tx.Exec(ctx, q, setID, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// NextGeneration returns max(generation)+1 across all of the user's sets,
// invalidated ones included, so generations stay strictly increasing.
func (t *pgTx) NextGeneration(ctx context.Context, userID string) (int64, error) {
	const q = `
		SELECT COALESCE(MAX(generation), 0) + 1
		FROM vault_recovery_sets
		WHERE user_id = $1
	`
	var gen int64
	if err := t.tx.QueryRow(ctx, q, userID).Scan(&gen); err != nil {
		return 0, err
	}
	return gen, nil
}

func (t *pgTx) CreateSet(ctx context.Context, set *domain.RecoveryCodeSet) error {
	const q = `
		INSERT INTO vault_recovery_sets (id, user_id, generation, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := t.tx.Exec(ctx, q, set.ID, set.UserID, set.Generation, set.CreatedAt)
	return err
}

func (t *pgTx) InsertCodes(ctx context.Context, codes []*domain.RecoveryCode) error {
	const q = `
		INSERT INTO vault_recovery_codes (set_id, code_hash, code_salt, wrapped_dek, kdf_params, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	batch := &pgx.Batch{}
	for _, c := range codes {
		paramsRaw, err := json.Marshal(c.KDFParams)
		if err != nil {
			return err
		}
		batch.Queue(q, c.SetID, c.CodeHash, c.CodeSalt, c.WrappedDEK, paramsRaw, c.CreatedAt)
	}
	br := t.tx.SendBatch(ctx, batch)
	defer br.Close()

	for range codes {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return br.Close()
}

// GetActiveCodes returns every code of the active set, spent ones included.
// Redemption needs the spent rows to tell "already used" apart from "no such
// code".
func (t *pgTx) GetActiveCodes(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	const q = `
		SELECT c.id, c.set_id, c.code_hash, c.code_salt, c.wrapped_dek, c.kdf_params, c.used_at, c.created_at
		FROM vault_recovery_codes c
		JOIN vault_recovery_sets s ON s.id = c.set_id
		WHERE s.user_id = $1 AND s.invalidated_at IS NULL
		ORDER BY c.id
	`
	rows, err := t.tx.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []*domain.RecoveryCode
	for rows.Next() {
		var (
			c         domain.RecoveryCode
			paramsRaw []byte
		)
		if err := rows.Scan(&c.ID, &c.SetID, &c.CodeHash, &c.CodeSalt, &c.WrappedDEK, &paramsRaw, &c.UsedAt, &c.CreatedAt); err != nil {
			return nil, err
		}
		var p domain.KDFParams
		if err := json.Unmarshal(paramsRaw, &p); err != nil {
			return nil, err
		}
		c.KDFParams = &p
		codes = append(codes, &c)
	}
	return codes, rows.Err()
}

// ConsumeCode marks one code used. The WHERE used_at IS NULL guard makes the
// check-then-mark sequence a single atomic write; the affected-row count is
// the success signal, so two redemptions of the same code can never both
// pass even without the advisory lock.
func (t *pgTx) ConsumeCode(ctx context.Context, codeID int64, at time.Time) (bool, error) {
	const q = `
		UPDATE vault_recovery_codes
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`
	ct, err := t.tx.Exec(ctx, q, codeID, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// CountActiveCodes is the lock-free count used by the status endpoint.
func (s *pgStore) CountActiveCodes(ctx context.Context, userID string) (int, error) {
	const q = `
		SELECT COUNT(*)
		FROM vault_recovery_codes c
		JOIN vault_recovery_sets s ON s.id = c.set_id
		WHERE s.user_id = $1 AND s.invalidated_at IS NULL AND c.used_at IS NULL
	`
	var n int
	if err := s.db.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
