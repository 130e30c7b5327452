package repository

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vault-service/internal/domain"
)

// Tx is the transactional view the vault services operate on. Every method
// runs inside the single database transaction opened by WithUserLock, after
// the per-user advisory lock has been taken.
type Tx interface {
	// Vault row
	GetVault(ctx context.Context, userID string) (*domain.Vault, error)
	CreateVault(ctx context.Context, v *domain.Vault) error
	SetVaultState(ctx context.Context, userID, state, reason string, at time.Time) error
	UpdateWrappedDEK(ctx context.Context, userID string, wrappedDEK []byte, params *domain.KDFParams, at time.Time) error

	// Recovery sets and codes
	GetActiveSet(ctx context.Context, userID string) (*domain.RecoveryCodeSet, error)
	InvalidateSet(ctx context.Context, setID string, at time.Time) error
	NextGeneration(ctx context.Context, userID string) (int64, error)
	CreateSet(ctx context.Context, set *domain.RecoveryCodeSet) error
	InsertCodes(ctx context.Context, codes []*domain.RecoveryCode) error
	GetActiveCodes(ctx context.Context, userID string) ([]*domain.RecoveryCode, error)
	ConsumeCode(ctx context.Context, codeID int64, at time.Time) (bool, error)

	// Audit trail
	AppendEvent(ctx context.Context, ev *domain.VaultLockEvent) error
}

// Store is the persistence contract for the vault subsystem. Mutations go
// through WithUserLock; the plain methods are read-only conveniences that do
// not need the advisory lock.
type Store interface {
	WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error

	GetVault(ctx context.Context, userID string) (*domain.Vault, error)
	CountActiveCodes(ctx context.Context, userID string) (int, error)
	ListEvents(ctx context.Context, userID string, from, to *time.Time, limit int) ([]*domain.VaultLockEvent, error)
}

// AdvisoryLockKey maps a user id onto the 64-bit key space used by
// pg_advisory_xact_lock. Deterministic per user so all vault mutations for
// one user serialize while other users proceed in parallel.
func AdvisoryLockKey(userID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(userID))
	return int64(h.Sum64())
}

type pgStore struct {
	db *pgxpool.Pool
}

// NewStore returns the pgx-backed Store.
func NewStore(db *pgxpool.Pool) Store {
	return &pgStore{db: db}
}

type pgTx struct {
	tx pgx.Tx
}

// WithUserLock opens one transaction, takes the per-user advisory lock, and
// runs fn against it. The lock is transaction-scoped, so commit or rollback
// releases it; there is no separate unlock path to get wrong.
func (s *pgStore) WithUserLock(ctx context.Context, userID string, fn func(tx Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, AdvisoryLockKey(userID)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
