package vaultservice

import (
	"context"
	"sort"
	"sync"
	"time"

	"vault-service/internal/domain"
	"vault-service/internal/repository"
	"vault-service/pkg/xerrors"
)

// fakeStore is an in-memory repository.Store. One global mutex stands in for
// the per-user advisory lock (stricter than production, which only
// serializes per user), and a snapshot taken at transaction start gives the
// same rollback-on-error semantics as the real store.
type fakeStore struct {
	mu sync.Mutex

	vaults      map[string]domain.Vault
	sets        map[string]domain.RecoveryCodeSet
	codes       map[int64]domain.RecoveryCode
	events      []domain.VaultLockEvent
	nextCodeID  int64
	nextEventID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		vaults: make(map[string]domain.Vault),
		sets:   make(map[string]domain.RecoveryCodeSet),
		codes:  make(map[int64]domain.RecoveryCode),
	}
}

type fakeSnapshot struct {
	vaults      map[string]domain.Vault
	sets        map[string]domain.RecoveryCodeSet
	codes       map[int64]domain.RecoveryCode
	events      []domain.VaultLockEvent
	nextCodeID  int64
	nextEventID int64
}

func (s *fakeStore) snapshot() fakeSnapshot {
	snap := fakeSnapshot{
		vaults:      make(map[string]domain.Vault, len(s.vaults)),
		sets:        make(map[string]domain.RecoveryCodeSet, len(s.sets)),
		codes:       make(map[int64]domain.RecoveryCode, len(s.codes)),
		events:      append([]domain.VaultLockEvent(nil), s.events...),
		nextCodeID:  s.nextCodeID,
		nextEventID: s.nextEventID,
	}
	for k, v := range s.vaults {
		snap.vaults[k] = v
	}
	for k, v := range s.sets {
		snap.sets[k] = v
	}
	for k, v := range s.codes {
		snap.codes[k] = v
	}
	return snap
}

func (s *fakeStore) restore(snap fakeSnapshot) {
	s.vaults = snap.vaults
	s.sets = snap.sets
	s.codes = snap.codes
	s.events = snap.events
	s.nextCodeID = snap.nextCodeID
	s.nextEventID = snap.nextEventID
}

func (s *fakeStore) WithUserLock(ctx context.Context, userID string, fn func(tx repository.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(&fakeTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *fakeStore) GetVault(ctx context.Context, userID string) (*domain.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getVaultLocked(userID)
}

func (s *fakeStore) getVaultLocked(userID string) (*domain.Vault, error) {
	v, ok := s.vaults[userID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := v
	return &out, nil
}

func (s *fakeStore) CountActiveCodes(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, c := range s.codes {
		set, ok := s.sets[c.SetID]
		if ok && set.UserID == userID && set.InvalidatedAt == nil && c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) ListEvents(ctx context.Context, userID string, from, to *time.Time, limit int) ([]*domain.VaultLockEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.VaultLockEvent
	for i := range s.events {
		ev := s.events[i]
		if ev.UserID != userID {
			continue
		}
		if from != nil && ev.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && ev.CreatedAt.After(*to) {
			continue
		}
		out = append(out, &ev)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeTx struct {
	s *fakeStore
}

func (t *fakeTx) GetVault(ctx context.Context, userID string) (*domain.Vault, error) {
	return t.s.getVaultLocked(userID)
}

func (t *fakeTx) CreateVault(ctx context.Context, v *domain.Vault) error {
	if _, ok := t.s.vaults[v.UserID]; ok {
		return xerrors.ErrInvalidRequest
	}
	stored := *v
	stored.CreatedAt = time.Now().UTC()
	stored.UpdatedAt = stored.CreatedAt
	t.s.vaults[v.UserID] = stored
	return nil
}

func (t *fakeTx) SetVaultState(ctx context.Context, userID, state, reason string, at time.Time) error {
	v, ok := t.s.vaults[userID]
	if !ok {
		return xerrors.ErrNotFound
	}
	v.State = state
	v.LockReason = reason
	if state == domain.VaultStateLocked {
		lockedAt := at
		v.LockedAt = &lockedAt
	} else {
		unlockedAt := at
		v.UnlockedAt = &unlockedAt
	}
	v.UpdatedAt = at
	t.s.vaults[userID] = v
	return nil
}

func (t *fakeTx) UpdateWrappedDEK(ctx context.Context, userID string, wrappedDEK []byte, params *domain.KDFParams, at time.Time) error {
	v, ok := t.s.vaults[userID]
	if !ok {
		return xerrors.ErrNotFound
	}
	v.WrappedDEK = wrappedDEK
	v.KDFParams = params
	v.UpdatedAt = at
	t.s.vaults[userID] = v
	return nil
}

func (t *fakeTx) GetActiveSet(ctx context.Context, userID string) (*domain.RecoveryCodeSet, error) {
	for _, set := range t.s.sets {
		if set.UserID == userID && set.InvalidatedAt == nil {
			out := set
			return &out, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (t *fakeTx) InvalidateSet(ctx context.Context, setID string, at time.Time) error {
	set, ok := t.s.sets[setID]
	if !ok || set.InvalidatedAt != nil {
		return xerrors.ErrNotFound
	}
	invalidatedAt := at
	set.InvalidatedAt = &invalidatedAt
	t.s.sets[setID] = set
	return nil
}

func (t *fakeTx) NextGeneration(ctx context.Context, userID string) (int64, error) {
	var max int64
	for _, set := range t.s.sets {
		if set.UserID == userID && set.Generation > max {
			max = set.Generation
		}
	}
	return max + 1, nil
}

func (t *fakeTx) CreateSet(ctx context.Context, set *domain.RecoveryCodeSet) error {
	t.s.sets[set.ID] = *set
	return nil
}

func (t *fakeTx) InsertCodes(ctx context.Context, codes []*domain.RecoveryCode) error {
	for _, c := range codes {
		t.s.nextCodeID++
		c.ID = t.s.nextCodeID
		t.s.codes[c.ID] = *c
	}
	return nil
}

func (t *fakeTx) GetActiveCodes(ctx context.Context, userID string) ([]*domain.RecoveryCode, error) {
	var out []*domain.RecoveryCode
	for _, c := range t.s.codes {
		set, ok := t.s.sets[c.SetID]
		if ok && set.UserID == userID && set.InvalidatedAt == nil {
			code := c
			out = append(out, &code)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *fakeTx) ConsumeCode(ctx context.Context, codeID int64, at time.Time) (bool, error) {
	c, ok := t.s.codes[codeID]
	if !ok || c.UsedAt != nil {
		return false, nil
	}
	usedAt := at
	c.UsedAt = &usedAt
	t.s.codes[codeID] = c
	return true, nil
}

func (t *fakeTx) AppendEvent(ctx context.Context, ev *domain.VaultLockEvent) error {
	t.s.nextEventID++
	ev.ID = t.s.nextEventID
	t.s.events = append(t.s.events, *ev)
	return nil
}
