package domain

import (
	"time"
)

// Vault states. Transitions happen only through the vault service; nothing
// else writes the state column.
const (
	VaultStateLocked   = "locked"
	VaultStateUnlocked = "unlocked"
)

// Lock reasons. Explanatory only, never a security boundary.
const (
	LockReasonUser       = "user"
	LockReasonInactivity = "inactivity_timeout"
	LockReasonSystem     = "system"
)

// Lock event types.
const (
	EventLocked                   = "locked"
	EventUnlocked                 = "unlocked"
	EventUnlockedViaRecoveryCode  = "unlocked_via_recovery_code"
	EventRecoveryCodesGenerated   = "recovery_codes_generated"
	EventRecoveryCodesInvalidated = "recovery_codes_invalidated"
	EventPassphraseRotated        = "passphrase_rotated"
)

// KDFParams holds the argon2id parameters and salt used to derive a wrapping
// key. Stored alongside the blob they protect so old blobs stay readable when
// defaults change.
type KDFParams struct {
	Algorithm string `json:"alg"` // "argon2id"
	Salt      []byte `json:"salt"`
	Time      uint32 `json:"time"`
	MemoryKiB uint32 `json:"memory_kib"`
	Threads   uint8  `json:"threads"`
	KeyLen    uint32 `json:"key_len"`
}

// Vault is the per-user lock/unlock row. WrappedDEK and KDFParams are either
// both set (initialized) or both empty.
type Vault struct {
	UserID     string     `json:"user_id"`
	State      string     `json:"state"`
	WrappedDEK []byte     `json:"-"`
	KDFParams  *KDFParams `json:"-"`
	LockReason string     `json:"lock_reason,omitempty"`
	LockedAt   *time.Time `json:"locked_at,omitempty"`
	UnlockedAt *time.Time `json:"unlocked_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Initialized reports whether the vault has a wrapped DEK yet.
func (v *Vault) Initialized() bool {
	return v != nil && len(v.WrappedDEK) > 0 && v.KDFParams != nil
}

// RecoveryCodeSet is one generation batch of recovery codes. Only the
// highest generation with a null InvalidatedAt is redeemable.
type RecoveryCodeSet struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Generation    int64      `json:"generation"`
	CreatedAt     time.Time  `json:"created_at"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// RecoveryCode is a single one-time code. The plaintext is never stored;
// CodeHash is a salted SHA-256 of the normalized code, and WrappedDEK is the
// vault DEK wrapped under a key derived from this code alone.
type RecoveryCode struct {
	ID         int64      `json:"id"`
	SetID      string     `json:"set_id"`
	CodeHash   []byte     `json:"-"`
	CodeSalt   []byte     `json:"-"`
	WrappedDEK []byte     `json:"-"`
	KDFParams  *KDFParams `json:"-"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// VaultLockEvent is one append-only audit row. Written in the same
// transaction as the state change it records; never updated or deleted.
type VaultLockEvent struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	EventType string    `json:"event_type"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// VaultStatus is the read-model returned to the dashboard.
type VaultStatus struct {
	Initialized     bool       `json:"initialized"`
	State           string     `json:"state"`
	LockedAt        *time.Time `json:"locked_at,omitempty"`
	UnlockedAt      *time.Time `json:"unlocked_at,omitempty"`
	ActiveCodesLeft int        `json:"active_codes_left"`
}
