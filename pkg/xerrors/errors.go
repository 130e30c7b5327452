package xerrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
)

// Vault lifecycle
var (
	ErrVaultNotInitialized     = errors.New("vault not initialized")
	ErrVaultAlreadyInitialized = errors.New("vault already initialized")
	ErrVaultLocked             = errors.New("vault is locked")
)

// Credential family. Handlers must present these to the client with one
// uniform message so a caller cannot tell which check failed.
var (
	ErrAuthenticationFailed    = errors.New("authentication failed")
	ErrInvalidRecoveryCode     = errors.New("invalid recovery code")
	ErrRecoveryCodeAlreadyUsed = errors.New("recovery code already used")
)

// Storage
var (
	ErrStorageFailure = errors.New("storage failure")
)

// IsCredentialError reports whether err belongs to the credential-failure
// family. These are safe to retry after caller-side backoff and never change
// vault state.
func IsCredentialError(err error) bool {
	return errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrInvalidRecoveryCode) ||
		errors.Is(err, ErrRecoveryCodeAlreadyUsed)
}

func ParsePGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}
