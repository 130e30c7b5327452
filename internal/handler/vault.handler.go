package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	vaultservice "vault-service/internal/service/vault"
	"vault-service/pkg/middleware"
	"vault-service/pkg/response"
	"vault-service/pkg/xerrors"
)

type VaultHandler struct {
	vault    *vaultservice.VaultService
	recovery *vaultservice.RecoveryService
	logger   *zap.Logger
}

func NewVaultHandler(vault *vaultservice.VaultService, recovery *vaultservice.RecoveryService, logger *zap.Logger) *VaultHandler {
	return &VaultHandler{vault: vault, recovery: recovery, logger: logger}
}

type InitializeRequest struct {
	Passphrase string `json:"passphrase"`
}

type LockRequest struct {
	Reason string `json:"reason"`
}

type UnlockRequest struct {
	Passphrase string `json:"passphrase"`
}

type ChangePassphraseRequest struct {
	OldPassphrase string `json:"old_passphrase"`
	NewPassphrase string `json:"new_passphrase"`
}

type GenerateCodesRequest struct {
	Passphrase string `json:"passphrase"`
	Count      int    `json:"count"`
}

type RedeemCodeRequest struct {
	Code string `json:"code"`
}

func decodeRequestBody(r *http.Request, target interface{}) error {
	return json.NewDecoder(r.Body).Decode(target)
}

func (h *VaultHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return userID, true
}

// writeServiceError maps service errors onto HTTP statuses. The whole
// credential family collapses into one message so callers cannot tell which
// check failed.
func (h *VaultHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case xerrors.IsCredentialError(err):
		response.Error(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, xerrors.ErrVaultNotInitialized):
		response.Error(w, http.StatusPreconditionFailed, "vault not initialized")
	case errors.Is(err, xerrors.ErrVaultAlreadyInitialized):
		response.Error(w, http.StatusConflict, "vault already initialized")
	case errors.Is(err, xerrors.ErrVaultLocked):
		response.Error(w, http.StatusConflict, "vault is locked")
	case errors.Is(err, xerrors.ErrInvalidRequest):
		response.Error(w, http.StatusBadRequest, "invalid request")
	default:
		h.logger.Error("vault operation failed", zap.Error(err))
		response.Error(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *VaultHandler) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req InitializeRequest
	if err := decodeRequestBody(r, &req); err != nil || req.Passphrase == "" {
		response.Error(w, http.StatusBadRequest, "passphrase required")
		return
	}

	if err := h.vault.Initialize(r.Context(), userID, req.Passphrase); err != nil {
		h.writeServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]interface{}{
		"state": "locked",
	})
}

func (h *VaultHandler) HandleLock(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req LockRequest
	_ = decodeRequestBody(r, &req) // reason is optional

	if err := h.vault.Lock(r.Context(), userID, req.Reason); err != nil {
		h.writeServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"state": "locked",
	})
}

func (h *VaultHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req UnlockRequest
	if err := decodeRequestBody(r, &req); err != nil || req.Passphrase == "" {
		response.Error(w, http.StatusBadRequest, "passphrase required")
		return
	}

	dek, err := h.vault.Unlock(r.Context(), userID, req.Passphrase)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// The DEK is handed to this request's session scope only; the service
	// has no copy.
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"state": "unlocked",
		"dek":   base64.StdEncoding.EncodeToString(dek),
	})
}

func (h *VaultHandler) HandleChangePassphrase(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req ChangePassphraseRequest
	if err := decodeRequestBody(r, &req); err != nil || req.OldPassphrase == "" || req.NewPassphrase == "" {
		response.Error(w, http.StatusBadRequest, "old and new passphrase required")
		return
	}

	if err := h.vault.ChangePassphrase(r.Context(), userID, req.OldPassphrase, req.NewPassphrase); err != nil {
		h.writeServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"rotated": true,
	})
}

func (h *VaultHandler) HandleGenerateRecoveryCodes(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req GenerateCodesRequest
	if err := decodeRequestBody(r, &req); err != nil || req.Passphrase == "" {
		response.Error(w, http.StatusBadRequest, "passphrase required")
		return
	}

	codes, err := h.recovery.GenerateCodes(r.Context(), userID, req.Passphrase, req.Count)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	// One-time display: this response is the only place the plaintext codes
	// ever exist outside the user's own copy.
	response.JSON(w, http.StatusCreated, map[string]interface{}{
		"codes": codes,
	})
}

func (h *VaultHandler) HandleRedeemRecoveryCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req RedeemCodeRequest
	if err := decodeRequestBody(r, &req); err != nil || req.Code == "" {
		response.Error(w, http.StatusBadRequest, "code required")
		return
	}

	dek, err := h.recovery.RedeemCode(r.Context(), userID, req.Code)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]interface{}{
		"state": "unlocked",
		"dek":   base64.StdEncoding.EncodeToString(dek),
	})
}

func (h *VaultHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	status, err := h.vault.Status(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, status)
}

func (h *VaultHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var (
		from, to *time.Time
		limit    = 50
	)
	if v := r.URL.Query().Get("from"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
		from = &ts
	}
	if v := r.URL.Query().Get("to"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
		to = &ts
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			response.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	events, err := h.vault.ListEvents(r.Context(), userID, from, to, limit)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
	})
}

func (h *VaultHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]interface{}{
		"service": "vault-service",
		"healthy": true,
	})
}
