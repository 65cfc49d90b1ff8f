package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type sendReq struct {
	Token   string          `json:"token"`
	Amount  decimal.Decimal `json:"amount"`
	Fee     decimal.Decimal `json:"fee"`
	Address string          `json:"address"`
}

type swapReq struct {
	FromToken  string          `json:"from_token"`
	FromAmount decimal.Decimal `json:"from_amount"`
	ToToken    string          `json:"to_token"`
	ToAmount   decimal.Decimal `json:"to_amount"`
}

type receiveReq struct {
	UserID string          `json:"user_id"`
	Token  string          `json:"token"`
	Amount decimal.Decimal `json:"amount"`
	TxHash string          `json:"tx_hash"`
}

type confirmReq struct {
	Status string `json:"status"`
	TxHash string `json:"tx_hash,omitempty"`
}

func (h *LedgerHandler) SendCrypto(w http.ResponseWriter, r *http.Request) {
	var req sendReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	t, res, err := h.Crypto.SendCrypto(r.Context(), services.SendCrypto{
		UserID:         caller(r),
		Token:          req.Token,
		Amount:         req.Amount,
		Fee:            req.Fee,
		Address:        req.Address,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, t, res, err)
}

func (h *LedgerHandler) SwapCrypto(w http.ResponseWriter, r *http.Request) {
	var req swapReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	t, res, err := h.Crypto.SwapCrypto(r.Context(), services.SwapCrypto{
		UserID:         caller(r),
		FromToken:      req.FromToken,
		FromAmount:     req.FromAmount,
		ToToken:        req.ToToken,
		ToAmount:       req.ToAmount,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, t, res, err)
}

// ReceiveCrypto credits an observed deposit to the user named in the body.
func (h *LedgerHandler) ReceiveCrypto(w http.ResponseWriter, r *http.Request) {
	var req receiveReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	if err := validate.Collect(validate.Required("user_id", req.UserID)); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	key := idemKey(r)
	if key == "" && req.TxHash != "" {
		key = "crypto_receive:" + models.NormalizeSymbol(req.Token) + ":" + req.TxHash
	}
	t, res, err := h.Crypto.ReceiveCrypto(r.Context(), services.ReceiveCrypto{
		UserID:         req.UserID,
		Token:          req.Token,
		Amount:         req.Amount,
		TxHash:         req.TxHash,
		IdempotencyKey: key,
	})
	settled(w, r, http.StatusCreated, t, res, err)
}

func (h *LedgerHandler) ConfirmSend(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	if err := validate.Collect(validate.OneOf("status", req.Status,
		string(models.TransferCompleted), string(models.TransferFailed))); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	t, res, err := h.Crypto.ConfirmSend(r.Context(), services.ConfirmSend{
		TransferID: chi.URLParam(r, "id"),
		Status:     models.TransferStatus(req.Status),
		TxHash:     req.TxHash,
	})
	settled(w, r, http.StatusOK, t, res, err)
}
