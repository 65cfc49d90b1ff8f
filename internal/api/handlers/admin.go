package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/shopspring/decimal"
)

type adjustReq struct {
	UserID string          `json:"user_id"`
	Symbol string          `json:"symbol"`
	Amount decimal.Decimal `json:"amount"` // signed
	Reason string          `json:"reason"`
}

// AdjustBalance applies a manual correction, attributed to the admin.
func (h *LedgerHandler) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	var req adjustReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	if err := validate.Collect(
		validate.Required("user_id", req.UserID),
		validate.Required("symbol", req.Symbol),
		validate.NonZero("amount", req.Amount),
		validate.Required("reason", req.Reason),
	); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	res, err := h.Balances.AdjustBalance(r.Context(), services.AdjustBalance{
		UserID:         req.UserID,
		Symbol:         req.Symbol,
		Amount:         req.Amount,
		Reason:         req.Reason,
		AdminID:        caller(r),
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, nil, res, err)
}
