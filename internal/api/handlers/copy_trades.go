package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type copyTradeReq struct {
	TraderID       string          `json:"trader_id"`
	Amount         decimal.Decimal `json:"amount"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

type cycleReq struct {
	PnL decimal.Decimal `json:"pnl"`
}

func (h *LedgerHandler) StartCopyTrade(w http.ResponseWriter, r *http.Request) {
	var req copyTradeReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	ct, res, err := h.CopyTrades.StartCopyTrade(r.Context(), services.StartCopyTrade{
		UserID:         caller(r),
		TraderID:       req.TraderID,
		Amount:         req.Amount,
		CommissionRate: req.CommissionRate,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, ct, res, err)
}

func (h *LedgerHandler) StopCopyTrade(w http.ResponseWriter, r *http.Request) {
	id, err := owned(r, h.Records.CopyTrade, func(c models.CopyTrade) string { return c.UserID })
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	ct, res, err := h.CopyTrades.StopCopyTrade(r.Context(), services.StopCopyTrade{CopyTradeID: id})
	settled(w, r, http.StatusOK, ct, res, err)
}

func (h *LedgerHandler) CloseCopyTradeCycle(w http.ResponseWriter, r *http.Request) {
	var req cycleReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	ct, res, err := h.CopyTrades.CloseCopyTradeCycle(r.Context(), services.CloseCopyTradeCycle{
		CopyTradeID:    chi.URLParam(r, "id"),
		PnL:            req.PnL,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusOK, ct, res, err)
}
