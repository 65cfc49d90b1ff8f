package handlers

import (
	"net/http"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type tradeReq struct {
	Pair            string          `json:"pair"`
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	Leverage        int             `json:"leverage"`
	DurationSeconds int64           `json:"duration_seconds"`
	EntryPrice      decimal.Decimal `json:"entry_price"`
	TradingMode     string          `json:"trading_mode"`
}

type closeTradeReq struct {
	ExitPrice decimal.Decimal `json:"exit_price"`
}

func (h *LedgerHandler) OpenTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	t, res, err := h.Trades.ExecuteTrade(r.Context(), services.ExecuteTrade{
		UserID:         caller(r),
		Pair:           req.Pair,
		Type:           models.TradeType(req.Type),
		Amount:         req.Amount,
		Leverage:       req.Leverage,
		Duration:       time.Duration(req.DurationSeconds) * time.Second,
		EntryPrice:     req.EntryPrice,
		TradingMode:    models.TradingMode(req.TradingMode),
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, t, res, err)
}

// CloseTrade closes one of the caller's own trades.
func (h *LedgerHandler) CloseTrade(w http.ResponseWriter, r *http.Request) {
	id, err := owned(r, h.Records.Trade, func(t models.Trade) string { return t.UserID })
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	h.closeTrade(w, r, id)
}

// AdminCloseTrade settles any trade, e.g. on expiry.
func (h *LedgerHandler) AdminCloseTrade(w http.ResponseWriter, r *http.Request) {
	h.closeTrade(w, r, chi.URLParam(r, "id"))
}

func (h *LedgerHandler) closeTrade(w http.ResponseWriter, r *http.Request, id string) {
	var req closeTradeReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	t, res, err := h.Trades.CloseTrade(r.Context(), services.CloseTrade{TradeID: id, ExitPrice: req.ExitPrice})
	settled(w, r, http.StatusOK, t, res, err)
}
