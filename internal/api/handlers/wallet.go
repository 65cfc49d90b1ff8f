package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
)

func (h *LedgerHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	b, err := h.Balances.Current(r.Context(), caller(r))
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"user_id": caller(r), "balances": b})
}

func (h *LedgerHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	entries, err := h.Balances.Entries(r.Context(), caller(r), limit, offset)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *LedgerHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	limit, offset := page(r)
	trades, err := h.Trades.Trades(r.Context(), caller(r), limit, offset)
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"trades": trades})
}
