package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/middleware"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const IdempotencyHeader = "Idempotency-Key"

// LedgerHandler serves the settlement commands and balance reads.
type LedgerHandler struct {
	Records     repository.Records
	Balances    *services.BalanceService
	Trades      *services.TradeService
	Investments *services.InvestmentService
	Crypto      *services.CryptoService
	CopyTrades  *services.CopyTradeService
	Loans       *services.LoanService
}

type settlementResp struct {
	Data        any                                   `json:"data"`
	OperationID string                                `json:"operation_id"`
	Kind        string                                `json:"kind"`
	Replayed    bool                                  `json:"replayed"`
	Balances    map[string]map[string]decimal.Decimal `json:"balances"`
}

// settled writes the outcome of a command. created is the status for a
// first application; replays always answer 200.
func settled(w http.ResponseWriter, r *http.Request, created int, data any, res ledger.Result, err error) {
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	status := created
	if res.Replayed {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, settlementResp{
		Data:        data,
		OperationID: res.Operation.ID,
		Kind:        string(res.Operation.Kind),
		Replayed:    res.Replayed,
		Balances:    res.Balances,
	})
}

func idemKey(r *http.Request) string { return r.Header.Get(IdempotencyHeader) }

func caller(r *http.Request) string {
	u, _ := middleware.FromCtx(r.Context())
	return u.UserID
}

// owned loads a record and hides it unless it belongs to the caller.
func owned[T any](r *http.Request, load func(context.Context, string) (T, error), owner func(T) string) (string, error) {
	id := chi.URLParam(r, "id")
	rec, err := load(r.Context(), id)
	if err != nil {
		return "", err
	}
	if owner(rec) != caller(r) {
		return "", services.ErrNotFound
	}
	return id, nil
}

func page(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
