package handlers

import (
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/httpx"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/services"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

type loanReq struct {
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interest_rate"`
	DurationDays int             `json:"duration_days"`
}

type repayReq struct {
	Amount decimal.Decimal `json:"amount"`
}

type rejectReq struct {
	Reason string `json:"reason"`
}

func (h *LedgerHandler) RequestLoan(w http.ResponseWriter, r *http.Request) {
	var req loanReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	l, res, err := h.Loans.ExecuteLoan(r.Context(), services.ExecuteLoan{
		UserID:         caller(r),
		Amount:         req.Amount,
		InterestRate:   req.InterestRate,
		DurationDays:   req.DurationDays,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, l, res, err)
}

func (h *LedgerHandler) RepayLoan(w http.ResponseWriter, r *http.Request) {
	id, err := owned(r, h.Records.Loan, func(l models.Loan) string { return l.UserID })
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	var req repayReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	l, res, err := h.Loans.RepayLoan(r.Context(), services.RepayLoan{
		LoanID:         id,
		Amount:         req.Amount,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusOK, l, res, err)
}

func (h *LedgerHandler) ApproveLoan(w http.ResponseWriter, r *http.Request) {
	l, res, err := h.Loans.ApproveLoan(r.Context(), services.ApproveLoan{LoanID: chi.URLParam(r, "id")})
	settled(w, r, http.StatusOK, l, res, err)
}

func (h *LedgerHandler) RejectLoan(w http.ResponseWriter, r *http.Request) {
	var req rejectReq
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Fail(w, r, err)
			return
		}
	}
	l, res, err := h.Loans.RejectLoan(r.Context(), services.RejectLoan{LoanID: chi.URLParam(r, "id"), Reason: req.Reason})
	settled(w, r, http.StatusOK, l, res, err)
}
