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

type investmentReq struct {
	PlanID        string          `json:"plan_id"`
	PlanName      string          `json:"plan_name"`
	Amount        decimal.Decimal `json:"amount"`
	Interest      decimal.Decimal `json:"interest"`
	InterestType  string          `json:"interest_type"`
	PeriodSeconds int64           `json:"period_seconds"`
	RepeatTime    int             `json:"repeat_time"`
	CapitalBack   bool            `json:"capital_back"`
}

type payoutsReq struct {
	Limit int `json:"limit"`
}

func (h *LedgerHandler) StartInvestment(w http.ResponseWriter, r *http.Request) {
	var req investmentReq
	if err := httpx.Decode(r, &req); err != nil {
		httpx.Fail(w, r, err)
		return
	}
	inv, res, err := h.Investments.ExecuteInvestment(r.Context(), services.ExecuteInvestment{
		UserID:         caller(r),
		PlanID:         req.PlanID,
		PlanName:       req.PlanName,
		Amount:         req.Amount,
		Interest:       req.Interest,
		InterestType:   models.InterestType(req.InterestType),
		Period:         time.Duration(req.PeriodSeconds) * time.Second,
		RepeatTime:     req.RepeatTime,
		CapitalBack:    req.CapitalBack,
		IdempotencyKey: idemKey(r),
	})
	settled(w, r, http.StatusCreated, inv, res, err)
}

func (h *LedgerHandler) CancelInvestment(w http.ResponseWriter, r *http.Request) {
	id, err := owned(r, h.Records.Investment, func(i models.Investment) string { return i.UserID })
	if err != nil {
		httpx.Fail(w, r, err)
		return
	}
	inv, res, err := h.Investments.CancelInvestment(r.Context(), services.CancelInvestment{InvestmentID: id})
	settled(w, r, http.StatusOK, inv, res, err)
}

func (h *LedgerHandler) PayoutInvestment(w http.ResponseWriter, r *http.Request) {
	inv, res, err := h.Investments.Payout(r.Context(), services.Payout{InvestmentID: chi.URLParam(r, "id")})
	settled(w, r, http.StatusOK, inv, res, err)
}

// PayDue runs one payout sweep. Partial failures still report what was
// paid, with the errors alongside.
func (h *LedgerHandler) PayDue(w http.ResponseWriter, r *http.Request) {
	var req payoutsReq
	if r.ContentLength != 0 {
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Fail(w, r, err)
			return
		}
	}
	paid, err := h.Investments.PayDue(r.Context(), time.Time{}, req.Limit)
	body := map[string]any{"paid": paid, "count": len(paid)}
	if err != nil {
		body["errors"] = err.Error()
	}
	httpx.WriteJSON(w, http.StatusOK, body)
}
