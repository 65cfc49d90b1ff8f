package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/baharkarakas/wallet-ledger/internal/api/validate"
	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/services"
)

// MaxBody caps request bodies.
const MaxBody = 1 << 20

type APIError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, code, msg string, details any) {
	WriteJSON(w, status, APIError{
		Error:   msg,
		Code:    code,
		Details: details,
	})
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return validate.Errs{{Field: "body", Msg: err.Error()}}
	}
	return nil
}

// Fail maps a service error onto a status and error code.
func Fail(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve  validate.Errs
		ibe *ledger.InsufficientBalanceError
	)
	switch {
	case errors.As(err, &ve):
		WriteError(w, http.StatusBadRequest, "validation_error", "validation failed", ve)
	case errors.As(err, &ibe):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(),
			map[string]string{"symbol": ibe.Symbol, "balance": ibe.Balance.String(), "required": ibe.Required.String()})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		WriteError(w, http.StatusUnprocessableEntity, "insufficient_balance", err.Error(), nil)
	case errors.Is(err, ledger.ErrIdempotencyMismatch):
		WriteError(w, http.StatusUnprocessableEntity, "idempotency_mismatch", err.Error(), nil)
	case errors.Is(err, services.ErrValidation), errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrSameAccount), errors.Is(err, ledger.ErrEmptyBatch):
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		WriteError(w, http.StatusUnauthorized, "unauthorized", err.Error(), nil)
	case errors.Is(err, services.ErrNotFound), errors.Is(err, ledger.ErrAccountNotFound):
		WriteError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, services.ErrInvalidState):
		WriteError(w, http.StatusConflict, "invalid_state", err.Error(), nil)
	case errors.Is(err, repository.ErrDuplicate):
		WriteError(w, http.StatusConflict, "conflict", "already exists", nil)
	case errors.Is(err, ledger.ErrConflict):
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusConflict, "conflict", err.Error(), nil)
	default:
		slog.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "err", err)
		WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
