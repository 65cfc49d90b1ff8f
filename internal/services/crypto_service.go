package services

import (
	"context"
	"errors"

	"github.com/baharkarakas/wallet-ledger/internal/ledger"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SendCrypto struct {
	UserID         string
	Token          string
	Amount         decimal.Decimal
	Fee            decimal.Decimal
	Address        string
	IdempotencyKey string
}

type ConfirmSend struct {
	TransferID string
	Status     models.TransferStatus // completed|failed
	TxHash     string
}

type ReceiveCrypto struct {
	UserID         string
	Token          string
	Amount         decimal.Decimal
	TxHash         string
	IdempotencyKey string
}

type SwapCrypto struct {
	UserID         string
	FromToken      string
	FromAmount     decimal.Decimal
	ToToken        string
	ToAmount       decimal.Decimal
	IdempotencyKey string
}

type CryptoService struct {
	Deps
	users repository.Users
	// referralPercent of every receive goes to the receiver's referrer.
	referralPercent decimal.Decimal
}

func NewCryptoService(d Deps, users repository.Users, referralPercent decimal.Decimal) *CryptoService {
	return &CryptoService{Deps: d, users: users, referralPercent: referralPercent}
}

// SendCrypto reserves amount+fee by debiting it now. ConfirmSend settles
// the reservation later.
func (s *CryptoService) SendCrypto(ctx context.Context, c SendCrypto) (models.CryptoTransfer, ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	token := models.NormalizeSymbol(c.Token)
	if err := requireID("token", token); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if c.Fee.IsNegative() {
		return models.CryptoTransfer{}, ledger.Result{}, invalid("fee must be >= 0")
	}
	if err := requireID("address", c.Address); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}

	now := s.now()
	opID := uuid.NewString()
	tr := models.CryptoTransfer{
		ID:          uuid.NewString(),
		UserID:      c.UserID,
		Kind:        models.TransferSend,
		Token:       token,
		Amount:      models.Quantize(token, c.Amount),
		Fee:         models.Quantize(token, c.Fee),
		Address:     c.Address,
		Status:      models.TransferPending,
		OperationID: opID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCryptoSend,
		AccountID:      c.UserID,
		OperationID:    opID,
		IdempotencyKey: ledger.ClientKey(models.OpCryptoSend, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"transfer_id": tr.ID, "token": token, "address": c.Address},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			if err := tx.SaveTransfer(ctx, tr); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{
				Deltas: []ledger.Delta{{AccountID: c.UserID, Symbol: token, Amount: tr.Reserved().Neg()}},
				Event: &ledger.Event{
					Type: models.EventCryptoSent,
					Payload: map[string]any{
						"transfer_id": tr.ID,
						"token":       token,
						"amount":      tr.Amount.String(),
						"fee":         tr.Fee.String(),
						"address":     tr.Address,
						"status":      string(tr.Status),
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if res.Replayed {
		tr, err = replayed(ctx, res, "transfer_id", s.store().Transfer)
	}
	return tr, res, err
}

// ConfirmSend moves a pending send to completed or failed. A failed send
// credits the reservation back; a completed one changes no balance.
func (s *CryptoService) ConfirmSend(ctx context.Context, c ConfirmSend) (models.CryptoTransfer, ledger.Result, error) {
	if err := requireID("transfer_id", c.TransferID); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if c.Status != models.TransferCompleted && c.Status != models.TransferFailed {
		return models.CryptoTransfer{}, ledger.Result{}, invalid("status must be completed or failed")
	}
	pre, err := s.store().Transfer(ctx, c.TransferID)
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}

	var done models.CryptoTransfer
	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCryptoSendConfirm,
		AccountID:      pre.UserID,
		IdempotencyKey: "crypto_send_confirm:" + pre.ID,
		Metadata:       map[string]any{"transfer_id": pre.ID, "status": string(c.Status)},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			tr, err := tx.Transfer(ctx, c.TransferID)
			if err != nil {
				return ledger.Plan{}, err
			}
			if tr.Kind != models.TransferSend {
				return ledger.Plan{}, badState("transfer %s is a %s", tr.ID, tr.Kind)
			}
			if tr.Status != models.TransferPending {
				return ledger.Plan{}, badState("transfer %s is %s", tr.ID, tr.Status)
			}
			tr.Status = c.Status
			if c.TxHash != "" {
				tr.TxHash = c.TxHash
			}
			tr.UpdatedAt = s.now()
			if err := tx.SaveTransfer(ctx, tr); err != nil {
				return ledger.Plan{}, err
			}
			done = tr

			ev := models.EventCryptoSendCompleted
			var deltas []ledger.Delta
			if c.Status == models.TransferFailed {
				ev = models.EventCryptoSendFailed
				deltas = []ledger.Delta{{AccountID: tr.UserID, Symbol: tr.Token, Amount: tr.Reserved()}}
			}
			return ledger.Plan{
				Deltas: deltas,
				Event: &ledger.Event{
					Type: ev,
					Payload: map[string]any{
						"transfer_id": tr.ID,
						"token":       tr.Token,
						"amount":      tr.Amount.String(),
						"fee":         tr.Fee.String(),
						"tx_hash":     tr.TxHash,
						"status":      string(tr.Status),
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if res.Replayed {
		done, err = s.store().Transfer(ctx, pre.ID)
	}
	return done, res, err
}

// ReceiveCrypto credits an inbound deposit. When the receiver was referred
// and the referral rate is set, the referrer is credited in the same batch.
func (s *CryptoService) ReceiveCrypto(ctx context.Context, c ReceiveCrypto) (models.CryptoTransfer, ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	token := models.NormalizeSymbol(c.Token)
	if err := requireID("token", token); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if err := requirePositive("amount", c.Amount); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}

	referrer, commission, err := s.referral(ctx, c.UserID, token, c.Amount)
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}

	now := s.now()
	opID := uuid.NewString()
	tr := models.CryptoTransfer{
		ID:          uuid.NewString(),
		UserID:      c.UserID,
		Kind:        models.TransferReceive,
		Token:       token,
		Amount:      models.Quantize(token, c.Amount),
		TxHash:      c.TxHash,
		Status:      models.TransferCompleted,
		OperationID: opID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	meta := map[string]any{"transfer_id": tr.ID, "token": token}
	var lock []string
	if referrer != "" {
		lock = []string{referrer}
		meta["referrer_id"] = referrer
		meta["referral_commission"] = commission.String()
	}

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCryptoReceive,
		AccountID:      c.UserID,
		Lock:           lock,
		OperationID:    opID,
		IdempotencyKey: ledger.ClientKey(models.OpCryptoReceive, c.IdempotencyKey, c.UserID),
		Metadata:       meta,
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			if err := tx.SaveTransfer(ctx, tr); err != nil {
				return ledger.Plan{}, err
			}
			deltas := []ledger.Delta{{AccountID: c.UserID, Symbol: token, Amount: tr.Amount}}
			payload := map[string]any{
				"transfer_id": tr.ID,
				"token":       token,
				"amount":      tr.Amount.String(),
				"tx_hash":     tr.TxHash,
			}
			if referrer != "" {
				deltas = append(deltas, ledger.Delta{AccountID: referrer, Symbol: token, Amount: commission})
				payload["referrer_id"] = referrer
				payload["referral_commission"] = commission.String()
			}
			return ledger.Plan{Deltas: deltas, Event: &ledger.Event{Type: models.EventCryptoReceived, Payload: payload}}, nil
		},
	})
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if res.Replayed {
		tr, err = replayed(ctx, res, "transfer_id", s.store().Transfer)
	}
	return tr, res, err
}

// referral resolves the referrer and commission for a receive. A missing
// user record means no referral, not a failure.
func (s *CryptoService) referral(ctx context.Context, userID, token string, amount decimal.Decimal) (string, decimal.Decimal, error) {
	if s.users == nil || !s.referralPercent.IsPositive() {
		return "", decimal.Zero, nil
	}
	u, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", decimal.Zero, nil
	}
	if err != nil {
		return "", decimal.Zero, err
	}
	if u.ReferredBy == nil || *u.ReferredBy == "" || *u.ReferredBy == userID {
		return "", decimal.Zero, nil
	}
	commission := models.Quantize(token, amount.Mul(s.referralPercent).Div(decimal.NewFromInt(100)))
	if !commission.IsPositive() {
		return "", decimal.Zero, nil
	}
	return *u.ReferredBy, commission, nil
}

// SwapCrypto exchanges one token for another on the same account in one
// batch. Rates are decided by the caller.
func (s *CryptoService) SwapCrypto(ctx context.Context, c SwapCrypto) (models.CryptoTransfer, ledger.Result, error) {
	if err := requireID("user_id", c.UserID); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	from, to := models.NormalizeSymbol(c.FromToken), models.NormalizeSymbol(c.ToToken)
	if from == "" || to == "" {
		return models.CryptoTransfer{}, ledger.Result{}, invalid("from_token and to_token required")
	}
	if from == to {
		return models.CryptoTransfer{}, ledger.Result{}, invalid("cannot swap %s to itself", from)
	}
	if err := requirePositive("from_amount", c.FromAmount); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if err := requirePositive("to_amount", c.ToAmount); err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}

	now := s.now()
	opID := uuid.NewString()
	tr := models.CryptoTransfer{
		ID:          uuid.NewString(),
		UserID:      c.UserID,
		Kind:        models.TransferSwap,
		Token:       from,
		Amount:      models.Quantize(from, c.FromAmount),
		ToToken:     to,
		ToAmount:    models.Quantize(to, c.ToAmount),
		Status:      models.TransferCompleted,
		OperationID: opID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	res, err := s.Engine.Settle(ctx, ledger.Settlement{
		Kind:           models.OpCryptoSwap,
		AccountID:      c.UserID,
		OperationID:    opID,
		IdempotencyKey: ledger.ClientKey(models.OpCryptoSwap, c.IdempotencyKey, c.UserID),
		Metadata:       map[string]any{"transfer_id": tr.ID, "from": from, "to": to},
		Plan: func(ctx context.Context, tx repository.Tx) (ledger.Plan, error) {
			if err := tx.SaveTransfer(ctx, tr); err != nil {
				return ledger.Plan{}, err
			}
			return ledger.Plan{
				Deltas: []ledger.Delta{
					{AccountID: c.UserID, Symbol: from, Amount: tr.Amount.Neg()},
					{AccountID: c.UserID, Symbol: to, Amount: tr.ToAmount},
				},
				Event: &ledger.Event{
					Type: models.EventCryptoSwapped,
					Payload: map[string]any{
						"transfer_id": tr.ID,
						"from_token":  from,
						"from_amount": tr.Amount.String(),
						"to_token":    to,
						"to_amount":   tr.ToAmount.String(),
					},
				},
			}, nil
		},
	})
	if err != nil {
		return models.CryptoTransfer{}, ledger.Result{}, err
	}
	if res.Replayed {
		tr, err = replayed(ctx, res, "transfer_id", s.store().Transfer)
	}
	return tr, res, err
}
