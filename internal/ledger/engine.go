// Package ledger applies balance changes atomically. Every mutation runs
// in one store transaction holding exclusive locks on the accounts it
// touches; a batch either commits with all of its entries and its outbox
// event, or has no effect.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Delta is one signed balance change inside a batch.
type Delta struct {
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
}

// Event describes the notification written to the outbox with a batch.
type Event struct {
	Type    models.EventType
	UserID  string
	Payload map[string]any
}

// Plan is what a settlement computes from the locked state.
type Plan struct {
	Deltas   []Delta
	Event    *Event
	Metadata map[string]any
}

// PlanFunc runs inside the transaction, after the accounts are locked.
// It may read and write domain records through tx. It can run more than
// once when the engine retries a conflicting attempt.
type PlanFunc func(ctx context.Context, tx repository.Tx) (Plan, error)

type Settlement struct {
	Kind models.OperationKind
	// AccountID owns the operation and is always locked.
	AccountID string
	// Lock lists further accounts the plan may touch.
	Lock           []string
	OperationID    string
	IdempotencyKey string
	Metadata       map[string]any
	Plan           PlanFunc
}

type Result struct {
	Operation models.SettlementOperation
	// Balances holds the post balance of every (account, symbol) touched.
	Balances map[string]map[string]decimal.Decimal
	Replayed bool
}

// Balance returns the post balance of a touched pair, or zero.
func (r Result) Balance(accountID, symbol string) decimal.Decimal {
	return r.Balances[accountID][models.NormalizeSymbol(symbol)]
}

type Options struct {
	MaxRetries  int
	LockTimeout time.Duration
	Backoff     time.Duration
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 25 * time.Millisecond
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

type Engine struct {
	store repository.Store
	log   *slog.Logger
	opts  Options
}

func NewEngine(store repository.Store, log *slog.Logger, opts Options) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: store, log: log, opts: opts.withDefaults()}
}

// Store exposes the underlying store for read paths.
func (e *Engine) Store() repository.Store { return e.store }

// ----------------- Account reads -----------------

// Balance returns the balance of one symbol; unknown symbols are zero.
func (e *Engine) Balance(ctx context.Context, accountID, symbol string) (decimal.Decimal, error) {
	all, err := e.Balances(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return all[models.NormalizeSymbol(symbol)], nil
}

func (e *Engine) Balances(ctx context.Context, accountID string) (map[string]decimal.Decimal, error) {
	b, err := e.store.Balances(ctx, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	return b, err
}

// ----------------- Primitives -----------------

func (e *Engine) Credit(ctx context.Context, accountID, symbol string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	return e.Settle(ctx, Settlement{
		Kind:      models.OpCredit,
		AccountID: accountID,
		Plan:      Deltas(Delta{AccountID: accountID, Symbol: symbol, Amount: amount}),
	})
}

func (e *Engine) Debit(ctx context.Context, accountID, symbol string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	return e.Settle(ctx, Settlement{
		Kind:      models.OpDebit,
		AccountID: accountID,
		Plan:      Deltas(Delta{AccountID: accountID, Symbol: symbol, Amount: amount.Neg()}),
	})
}

func (e *Engine) Transfer(ctx context.Context, fromID, toID, symbol string, amount decimal.Decimal) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, ErrInvalidAmount
	}
	if fromID == toID {
		return Result{}, ErrSameAccount
	}
	return e.Settle(ctx, Settlement{
		Kind:      models.OpTransfer,
		AccountID: fromID,
		Lock:      []string{toID},
		Metadata:  map[string]any{"to_account_id": toID},
		Plan: Deltas(
			Delta{AccountID: fromID, Symbol: symbol, Amount: amount.Neg()},
			Delta{AccountID: toID, Symbol: symbol, Amount: amount},
		),
	})
}

// ApplyBatch commits all deltas together or none of them. The operation
// id doubles as idempotency key, so re-applying the same id is a no-op.
func (e *Engine) ApplyBatch(ctx context.Context, operationID string, deltas []Delta) (Result, error) {
	if len(deltas) == 0 {
		return Result{}, ErrEmptyBatch
	}
	if operationID == "" {
		operationID = uuid.NewString()
	}
	var lock []string
	for _, d := range deltas {
		lock = append(lock, d.AccountID)
	}
	return e.Settle(ctx, Settlement{
		Kind:           models.OpBatch,
		AccountID:      deltas[0].AccountID,
		Lock:           lock,
		OperationID:    operationID,
		IdempotencyKey: "batch:" + operationID,
		Plan:           Deltas(deltas...),
	})
}

// Deltas builds a PlanFunc that applies fixed deltas.
func Deltas(ds ...Delta) PlanFunc {
	return func(context.Context, repository.Tx) (Plan, error) {
		return Plan{Deltas: ds}, nil
	}
}

// BalanceOf reads one balance inside a transaction.
func BalanceOf(ctx context.Context, tx repository.Tx, accountID, symbol string) (decimal.Decimal, error) {
	b, err := tx.Balances(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return b[models.NormalizeSymbol(symbol)], nil
}

// ----------------- Settlement -----------------

// Settle runs s with bounded retries on conflicts.
func (e *Engine) Settle(ctx context.Context, s Settlement) (Result, error) {
	if s.AccountID == "" {
		return Result{}, ErrAccountNotFound
	}
	if s.Plan == nil {
		return Result{}, ErrEmptyBatch
	}
	if s.IdempotencyKey != "" {
		if op, err := e.store.OperationByKey(ctx, s.IdempotencyKey); err == nil {
			res, err := replayFor(s, op)
			if err != nil {
				metrics.SettlementsTotal.WithLabelValues(string(s.Kind), "failed").Inc()
				e.log.Warn("idempotency key reused", "op_id", op.ID, "kind", s.Kind, "account_id", s.AccountID,
					"stored_kind", op.Kind)
				return Result{}, err
			}
			metrics.SettlementsTotal.WithLabelValues(string(s.Kind), "replayed").Inc()
			return res, nil
		}
	}
	opID := s.OperationID
	if opID == "" {
		opID = uuid.NewString()
	}

	var (
		res Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = e.attempt(ctx, opID, s)
		if err == nil {
			status := "applied"
			if res.Replayed {
				status = "replayed"
			}
			metrics.SettlementsTotal.WithLabelValues(string(s.Kind), status).Inc()
			return res, nil
		}
		if !errors.Is(err, ErrConflict) || attempt >= e.opts.MaxRetries {
			break
		}
		metrics.LedgerRetries.Inc()
		wait := e.opts.Backoff << attempt
		e.log.Warn("ledger conflict, retrying",
			"op_id", opID, "kind", s.Kind, "account_id", s.AccountID,
			"attempt", attempt+1, "backoff", wait, "err", err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	metrics.SettlementsTotal.WithLabelValues(string(s.Kind), "failed").Inc()
	var ib *InsufficientBalanceError
	if errors.As(err, &ib) {
		metrics.InsufficientBalance.WithLabelValues(ib.Symbol).Inc()
	}
	if errors.Is(err, ErrConflict) {
		e.log.Error("ledger conflict, giving up", "op_id", opID, "kind", s.Kind, "account_id", s.AccountID, "err", err)
	} else {
		e.log.Info("settlement rejected", "op_id", opID, "kind", s.Kind, "account_id", s.AccountID, "err", err)
	}
	e.recordFailure(ctx, opID, s, err)
	return Result{}, err
}

func (e *Engine) attempt(ctx context.Context, opID string, s Settlement) (Result, error) {
	actx, cancel := context.WithTimeout(ctx, e.opts.LockTimeout)
	defer cancel()

	var res Result
	err := e.store.WithTx(actx, func(tx repository.Tx) error {
		locked := make(map[string]bool, len(s.Lock)+1)
		ids := append([]string{s.AccountID}, s.Lock...)
		for _, id := range ids {
			locked[id] = true
		}
		if err := tx.LockAccounts(actx, dedupe(ids)...); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("%w: %v", ErrAccountNotFound, err)
			}
			return err
		}

		// Checked again under the lock: a racing request with the same key
		// may have committed while this one waited.
		if s.IdempotencyKey != "" {
			if op, err := tx.OperationByKey(actx, s.IdempotencyKey); err == nil {
				res, err = replayFor(s, op)
				return err
			}
		}

		plan, err := s.Plan(actx, tx)
		if err != nil {
			return err
		}

		now := e.opts.Now().UTC()
		op := models.SettlementOperation{
			ID:        opID,
			Kind:      s.Kind,
			AccountID: s.AccountID,
			Status:    models.OpApplied,
			Metadata:  mergeMeta(s.Metadata, plan.Metadata),
			CreatedAt: now,
			AppliedAt: &now,
		}
		if s.IdempotencyKey != "" {
			key := s.IdempotencyKey
			op.IdempotencyKey = &key
		}

		entries, balances, err := apply(actx, tx, opID, plan.Deltas, locked, now)
		if err != nil {
			return err
		}
		op.Entries = entries
		if err := tx.CreateOperation(actx, op); err != nil {
			return err
		}

		if plan.Event != nil {
			payload := make(map[string]any, len(plan.Event.Payload)+1)
			for k, v := range plan.Event.Payload {
				payload[k] = v
			}
			payload["operation_id"] = opID
			userID := plan.Event.UserID
			if userID == "" {
				userID = s.AccountID
			}
			if err := tx.Enqueue(actx, models.OutboxEvent{
				ID:          uuid.NewString(),
				OperationID: opID,
				EventType:   plan.Event.Type,
				UserID:      userID,
				Payload:     payload,
				Status:      models.OutboxPending,
				CreatedAt:   now,
			}); err != nil {
				return err
			}
		}
		res = Result{Operation: op, Balances: balances}
		return nil
	})
	return res, e.classify(ctx, err)
}

type balanceKey struct{ account, symbol string }

// apply checks the net effect of the deltas per (account, symbol) and
// writes the new balances. Entries carry the running balance in batch
// order.
func apply(ctx context.Context, tx repository.Tx, opID string, deltas []Delta, locked map[string]bool, now time.Time) ([]models.LedgerEntry, map[string]map[string]decimal.Decimal, error) {
	var (
		order   []balanceKey
		net     = make(map[balanceKey]decimal.Decimal)
		current = make(map[balanceKey]decimal.Decimal)
		loaded  = make(map[string]map[string]decimal.Decimal)
		norm    = make([]Delta, 0, len(deltas))
	)
	for _, d := range deltas {
		sym := models.NormalizeSymbol(d.Symbol)
		amt := models.Quantize(sym, d.Amount)
		if sym == "" || amt.IsZero() {
			return nil, nil, ErrInvalidAmount
		}
		if !locked[d.AccountID] {
			return nil, nil, fmt.Errorf("%w: %s", ErrAccountNotLocked, d.AccountID)
		}
		if _, ok := loaded[d.AccountID]; !ok {
			b, err := tx.Balances(ctx, d.AccountID)
			if err != nil {
				return nil, nil, err
			}
			loaded[d.AccountID] = b
		}
		k := balanceKey{d.AccountID, sym}
		if _, seen := net[k]; !seen {
			order = append(order, k)
			current[k] = loaded[d.AccountID][sym]
		}
		net[k] = net[k].Add(amt)
		norm = append(norm, Delta{AccountID: d.AccountID, Symbol: sym, Amount: amt})
	}

	post := make(map[string]map[string]decimal.Decimal)
	for _, k := range order {
		after := current[k].Add(net[k])
		if after.IsNegative() {
			return nil, nil, &InsufficientBalanceError{
				AccountID: k.account,
				Symbol:    k.symbol,
				Balance:   current[k],
				Required:  net[k].Neg(),
			}
		}
		if post[k.account] == nil {
			post[k.account] = make(map[string]decimal.Decimal)
		}
		post[k.account][k.symbol] = after
	}
	for _, k := range order {
		if err := tx.SetBalance(ctx, k.account, k.symbol, post[k.account][k.symbol]); err != nil {
			return nil, nil, err
		}
	}

	running := make(map[balanceKey]decimal.Decimal, len(current))
	for k, v := range current {
		running[k] = v
	}
	entries := make([]models.LedgerEntry, 0, len(norm))
	for i, d := range norm {
		k := balanceKey{d.AccountID, d.Symbol}
		running[k] = running[k].Add(d.Amount)
		entries = append(entries, models.LedgerEntry{
			ID:           uuid.NewString(),
			OperationID:  opID,
			AccountID:    d.AccountID,
			Symbol:       d.Symbol,
			Delta:        d.Amount,
			BalanceAfter: running[k],
			Seq:          i,
			CreatedAt:    now,
		})
	}
	return entries, post, nil
}

// classify maps storage failures onto ledger errors.
func (e *Engine) classify(parent context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrLockTimeout), errors.Is(err, repository.ErrDuplicate):
		metrics.LedgerConflicts.Inc()
		return fmt.Errorf("%w: %v", ErrConflict, err)
	case errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil:
		metrics.LedgerConflicts.Inc()
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (e *Engine) recordFailure(ctx context.Context, opID string, s Settlement, cause error) {
	if ctx.Err() != nil {
		return
	}
	now := e.opts.Now().UTC()
	op := models.SettlementOperation{
		ID:        opID,
		Kind:      s.Kind,
		AccountID: s.AccountID,
		Status:    models.OpFailed,
		Metadata:  s.Metadata,
		Error:     cause.Error(),
		CreatedAt: now,
	}
	if err := e.store.RecordFailure(ctx, op); err != nil {
		e.log.Warn("record failed operation", "op_id", opID, "err", err)
	}
}

// ClientKey scopes a caller supplied idempotency key to the operation kind
// and the given owners. An empty key stays empty.
func ClientKey(kind models.OperationKind, key string, scope ...string) string {
	if key == "" {
		return ""
	}
	parts := make([]string, 0, len(scope)+2)
	parts = append(parts, string(kind))
	parts = append(parts, scope...)
	return strings.Join(append(parts, key), ":")
}

// replayFor returns the stored outcome only when it answers the same kind
// of request for the same account.
func replayFor(s Settlement, op models.SettlementOperation) (Result, error) {
	if op.Kind != s.Kind || op.AccountID != s.AccountID {
		return Result{}, fmt.Errorf("%w: stored operation is %s", ErrIdempotencyMismatch, op.Kind)
	}
	return replay(op), nil
}

func replay(op models.SettlementOperation) Result {
	post := make(map[string]map[string]decimal.Decimal)
	for _, en := range op.Entries {
		if post[en.AccountID] == nil {
			post[en.AccountID] = make(map[string]decimal.Decimal)
		}
		post[en.AccountID][en.Symbol] = en.BalanceAfter
	}
	return Result{Operation: op, Balances: post, Replayed: true}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func mergeMeta(a, b map[string]any) map[string]any {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
