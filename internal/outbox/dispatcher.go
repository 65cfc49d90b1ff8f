package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/metrics"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
	"github.com/baharkarakas/wallet-ledger/internal/worker"
)

type Options struct {
	BatchSize   int
	MaxAttempts int
	Interval    time.Duration
	Lease       time.Duration
	// PublishTimeout bounds a single delivery.
	PublishTimeout time.Duration
	// RetryBackoff is the wait after the first failed attempt; it doubles
	// per attempt up to MaxBackoff.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Interval <= 0 {
		o.Interval = 2 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 10 * time.Second
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = o.Interval
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Minute
	}
	if o.MaxBackoff < o.RetryBackoff {
		o.MaxBackoff = o.RetryBackoff
	}
	return o
}

// backoff is the wait before retrying an event that has already failed
// attempts times.
func (o Options) backoff(attempts int) time.Duration {
	wait := o.RetryBackoff
	for i := 0; i < attempts && wait < o.MaxBackoff; i++ {
		wait *= 2
	}
	if wait > o.MaxBackoff {
		wait = o.MaxBackoff
	}
	return wait
}

type DrainStats struct {
	Claimed   int `json:"claimed"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Dead      int `json:"dead"`
}

type Dispatcher struct {
	outbox repository.Outbox
	pub    Publisher
	pool   *worker.Pool
	log    *slog.Logger
	opts   Options
}

// NewDispatcher delivers through pool when given, inline otherwise.
func NewDispatcher(ob repository.Outbox, pub Publisher, pool *worker.Pool, log *slog.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{outbox: ob, pub: pub, pool: pool, log: log, opts: opts.withDefaults()}
}

// Drain claims up to max events and delivers them. An event is marked
// delivered only after the publisher accepted it; a crash in between
// redelivers it once the lease expires.
func (d *Dispatcher) Drain(ctx context.Context, max int) (DrainStats, error) {
	if max <= 0 {
		max = d.opts.BatchSize
	}
	events, err := d.outbox.Claim(ctx, max, d.opts.Lease)
	if err != nil {
		return DrainStats{}, err
	}
	stats := DrainStats{Claimed: len(events)}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(r result) {
		mu.Lock()
		defer mu.Unlock()
		switch r {
		case resultDelivered:
			stats.Delivered++
		case resultDead:
			stats.Failed++
			stats.Dead++
		case resultFailed:
			stats.Failed++
		}
	}
	for _, ev := range events {
		ev := ev
		wg.Add(1)
		job := func() {
			defer wg.Done()
			record(d.deliver(ctx, ev))
		}
		if d.pool == nil {
			job()
			continue
		}
		if err := d.pool.Submit(ctx, job); err != nil {
			// the lease expires and the event is claimed again later
			wg.Done()
			d.log.Warn("outbox submit", "event_id", ev.ID, "err", err)
		}
	}
	wg.Wait()
	return stats, nil
}

type result int

const (
	resultDelivered result = iota
	resultFailed
	resultDead
	resultSkipped
)

func (d *Dispatcher) deliver(ctx context.Context, ev models.OutboxEvent) result {
	pctx, cancel := context.WithTimeout(ctx, d.opts.PublishTimeout)
	err := d.pub.Publish(pctx, NewMessage(ev))
	cancel()
	if err == nil {
		if err := d.outbox.MarkDelivered(ctx, ev.ID); err != nil {
			d.log.Error("outbox mark delivered", "event_id", ev.ID, "op_id", ev.OperationID, "err", err)
			return resultSkipped
		}
		metrics.OutboxEvents.WithLabelValues("delivered").Inc()
		return resultDelivered
	}

	dead, merr := d.outbox.MarkFailed(ctx, ev.ID, err.Error(), d.opts.MaxAttempts, d.opts.backoff(ev.Attempts))
	if merr != nil {
		d.log.Error("outbox mark failed", "event_id", ev.ID, "op_id", ev.OperationID, "err", merr)
		return resultSkipped
	}
	if dead {
		metrics.OutboxEvents.WithLabelValues("dead").Inc()
		metrics.OutboxDead.Inc()
		d.log.Error("outbox event dead",
			"event_id", ev.ID, "op_id", ev.OperationID, "event_type", ev.EventType,
			"user_id", ev.UserID, "attempts", ev.Attempts+1, "err", err)
		return resultDead
	}
	metrics.OutboxEvents.WithLabelValues("failed").Inc()
	d.log.Warn("outbox delivery failed", "event_id", ev.ID, "op_id", ev.OperationID, "attempts", ev.Attempts+1, "err", err)
	return resultFailed
}

// Run drains every Interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	t := time.NewTicker(d.opts.Interval)
	defer t.Stop()
	for {
		stats, err := d.Drain(ctx, d.opts.BatchSize)
		switch {
		case err != nil && ctx.Err() == nil:
			d.log.Error("outbox drain", "err", err)
		case stats.Claimed > 0:
			d.log.Debug("outbox drained", "claimed", stats.Claimed, "delivered", stats.Delivered,
				"failed", stats.Failed, "dead", stats.Dead)
		}
		// a fully delivered full batch means more is likely waiting;
		// failures wait for the ticker
		if err == nil && stats.Claimed == d.opts.BatchSize && stats.Delivered == stats.Claimed {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
