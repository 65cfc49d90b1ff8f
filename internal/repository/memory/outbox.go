package memory

import (
	"context"
	"time"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	"github.com/baharkarakas/wallet-ledger/internal/repository"
)

// Outbox exposes the events committed through Store transactions.
type Outbox struct{ s *Store }

func NewOutbox(s *Store) *Outbox { return &Outbox{s: s} }

func (o *Outbox) Claim(_ context.Context, max int, lease time.Duration) ([]models.OutboxEvent, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var out []models.OutboxEvent
	for _, id := range s.eventOrder {
		if max > 0 && len(out) >= max {
			break
		}
		ev := s.events[id]
		if ev.Status != models.OutboxPending {
			continue
		}
		if ev.LockedUntil != nil && ev.LockedUntil.After(now) {
			continue
		}
		until := now.Add(lease)
		ev.LockedUntil = &until
		out = append(out, *ev)
	}
	return out, nil
}

func (o *Outbox) MarkDelivered(_ context.Context, id string) error {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return repository.ErrNotFound
	}
	if ev.Status == models.OutboxDelivered {
		return nil
	}
	now := s.now()
	ev.Status = models.OutboxDelivered
	ev.DeliveredAt = &now
	ev.LockedUntil = nil
	return nil
}

func (o *Outbox) MarkFailed(_ context.Context, id, reason string, maxAttempts int, retryAfter time.Duration) (bool, error) {
	s := o.s
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if ev.Status != models.OutboxPending {
		return ev.Status == models.OutboxDead, nil
	}
	ev.Attempts++
	ev.LastError = reason
	ev.LockedUntil = nil
	if retryAfter > 0 {
		until := s.now().Add(retryAfter)
		ev.LockedUntil = &until
	}
	if ev.Attempts >= maxAttempts {
		ev.Status = models.OutboxDead
		ev.LockedUntil = nil
	}
	return ev.Status == models.OutboxDead, nil
}

func (o *Outbox) Event(_ context.Context, id string) (models.OutboxEvent, error) {
	s := o.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return models.OutboxEvent{}, repository.ErrNotFound
	}
	return *ev, nil
}

var _ repository.Outbox = (*Outbox)(nil)

// Events returns every outbox event in commit order.
func (s *Store) Events() []models.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.OutboxEvent, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		out = append(out, *s.events[id])
	}
	return out
}
