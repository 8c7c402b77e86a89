package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/orderpipe/internal/domain"
)

// timelineRepository хранит события в памяти (для разработки/тестов).
type timelineRepository struct {
	tx *memTx
}

// Append добавляет событие в хранилище.
func (r timelineRepository) Append(_ context.Context, event domain.TimelineEvent) error {
	defer r.tx.enter()()
	s := r.tx.store

	prev := s.timeline[event.OrderID]
	events := append(append([]domain.TimelineEvent(nil), prev...), event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	s.timeline[event.OrderID] = events
	r.tx.onRollback(func() {
		if prev == nil {
			delete(s.timeline, event.OrderID)
			return
		}
		s.timeline[event.OrderID] = prev
	})
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineRepository) List(_ context.Context, orderID string) ([]domain.TimelineEvent, error) {
	defer r.tx.enter()()

	events := r.tx.store.timeline[orderID]
	result := make([]domain.TimelineEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.TimelineRepository = timelineRepository{}
