package order

import (
	"context"
	"log"
	"time"

	"github.com/MikeMC777/istore/internal/notify"
)

// EventSink receives best-effort order events. Implementations must not block.
type EventSink interface {
	Dispatch(e notify.Event) bool
}

// Service is the read and status-lifecycle side of the ledger. Orders are
// created by the checkout coordinator.
type Service struct {
	repo   Repository
	events EventSink
}

func NewService(repo Repository, events EventSink) *Service {
	return &Service{repo: repo, events: events}
}

func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit, offset int) ([]Order, error) {
	if userID == "" {
		userID = GuestUserID
	}
	return s.repo.ListByUser(ctx, userID, limit, offset)
}

func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]Order, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

// UpdateStatus moves an order to the given status. Any transition is
// accepted except leaving cancelled; setting the current status again is a
// no-op that emits no event.
func (s *Service) UpdateStatus(ctx context.Context, id, raw string) (*Order, error) {
	next, err := ParseStatus(raw)
	if err != nil {
		return nil, err
	}
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Status == next {
		return cur, nil
	}
	if cur.Status.IsTerminal() {
		return nil, ErrTerminalStatus
	}

	o, err := s.repo.UpdateStatus(ctx, id, next)
	if err != nil {
		return nil, err
	}
	log.Printf("[ledger] order=%s status %s -> %s", id, cur.Status, o.Status)
	if s.events != nil {
		ev := EventFor(notify.EventStatusChanged, o)
		ev.PrevStatus = cur.Status.String()
		s.events.Dispatch(ev)
	}
	return o, nil
}

// EventFor builds the notification payload describing an order.
func EventFor(typ notify.EventType, o *Order) notify.Event {
	items := make([]notify.EventItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, notify.EventItem{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity})
	}
	return notify.Event{
		Type:     typ,
		OrderID:  o.ID,
		UserID:   o.UserID,
		Total:    o.Total,
		Currency: o.Currency,
		Status:   o.Status.String(),
		Items:    items,
		At:       time.Now().UTC(),
	}
}
