package engine

import (
	"testing"
	"time"

	"github.com/openclear/tradecore/internal/domain"
)

func TestExpiry_SweepExpiresDueOrders(t *testing.T) {
	m, _, _ := newTestMatcher(t)
	stops := NewStopIndex()

	var notified []*domain.Order
	e := NewExpiryManager(time.Second, m.books, stops, func(o *domain.Order) {
		notified = append(notified, o)
	})

	now := time.Now()
	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)

	due := limitOrder("alice", domain.SideBuy, 1000, 5)
	due.ExpiresAt = &soon
	if _, err := m.Process(due); err != nil {
		t.Fatalf("process error: %v", err)
	}
	e.Add(due)

	notDue := limitOrder("bob", domain.SideBuy, 900, 5)
	notDue.ExpiresAt = &later
	if _, err := m.Process(notDue); err != nil {
		t.Fatalf("process error: %v", err)
	}
	e.Add(notDue)

	expired := e.Sweep(now.Add(10 * time.Minute))
	if len(expired) != 1 || expired[0].ID != due.ID {
		t.Fatalf("expected exactly the due order to expire, got %+v", expired)
	}
	if due.Status != domain.OrderStatusExpired {
		t.Errorf("expected expired, got %s", due.Status)
	}
	if notDue.Status != domain.OrderStatusOpen {
		t.Errorf("later order must stay open, got %s", notDue.Status)
	}
	if m.books.GetOrCreate("AAPL").BidCount() != 1 {
		t.Error("expired order must leave the book")
	}
	if len(notified) != 1 {
		t.Errorf("expected 1 expiry notification, got %d", len(notified))
	}
	if e.PendingCount() != 1 {
		t.Errorf("expected 1 order still tracked, got %d", e.PendingCount())
	}
}

func TestExpiry_SkipsAlreadyTerminalOrders(t *testing.T) {
	m, _, _ := newTestMatcher(t)
	e := NewExpiryManager(time.Second, m.books, NewStopIndex(), nil)

	now := time.Now()
	soon := now.Add(time.Minute)

	order := limitOrder("alice", domain.SideBuy, 1000, 5)
	order.ExpiresAt = &soon
	if _, err := m.Process(order); err != nil {
		t.Fatalf("process error: %v", err)
	}
	e.Add(order)

	if _, err := m.Cancel(order.ID, "alice", "changed my mind"); err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	expired := e.Sweep(now.Add(10 * time.Minute))
	if len(expired) != 0 {
		t.Errorf("cancelled order must not expire, got %d", len(expired))
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Errorf("status must stay cancelled, got %s", order.Status)
	}
}

func TestExpiry_ExpiresParkedStop(t *testing.T) {
	m, _, _ := newTestMatcher(t)
	stops := NewStopIndex()
	e := NewExpiryManager(time.Second, m.books, stops, nil)

	now := time.Now()
	soon := now.Add(time.Minute)
	stop := stopOrder("s1", domain.SideSell, domain.OrderTypeStopLoss, 1000)
	stop.ExpiresAt = &soon
	stops.Add(stop)
	e.Add(stop)

	expired := e.Sweep(now.Add(10 * time.Minute))
	if len(expired) != 1 {
		t.Fatalf("expected parked stop to expire, got %d", len(expired))
	}
	if stops.Count("AAPL") != 0 {
		t.Error("expired stop must leave the stop index")
	}
	if fired := stops.OnPrice("AAPL", 900); len(fired) != 0 {
		t.Error("expired stop must never fire")
	}
}

func TestExpiry_Remove(t *testing.T) {
	e := NewExpiryManager(time.Second, NewBookManager(), NewStopIndex(), nil)

	now := time.Now().Add(time.Minute)
	o := limitOrder("alice", domain.SideBuy, 1000, 5)
	o.ID = "o1"
	o.ExpiresAt = &now
	e.Add(o)

	e.Remove("o1")
	if e.PendingCount() != 0 {
		t.Errorf("expected empty tracker, got %d", e.PendingCount())
	}
}
