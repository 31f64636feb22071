package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"labonnas-pos/internal/logger"
	"labonnas-pos/internal/messaging"
	"labonnas-pos/internal/models"
	"labonnas-pos/internal/money"
)

type stubConsumer struct {
	bodies [][]byte
	errs   []error
	closed bool
}

func (c *stubConsumer) StartConsuming(ctx context.Context, handler messaging.MessageHandler) error {
	for _, b := range c.bodies {
		c.errs = append(c.errs, handler(ctx, b))
	}
	return nil
}

func (c *stubConsumer) Close() error {
	c.closed = true
	return nil
}

func newTestSubscriber(t *testing.T, c consumer, out *bytes.Buffer) *Subscriber {
	t.Helper()
	f, err := money.NewFormatter("pt-PT", "EUR")
	if err != nil {
		t.Fatal(err)
	}
	return NewSubscriber(c, f, out, logger.Discard())
}

func TestSubscriber_PrintsNotifications(t *testing.T) {
	c := &stubConsumer{bodies: [][]byte{
		[]byte(`{"type":"order_status","table_number":3,"order_id":"o1","new_status":"kitchen-pending","changed_by":"Ana","timestamp":"2026-01-02T12:00:00Z"}`),
		[]byte(`not json`),
	}}
	var out bytes.Buffer
	s := newTestSubscriber(t, c, &out)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !strings.Contains(out.String(), "Mesa 3") || !strings.Contains(out.String(), "kitchen") {
		t.Errorf("unexpected output %q", out.String())
	}
	if c.errs[0] != nil {
		t.Errorf("valid message returned %v", c.errs[0])
	}
	if !errors.Is(c.errs[1], messaging.ErrMalformed) {
		t.Errorf("expected malformed error, got %v", c.errs[1])
	}
	if !c.closed {
		t.Errorf("expected consumer to be closed")
	}
}

func TestSubscriber_Format(t *testing.T) {
	var out bytes.Buffer
	s := newTestSubscriber(t, &stubConsumer{}, &out)
	amount := decimal.RequireFromString("47")
	ts := time.Date(2026, 1, 2, 20, 0, 0, 0, time.UTC)

	tests := []struct {
		msg  models.Notification
		want string
	}{
		{models.Notification{Type: models.NotifyTablePaid, TableNumber: 5, Amount: &amount, Method: "pix", Timestamp: ts}, "Mesa 5 paid"},
		{models.Notification{Type: models.NotifyOrderStatus, TableNumber: 2, OrderID: "o9", NewStatus: "cancelled", Timestamp: ts}, "cancelled"},
		{models.Notification{Type: models.NotifyCaixaClosed, ChangedBy: "Rita", Amount: &amount, Timestamp: ts}, "Caixa closed by Rita"},
		{models.Notification{Type: models.NotifyCartSyncFailed, TableNumber: 1, Detail: "timeout", Timestamp: ts}, "timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.msg.Type, func(t *testing.T) {
			got := s.Format(tt.msg)
			if !strings.Contains(got, tt.want) {
				t.Errorf("Format() = %q, want it to contain %q", got, tt.want)
			}
			if !strings.Contains(got, "2026-01-02 20:00:00") {
				t.Errorf("Format() = %q, missing timestamp", got)
			}
		})
	}
}

type failingPublisher struct{ calls int }

func (p *failingPublisher) PublishNotification(ctx context.Context, msg models.Notification) error {
	p.calls++
	if msg.Timestamp.IsZero() {
		return errors.New("timestamp not set")
	}
	return errors.New("broker down")
}

func TestBrokerNotifier_SwallowsErrors(t *testing.T) {
	p := &failingPublisher{}
	n := NewBrokerNotifier(p, logger.Discard())
	n.Notify(context.Background(), models.Notification{Type: models.NotifyTableCleared})
	if p.calls != 1 {
		t.Fatalf("expected one publish attempt, got %d", p.calls)
	}
}
