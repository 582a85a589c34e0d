package notification

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// failingStore rejects every write.
type failingStore struct {
	*InMemoryStore
	err error
}

func (s failingStore) Create(context.Context, *Notification) error { return s.err }

func stored(t *testing.T, s *InMemoryStore, userID uuid.UUID) []*Notification {
	t.Helper()
	items, _, err := s.ListByUser(context.Background(), userID, 100, 0)
	if err != nil {
		t.Fatal(err)
	}
	return items
}

type fakePublisher struct {
	published []*Notification
	err       error
}

func (f *fakePublisher) Publish(_ context.Context, n *Notification) error {
	f.published = append(f.published, n)
	return f.err
}

func TestDispatcher_RendersTemplate(t *testing.T) {
	store := NewInMemoryStore()
	pub := &fakePublisher{}
	d := NewDispatcher(store, pub, nil)

	user := uuid.New()
	appt := uuid.New()
	err := d.Notify(context.Background(), Event{
		UserID:        user,
		AppointmentID: &appt,
		Kind:          KindAppointmentCancelled,
		Data:          map[string]string{"start": "Mon 02 Jun 09:00", "reason": "doctor unavailable"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	items := stored(t, store, user)
	if len(items) != 1 {
		t.Fatalf("expected 1 stored notification, got %d", len(items))
	}
	n := items[0]
	if n.Title != "Appointment cancelled" {
		t.Errorf("unexpected title %q", n.Title)
	}
	if !strings.Contains(n.Message, "doctor unavailable") || !strings.Contains(n.Message, "Mon 02 Jun 09:00") {
		t.Errorf("expected rendered message, got %q", n.Message)
	}
	if n.AppointmentID == nil || *n.AppointmentID != appt {
		t.Error("expected appointment id to be kept")
	}
	if len(pub.published) != 1 || pub.published[0].ID != n.ID {
		t.Error("expected the stored notification to be published")
	}
}

func TestDispatcher_ExplicitTextWins(t *testing.T) {
	store := NewInMemoryStore()
	d := NewDispatcher(store, nil, nil)
	user := uuid.New()

	err := d.Notify(context.Background(), Event{
		UserID:  user,
		Kind:    KindAppointmentReminder,
		Title:   "Custom",
		Message: "Custom body",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := stored(t, store, user)[0]; n.Title != "Custom" || n.Message != "Custom body" {
		t.Errorf("expected explicit text, got %+v", n)
	}
}

func TestDispatcher_Errors(t *testing.T) {
	tests := []struct {
		name  string
		store Store
		pub   *fakePublisher
		ev    Event
	}{
		{"no recipient", NewInMemoryStore(), nil, Event{Kind: KindAppointmentCreated}},
		{"unknown kind", NewInMemoryStore(), nil, Event{UserID: uuid.New(), Kind: "mystery"}},
		{"store failure", failingStore{NewInMemoryStore(), errors.New("db down")}, nil, Event{UserID: uuid.New(), Kind: KindAppointmentCreated}},
		{"publish failure", NewInMemoryStore(), &fakePublisher{err: errors.New("broker down")}, Event{UserID: uuid.New(), Kind: KindAppointmentCreated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pub Publisher
			if tt.pub != nil {
				pub = tt.pub
			}
			if err := NewDispatcher(tt.store, pub, nil).Notify(context.Background(), tt.ev); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNotifyAll_LogsAndSuppresses(t *testing.T) {
	var buf bytes.Buffer
	rec := &Recorder{Err: errors.New("smtp down")}
	appt := uuid.New()

	NotifyAll(context.Background(), rec, zerolog.New(&buf),
		Event{UserID: uuid.New(), AppointmentID: &appt, Kind: KindAppointmentConfirmed},
		Event{UserID: uuid.New(), AppointmentID: &appt, Kind: KindAppointmentConfirmed},
	)

	if len(rec.Events()) != 2 {
		t.Fatalf("expected both events attempted, got %d", len(rec.Events()))
	}
	out := buf.String()
	if strings.Count(out, "notification failed") != 2 {
		t.Errorf("expected two failure logs, got %s", out)
	}
	if !strings.Contains(out, appt.String()) {
		t.Errorf("expected appointment id in log, got %s", out)
	}
}

func TestNotifyAll_NilEmitter(t *testing.T) {
	NotifyAll(context.Background(), nil, zerolog.Nop(), Event{UserID: uuid.New()})
}

func TestTemplateEngine(t *testing.T) {
	e := NewTemplateEngine()

	title, msg, err := e.Render(KindPaymentCompleted, map[string]string{"amount": "100.00", "transaction_id": "TXN-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Payment completed" {
		t.Errorf("unexpected title %q", title)
	}
	if msg != "Your payment of 100.00 was completed. Transaction TXN-1." {
		t.Errorf("unexpected message %q", msg)
	}

	_, msg, _ = e.Render(KindRefundIssued, map[string]string{"amount": "-100.00"})
	if !strings.Contains(msg, "{{reason}}") {
		t.Errorf("expected missing keys to be left as is, got %q", msg)
	}

	e.RegisterTemplate(Template{Kind: KindRefundIssued, Title: "Refund", Message: "Refunded {{amount}}"})
	_, msg, _ = e.Render(KindRefundIssued, map[string]string{"amount": "-5"})
	if msg != "Refunded -5" {
		t.Errorf("expected overridden template, got %q", msg)
	}

	if _, _, err := e.Render("unknown", nil); err == nil {
		t.Error("expected error for unknown template")
	}
}

func TestEncodeMessage(t *testing.T) {
	appt := uuid.New()
	n := &Notification{
		ID:            uuid.New(),
		UserID:        uuid.New(),
		AppointmentID: &appt,
		Kind:          KindAppointmentNoShow,
		Title:         "Missed appointment",
		Message:       "body",
		CreatedAt:     time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
	}

	body, err := encodeMessage(n)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["appointment_id"] != appt.String() {
		t.Errorf("expected appointment id, got %v", decoded["appointment_id"])
	}
	if decoded["kind"] != "appointment_no_show" {
		t.Errorf("expected kind, got %v", decoded["kind"])
	}
	if decoded["created_at"] != "2025-06-02T14:00:00Z" {
		t.Errorf("unexpected created_at %v", decoded["created_at"])
	}

	n.AppointmentID = nil
	body, _ = encodeMessage(n)
	if strings.Contains(string(body), "appointment_id") {
		t.Errorf("expected appointment_id to be omitted, got %s", body)
	}
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	_ = r.Notify(context.Background(), Event{Kind: KindPaymentCreated})
	_ = r.Notify(context.Background(), Event{Kind: KindRefundIssued})
	if len(r.OfKind(KindRefundIssued)) != 1 {
		t.Error("expected one refund event")
	}
	r.Reset()
	if len(r.Events()) != 0 {
		t.Error("expected reset to clear events")
	}
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	me, other := uuid.New(), uuid.New()
	first := &Notification{ID: uuid.New(), UserID: me, Kind: KindAppointmentCreated}
	_ = s.Create(ctx, first)
	_ = s.Create(ctx, &Notification{ID: uuid.New(), UserID: other, Kind: KindAppointmentCreated})
	_ = s.Create(ctx, &Notification{ID: uuid.New(), UserID: me, Kind: KindAppointmentConfirmed})

	items, total, err := s.ListByUser(ctx, me, 1, 0)
	if err != nil || total != 2 || len(items) != 1 || items[0].Kind != KindAppointmentConfirmed {
		t.Fatalf("expected the newest of 2, got %v %d %v", items, total, err)
	}
	if items, _, _ := s.ListByUser(ctx, me, 10, 5); len(items) != 0 {
		t.Errorf("expected an empty page past the end, got %v", items)
	}

	if err := s.MarkRead(ctx, first.ID, other, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	read := time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)
	if err := s.MarkRead(ctx, first.ID, me, read); err != nil {
		t.Fatal(err)
	}
	_ = s.MarkRead(ctx, first.ID, me, read.Add(time.Hour))
	items, _, _ = s.ListByUser(ctx, me, 10, 0)
	if got := items[1].ReadAt; got == nil || !got.Equal(read) {
		t.Errorf("expected the first read time to stick, got %v", got)
	}
}
