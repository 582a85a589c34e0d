package scheduling

import (
	"errors"
	"testing"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		from AppointmentStatus
		ev   Event
		want AppointmentStatus
	}{
		{StatusPending, EventConfirm, StatusConfirmed},
		{StatusPending, EventCancel, StatusCancelled},
		{StatusPending, EventComplete, StatusCompleted},
		{StatusPending, EventNoShow, ""},
		{StatusConfirmed, EventConfirm, ""},
		{StatusConfirmed, EventCancel, StatusCancelled},
		{StatusConfirmed, EventComplete, StatusCompleted},
		{StatusConfirmed, EventNoShow, StatusNoShow},
		{StatusNoShow, EventSupersede, StatusCancelled},
		{StatusNoShow, EventCancel, ""},
		{StatusCompleted, EventSupersede, ""},
		{StatusCancelled, EventSupersede, ""},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.ev), func(t *testing.T) {
			got, err := NextStatus(tt.from, tt.ev)
			if tt.want == "" {
				if !errors.Is(err, ErrIllegalTransition) {
					t.Fatalf("expected ErrIllegalTransition, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestTerminalStatesOnlyAcceptSupersede(t *testing.T) {
	public := []Event{EventConfirm, EventCancel, EventComplete, EventNoShow}
	for _, s := range []AppointmentStatus{StatusCancelled, StatusCompleted, StatusNoShow} {
		for _, ev := range public {
			if CanApply(s, ev) {
				t.Errorf("%s must not accept %s", s, ev)
			}
		}
	}
}
