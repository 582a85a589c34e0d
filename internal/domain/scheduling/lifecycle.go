package scheduling

import "fmt"

// Event is an operation applied to an appointment.
type Event string

const (
	EventConfirm  Event = "confirm"
	EventCancel   Event = "cancel"
	EventComplete Event = "complete"
	EventNoShow   Event = "no_show"
	// EventSupersede cancels an appointment replaced by an approved
	// reschedule. It is only issued by the system.
	EventSupersede Event = "supersede"
)

var transitions = map[AppointmentStatus]map[Event]AppointmentStatus{
	StatusPending: {
		EventConfirm:   StatusConfirmed,
		EventCancel:    StatusCancelled,
		EventComplete:  StatusCompleted,
		EventSupersede: StatusCancelled,
	},
	StatusConfirmed: {
		EventCancel:    StatusCancelled,
		EventComplete:  StatusCompleted,
		EventNoShow:    StatusNoShow,
		EventSupersede: StatusCancelled,
	},
	StatusNoShow: {
		EventSupersede: StatusCancelled,
	},
}

// NextStatus returns the state reached by applying ev in from.
func NextStatus(from AppointmentStatus, ev Event) (AppointmentStatus, error) {
	next, ok := transitions[from][ev]
	if !ok {
		return "", transitionErr(CodeIllegalTransition,
			fmt.Sprintf("cannot %s an appointment that is %s", ev, from))
	}
	return next, nil
}

// CanApply reports whether ev is defined for from.
func CanApply(from AppointmentStatus, ev Event) bool {
	_, ok := transitions[from][ev]
	return ok
}
