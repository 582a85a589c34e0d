package notification

import (
	"fmt"
	"strings"
	"sync"
)

// Template holds the title and message text for one Kind.
type Template struct {
	Kind    Kind   `json:"kind"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// TemplateEngine renders templates with {{key}} substitution.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[Kind]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[Kind]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{KindAppointmentCreated, "New appointment", "An appointment was booked for {{start}} ({{duration}} min)."},
		{KindAppointmentUpdated, "Appointment updated", "Your appointment is now scheduled for {{start}}."},
		{KindAppointmentConfirmed, "Appointment confirmed", "Your appointment on {{start}} has been confirmed."},
		{KindAppointmentCancelled, "Appointment cancelled", "The appointment on {{start}} was cancelled: {{reason}}"},
		{KindAppointmentCompleted, "Appointment completed", "The appointment on {{start}} has been completed."},
		{KindAppointmentNoShow, "Missed appointment", "The appointment on {{start}} was recorded as a no-show ({{party}})."},
		{KindAppointmentReminder, "Appointment reminder", "Reminder: you have an appointment {{remaining}}, on {{start}}."},

		{KindPaymentCreated, "Payment registered", "A {{type}} payment of {{amount}} was registered ({{method}})."},
		{KindPaymentCompleted, "Payment completed", "Your payment of {{amount}} was completed. Transaction {{transaction_id}}."},
		{KindPaymentFailed, "Payment failed", "Your payment of {{amount}} could not be processed: {{reason}}"},
		{KindPaymentCancelled, "Payment cancelled", "The pending payment of {{amount}} was cancelled."},
		{KindAdditionalCharge, "Additional charge", "An additional charge of {{amount}} was added: {{concept}}"},
		{KindRefundIssued, "Refund issued", "A refund of {{amount}} was issued: {{reason}}"},

		{KindRescheduleRequested, "Reschedule requested", "A reschedule of the appointment on {{start}} was requested ({{category}})."},
		{KindRescheduleApproved, "Reschedule approved", "Your appointment was moved to {{selected}}."},
		{KindRescheduleRejected, "Reschedule rejected", "Your reschedule request was rejected: {{reason}}"},
		{KindRescheduleCancelled, "Reschedule cancelled", "The reschedule request for the appointment on {{start}} was cancelled."},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.Kind] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.Kind] = &t
}

// Render performs {{key}} replacement. Keys absent from data are left as is.
func (e *TemplateEngine) Render(kind Kind, data map[string]string) (title, message string, err error) {
	e.mu.RLock()
	t, ok := e.templates[kind]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", kind)
	}

	title = t.Title
	message = t.Message
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		title = strings.ReplaceAll(title, placeholder, v)
		message = strings.ReplaceAll(message, placeholder, v)
	}
	return title, message, nil
}
