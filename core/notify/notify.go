// Package notify dispatches user notifications for ledger and settlement events.
// Dispatching is fire-and-forget: failures are logged, never returned to the caller.
package notify

import (
	"context"
	"net/mail"
	"sync"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

type EventType string

const (
	EnrollmentConfirmation EventType = "enrollment_confirmation"
	PaymentSuccess         EventType = "payment_success"
	PaymentFailed          EventType = "payment_failed"
)

type Event struct {
	Type        EventType
	UserID      string
	Title       string
	Message     string
	RelatedID   string
	RelatedType string
}

type Dispatcher interface {
	Dispatch(ctx context.Context, evt Event)
}

// EmailDispatcher sends every event as a templated email to the user it targets.
// The template name is the event type.
type EmailDispatcher struct {
	users  user.Directory
	mailer core.EmailService
	logger core.Logger
}

var _ Dispatcher = (*EmailDispatcher)(nil)

func NewEmailDispatcher(users user.Directory, mailer core.EmailService, logger core.Logger) *EmailDispatcher {
	return &EmailDispatcher{users: users, mailer: mailer, logger: logger}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, evt Event) {
	usr, err := d.users.GetByID(ctx, evt.UserID)
	if err != nil {
		d.logger.Error("looking up notification recipient", err, map[string]interface{}{
			"event":   string(evt.Type),
			"user_id": evt.UserID,
		})
		return
	}
	if usr.Email == "" {
		return
	}

	d.mailer.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      evt.Title,
		TemplateName: string(evt.Type),
		TemplateData: map[string]interface{}{
			"Name":        usr.Name,
			"Message":     evt.Message,
			"RelatedID":   evt.RelatedID,
			"RelatedType": evt.RelatedType,
		},
	})
}

type NopDispatcher struct{}

func (NopDispatcher) Dispatch(context.Context, Event) {}

// Recorder keeps dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Dispatch(_ context.Context, evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *Recorder) Events(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evts []Event
	for _, evt := range r.events {
		if evt.Type == typ {
			evts = append(evts, evt)
		}
	}
	return evts
}
