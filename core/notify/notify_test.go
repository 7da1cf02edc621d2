package notify_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/notify"
	appfs "github.com/trezcool/darasa/fs"
	emailsvc "github.com/trezcool/darasa/services/email"
	"github.com/trezcool/darasa/tests"
)

func TestEmailDispatcher_Dispatch(t *testing.T) {
	env := testutil.NewEnv(t)
	core.ParseEmailTemplates(appfs.FS, appfs.EmailTemplatesDir, "http://darasa.test", true, env.Logger)
	require.Empty(t, env.Logger.Entries("error"))

	mailer := emailsvc.NewConsoleServiceMock(env.Conf)
	dispatcher := notify.NewEmailDispatcher(env.UserSvc, mailer, env.Logger)
	student := env.Student(t, "student")
	ctx := context.Background()

	dispatcher.Dispatch(ctx, notify.Event{
		Type:        notify.PaymentSuccess,
		UserID:      student.ID,
		Title:       "Payment received",
		Message:     "Month 1 is now unlocked.",
		RelatedID:   "pmt-1",
		RelatedType: "payment",
	})

	sent := mailer.SentMessages()
	require.Len(t, sent, 1)
	msg := sent[0]
	assert.Equal(t, student.Email, msg.To[0].Address)
	assert.Equal(t, "Payment received", msg.Subject)
	assert.Contains(t, msg.TextContent, "Hello student,")
	assert.Contains(t, msg.TextContent, "Month 1 is now unlocked.")
	assert.Contains(t, msg.TextContent, "http://darasa.test/payments/pmt-1")
	assert.Contains(t, msg.HTMLContent, "Month 1 is now unlocked.")

	t.Run("unknown recipient", func(t *testing.T) {
		dispatcher.Dispatch(ctx, notify.Event{Type: notify.PaymentFailed, UserID: "nope"})
		assert.Len(t, mailer.SentMessages(), 1)
		assert.Len(t, env.Logger.Entries("error"), 1)
	})
}

func TestRecorder(t *testing.T) {
	rec := new(notify.Recorder)
	ctx := context.Background()
	rec.Dispatch(ctx, notify.Event{Type: notify.PaymentSuccess, RelatedID: "1"})
	rec.Dispatch(ctx, notify.Event{Type: notify.PaymentFailed, RelatedID: "2"})
	rec.Dispatch(ctx, notify.Event{Type: notify.PaymentSuccess, RelatedID: "3"})

	evts := rec.Events(notify.PaymentSuccess)
	require.Len(t, evts, 2)
	assert.Equal(t, "1", evts[0].RelatedID)
	assert.Equal(t, "3", evts[1].RelatedID)
	assert.Empty(t, rec.Events(notify.EnrollmentConfirmation))
}
