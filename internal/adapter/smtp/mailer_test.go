package smtp

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"coursejobs/internal/models"
	"coursejobs/internal/worker"
)

func TestMailer_Send(t *testing.T) {
	m, err := NewMailer(Config{Host: "mail.local", Username: "u", Password: "p", From: "no-reply@courses.test"})
	require.NoError(t, err)
	m.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }

	var (
		gotAddr string
		gotTo   []string
		gotRaw  string
	)
	m.sendMail = func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotRaw = addr, to, string(msg)
		assert.NotNil(t, auth)
		assert.Equal(t, "no-reply@courses.test", from)
		return nil
	}

	err = m.Send(context.Background(), worker.Message{
		ID:       "h-1",
		To:       models.Contact{Email: "ada@example.com", Name: "Ada"},
		Subject:  "You're enrolled",
		Template: "enrollment-confirmation",
		Data:     map[string]string{"name": "Ada", "courseId": "c-1", "enrollmentId": "e-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "mail.local:587", gotAddr)
	assert.Equal(t, []string{"ada@example.com"}, gotTo)
	assert.Contains(t, gotRaw, "Message-ID: <h-1@courses.test>\r\n")
	assert.Contains(t, gotRaw, "To: Ada <ada@example.com>\r\n")
	assert.Contains(t, gotRaw, "enrolled in course c-1")
	assert.True(t, strings.HasPrefix(gotRaw, "From: no-reply@courses.test\r\n"))
}

func TestMailer_Errors(t *testing.T) {
	_, err := NewMailer(Config{})
	assert.Error(t, err)

	m, err := NewMailer(Config{Host: "mail.local", From: "x@y"})
	require.NoError(t, err)
	m.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("421 busy") }

	err = m.Send(context.Background(), worker.Message{To: models.Contact{Email: "a@b"}, Template: "welcome"})
	assert.ErrorContains(t, err, "421 busy")

	err = m.Send(context.Background(), worker.Message{To: models.Contact{Email: "a@b"}, Template: "nope"})
	assert.ErrorContains(t, err, "unknown email template")
}

func TestLogMailer(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := NewLogMailer(zap.New(core))

	require.NoError(t, m.Send(context.Background(), worker.Message{ID: "h-1", To: models.Contact{Email: "a@b"}, Template: "welcome"}))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "h-1", logs.All()[0].ContextMap()["message_id"])
}
