package mail

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxRecordsAndTrimsRecipients(t *testing.T) {
	var o Outbox
	err := o.Send(context.Background(), Message{From: "a@x", To: []string{" b@x ", ""}, Subject: "s", Body: "b"})
	require.NoError(t, err)

	msgs := o.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"b@x"}, msgs[0].To)

	o.Reset()
	assert.Empty(t, o.Messages())
}

func TestOutboxFailure(t *testing.T) {
	boom := errors.New("relay down")
	o := Outbox{Err: boom}
	assert.ErrorIs(t, o.Send(context.Background(), Message{To: []string{"b@x"}}), boom)
	assert.Empty(t, o.Messages())
}

func TestSendersRejectEmptyRecipients(t *testing.T) {
	var o Outbox
	assert.ErrorIs(t, o.Send(context.Background(), Message{To: []string{"  "}}), ErrNoRecipients)
	assert.ErrorIs(t, ConsoleSender{}.Send(context.Background(), Message{}), ErrNoRecipients)

	s, err := NewSMTPSender(SMTPConfig{Host: "localhost"})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Send(context.Background(), Message{}), ErrNoRecipients)
}

func TestConsoleSenderLogs(t *testing.T) {
	var buf bytes.Buffer
	c := ConsoleSender{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, c.Send(context.Background(), Message{From: "f@x", To: []string{"t@x"}, Subject: "Welcome to BookReview"}))
	assert.True(t, strings.Contains(buf.String(), "Welcome to BookReview"))
}

func TestNewSMTPSenderValidates(t *testing.T) {
	_, err := NewSMTPSender(SMTPConfig{})
	assert.Error(t, err)
	_, err = NewSMTPSender(SMTPConfig{Host: "smtp.example.com", TLS: "sometimes"})
	assert.Error(t, err)
	s, err := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, s.cfg.Port)
}
