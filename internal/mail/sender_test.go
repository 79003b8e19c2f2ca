package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSMTPSenderValidation(t *testing.T) {
	_, err := NewSMTPSender(Config{From: "noreply@example.com"})
	assert.Error(t, err, "missing host must be rejected")

	_, err = NewSMTPSender(Config{Host: "smtp.example.com"})
	assert.Error(t, err, "missing from address must be rejected")

	sender, err := NewSMTPSender(Config{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 587, sender.cfg.Port, "port defaults to submission")
	assert.Equal(t, 30*time.Second, sender.cfg.Timeout)
}

func TestSendRejectsEmptyRecipient(t *testing.T) {
	sender, err := NewSMTPSender(Config{Host: "smtp.example.com", From: "noreply@example.com"})
	require.NoError(t, err)

	err = sender.Send(context.Background(), Message{Subject: "hi", Body: "body"})
	assert.Error(t, err)
}
