package mailer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type captureSender struct {
	sent []*gomail.Message
	err  error
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	c.sent = append(c.sent, m...)
	return c.err
}

func TestSendWelcome(t *testing.T) {
	sender := &captureSender{}
	svc := NewEmailServiceWithSender(sender, "noreply@mindmate.app", "MindMate")

	require.NoError(t, svc.SendWelcome("alice@example.com"))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, []string{"alice@example.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"Welcome to MindMate"}, msg.GetHeader("Subject"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "1166")
}

func TestSendWelcome_WrapsDialError(t *testing.T) {
	sender := &captureSender{err: errors.New("connection refused")}
	svc := NewEmailServiceWithSender(sender, "noreply@mindmate.app", "MindMate")

	err := svc.SendWelcome("bob@example.com")

	assert.EqualError(t, err, "send welcome mail to bob@example.com: connection refused")
}
