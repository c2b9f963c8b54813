package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturingMailer struct {
	to, subject, text string
	calls             int
}

func (m *capturingMailer) Send(to, subject, text string) {
	m.to, m.subject, m.text = to, subject, text
	m.calls++
}

type capturingSMS struct {
	phone, text string
	calls       int
}

func (s *capturingSMS) Send(phone, text string) {
	s.phone, s.text = phone, text
	s.calls++
}

func TestEmailHandlerForwardsValidMessage(t *testing.T) {
	mail := &capturingMailer{}
	handle := EmailHandler(mail, testLog())

	err := handle(context.Background(), map[string]any{
		"email_to": "merchant@example.com",
		"subject":  "Payout ready",
		"text":     "Your payout is on the way.",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, mail.calls)
	assert.Equal(t, "merchant@example.com", mail.to)
	assert.Equal(t, "Payout ready", mail.subject)
	assert.Equal(t, "Your payout is on the way.", mail.text)
}

func TestEmailHandlerDropsWrongFields(t *testing.T) {
	cases := map[string]map[string]any{
		"missing key": {"email_to": "a@b.c", "subject": "hi"},
		"extra key":   {"email_to": "a@b.c", "subject": "hi", "text": "t", "cc": "x@y.z"},
		"renamed key": {"to": "a@b.c", "subject": "hi", "text": "t"},
		"non-string":  {"email_to": "a@b.c", "subject": 7, "text": "t"},
		"empty":       {},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			mail := &capturingMailer{}
			require.NoError(t, EmailHandler(mail, testLog())(context.Background(), payload))
			assert.Zero(t, mail.calls)
		})
	}
}

func TestSMSHandlerForwardsValidMessage(t *testing.T) {
	sms := &capturingSMS{}
	handle := SMSHandler(sms, testLog())

	err := handle(context.Background(), map[string]any{
		"phone": "+37120000001",
		"text":  "Your code is 1234",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, sms.calls)
	assert.Equal(t, "+37120000001", sms.phone)
	assert.Equal(t, "Your code is 1234", sms.text)
}

func TestSMSHandlerDropsWrongFields(t *testing.T) {
	cases := map[string]map[string]any{
		"missing text": {"phone": "+37120000001"},
		"extra key":    {"phone": "+37120000001", "text": "hi", "sender": "xopay"},
		"non-string":   {"phone": 37120000001, "text": "hi"},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			sms := &capturingSMS{}
			require.NoError(t, SMSHandler(sms, testLog())(context.Background(), payload))
			assert.Zero(t, sms.calls)
		})
	}
}
