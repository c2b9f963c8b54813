package handlers

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/xopay/notify-service/internal/queue"
)

// Mailer hands a mail to the delivery pool.
type Mailer interface {
	Send(to, subject, text string)
}

// SMSSender hands a text message to the SMS pool.
type SMSSender interface {
	Send(phone, text string)
}

// EmailHandler validates and forwards messages from the email queue. The
// key set must be exactly {email_to, subject, text} with string values;
// anything else is dropped.
func EmailHandler(mail Mailer, log *logrus.Entry) queue.Handler {
	return func(ctx context.Context, payload map[string]any) error {
		fields, ok := stringFields(payload, "email_to", "subject", "text")
		if !ok {
			log.Errorf("Wrong fields in email queue request: [%v]. Skip notify!", payload)
			return nil
		}
		mail.Send(fields["email_to"], fields["subject"], fields["text"])
		return nil
	}
}

// SMSHandler validates and forwards messages from the sms queue. The key
// set must be exactly {phone, text}.
func SMSHandler(sms SMSSender, log *logrus.Entry) queue.Handler {
	return func(ctx context.Context, payload map[string]any) error {
		fields, ok := stringFields(payload, "phone", "text")
		if !ok {
			log.Errorf("Wrong fields in sms queue request: [%v]. Skip notify!", payload)
			return nil
		}
		sms.Send(fields["phone"], fields["text"])
		return nil
	}
}

// stringFields checks that the payload key set equals keys exactly and
// every value is a string.
func stringFields(payload map[string]any, keys ...string) (map[string]string, bool) {
	if len(payload) != len(keys) {
		return nil, false
	}
	fields := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok := payload[key].(string)
		if !ok {
			return nil, false
		}
		fields[key] = value
	}
	return fields, true
}
