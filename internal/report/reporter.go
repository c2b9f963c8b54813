package report

import (
	"context"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
)

// Getter is the slice of the HTTP client the reporter needs.
type Getter interface {
	Get(ctx context.Context, url string, params url.Values) (map[string]any, error)
}

// Mailer hands a mail to the delivery pool.
type Mailer interface {
	Send(to, subject, text string)
}

// Reporter delivers plain-text service reports to every administrator.
// Reports are best effort: if the admin list cannot be fetched the report
// is dropped with a warning, and failures never propagate to callers.
type Reporter struct {
	client    Getter
	mail      Mailer
	adminBase string
	log       *logrus.Entry
}

func New(client Getter, mail Mailer, adminBaseURL string, log *logrus.Entry) *Reporter {
	return &Reporter{client: client, mail: mail, adminBase: adminBaseURL, log: log}
}

// Report mails subject/text to the current admin email list.
func (r *Reporter) Report(ctx context.Context, subject, text string) {
	resp, err := r.client.Get(ctx, r.adminBase+"/admins_emails", nil)
	if err != nil {
		r.log.Warnf("Report to admin dropped, admin emails not available: %v", err)
		return
	}

	emails := EmailList(resp)
	if len(emails) == 0 {
		r.log.Warnf("Report to admin dropped, admin email list is empty")
		return
	}

	var wg sync.WaitGroup
	for _, email := range emails {
		wg.Add(1)
		go func(email string) {
			defer wg.Done()
			r.mail.Send(email, subject, text)
		}(email)
	}
	wg.Wait()
}

// EmailList extracts the "emails" array of an admin API response.
func EmailList(body map[string]any) []string {
	raw, _ := body["emails"].([]any)
	emails := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok && s != "" {
			emails = append(emails, s)
		}
	}
	return emails
}
