package report

import (
	"context"
	"errors"
	"io"
	"net/url"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

type fakeGetter struct {
	url  string
	resp map[string]any
	err  error
}

func (g *fakeGetter) Get(ctx context.Context, rawURL string, params url.Values) (map[string]any, error) {
	g.url = rawURL
	return g.resp, g.err
}

type recordingMailer struct {
	mu    sync.Mutex
	mails []string
}

func (m *recordingMailer) Send(to, subject, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mails = append(m.mails, to+"|"+subject+"|"+text)
}

func (m *recordingMailer) sent() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.mails...)
	sort.Strings(out)
	return out
}

func TestReportFansOutToAdmins(t *testing.T) {
	getter := &fakeGetter{resp: map[string]any{"emails": []any{"b@x.io", "a@x.io"}}}
	mailer := &recordingMailer{}
	r := New(getter, mailer, "http://admin", testLog())

	r.Report(context.Background(), "XOPAY: Test.", "hello admins")

	assert.Equal(t, "http://admin/admins_emails", getter.url)
	assert.Equal(t, []string{
		"a@x.io|XOPAY: Test.|hello admins",
		"b@x.io|XOPAY: Test.|hello admins",
	}, mailer.sent())
}

func TestReportDroppedWhenAdminListUnavailable(t *testing.T) {
	getter := &fakeGetter{err: errors.New("admin down")}
	mailer := &recordingMailer{}
	r := New(getter, mailer, "http://admin", testLog())

	r.Report(context.Background(), "XOPAY: Test.", "hello")
	assert.Empty(t, mailer.sent())
}

func TestReportDroppedOnEmptyList(t *testing.T) {
	getter := &fakeGetter{resp: map[string]any{"emails": []any{}}}
	mailer := &recordingMailer{}
	r := New(getter, mailer, "http://admin", testLog())

	r.Report(context.Background(), "XOPAY: Test.", "hello")
	assert.Empty(t, mailer.sent())
}

func TestEmailList(t *testing.T) {
	assert.Empty(t, EmailList(nil))
	assert.Empty(t, EmailList(map[string]any{"emails": "not-a-list"}))
	assert.Equal(t, []string{"a@x.io"},
		EmailList(map[string]any{"emails": []any{"a@x.io", "", 7}}))
}
