package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xopay/notify-service/internal/notify"
)

func testLog() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log.WithField("component", "test")
}

// memStore is an in-memory RuleStore for handler tests.
type memStore struct {
	mu    sync.Mutex
	rules map[string]notify.Rule
	fail  bool
}

func newMemStore(rules ...notify.Rule) *memStore {
	s := &memStore{rules: make(map[string]notify.Rule)}
	for _, rule := range rules {
		s.rules[rule.ID] = rule
	}
	return s
}

func (s *memStore) SelectAll(ctx context.Context) ([]notify.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("db down")
	}
	out := make([]notify.Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) Get(ctx context.Context, id string) (*notify.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, notify.ErrRuleNotFound
	}
	return &rule, nil
}

func (s *memStore) Insert(ctx context.Context, rule *notify.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memStore) Update(ctx context.Context, rule *notify.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = *rule
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

type countingReloader struct {
	mu    sync.Mutex
	calls int
}

func (r *countingReloader) Reload(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *countingReloader) reloads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// tokenVerifier maps raw token strings to their groups.
type tokenVerifier map[string][]string

func (v tokenVerifier) Groups(token string) ([]string, error) {
	groups, ok := v[token]
	if !ok {
		return nil, errors.New("signature is invalid")
	}
	return groups, nil
}

func validRule() notify.Rule {
	return notify.Rule{
		ID:                  "rule-1",
		Name:                "admin errors",
		CaseRegex:           "xopay-admin:.*",
		CaseTemplate:        "{{service_name}}:{{query.path}}",
		HeaderTemplate:      "Hello {{service_name}}",
		BodyTemplate:        "path={{query.path}}",
		SubscribersTemplate: "group:admin",
	}
}

type apiFixture struct {
	store    *memStore
	reloader *countingReloader
	srv      *httptest.Server
}

func newAPIFixture(t *testing.T, rules ...notify.Rule) *apiFixture {
	t.Helper()
	store := newMemStore(rules...)
	reloader := &countingReloader{}
	verifier := tokenVerifier{
		"admin-token":  {"admin"},
		"system-token": {"system"},
	}
	server := New(store, reloader, verifier, nil, testLog())
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)
	return &apiFixture{store: store, reloader: reloader, srv: srv}
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestNotificationsRequireToken(t *testing.T) {
	f := newAPIFixture(t)

	resp, body := f.do(t, http.MethodGet, "/notifications", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	errBody, ok := body["error"].(map[string]any)
	require.True(t, ok, "error envelope expected: %v", body)
	assert.Equal(t, float64(http.StatusUnauthorized), errBody["status_code"])
	assert.Equal(t, "Token not found", errBody["message"])
}

func TestNotificationsRejectUnknownToken(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/notifications", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestNotificationsForbidNonAdminGroup(t *testing.T) {
	f := newAPIFixture(t)
	resp, body := f.do(t, http.MethodGet, "/notifications", "system-token", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	errBody := body["error"].(map[string]any)
	assert.Equal(t, "Request forbidden for such role", errBody["message"])
}

func TestListRules(t *testing.T) {
	f := newAPIFixture(t, validRule())
	resp, body := f.do(t, http.MethodGet, "/notifications", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	rules, ok := body["notifications"].([]any)
	require.True(t, ok, "body: %v", body)
	require.Len(t, rules, 1)
	first := rules[0].(map[string]any)
	assert.Equal(t, "admin errors", first["name"])
	assert.Equal(t, "xopay-admin:.*", first["case_regex"])
}

func TestCreateRule(t *testing.T) {
	f := newAPIFixture(t)
	rule := validRule()
	rule.ID = "client-supplied-id"

	resp, body := f.do(t, http.MethodPost, "/notifications", "admin-token", rule)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	id, _ := body["id"].(string)
	require.NotEmpty(t, id)
	assert.NotEqual(t, "client-supplied-id", id, "the service assigns rule ids")
	assert.Equal(t, 1, f.reloader.reloads())

	stored, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "admin errors", stored.Name)
}

func TestCreateRuleValidatesFields(t *testing.T) {
	f := newAPIFixture(t)
	rule := validRule()
	rule.Name = "abc" // shorter than the minimum

	resp, body := f.do(t, http.MethodPost, "/notifications", "admin-token", rule)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	errBody := body["error"].(map[string]any)
	assert.Contains(t, errBody["message"], "invalid arguments")
	assert.Zero(t, f.reloader.reloads())
}

func TestGetRuleNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp, _ := f.do(t, http.MethodGet, "/notifications/missing", "admin-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateRulePartial(t *testing.T) {
	f := newAPIFixture(t, validRule())

	resp, body := f.do(t, http.MethodPut, "/notifications/rule-1", "admin-token",
		map[string]any{"name": "renamed rule"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed rule", body["name"])
	assert.Equal(t, "xopay-admin:.*", body["case_regex"], "untouched fields survive")
	assert.Equal(t, 1, f.reloader.reloads())
}

func TestUpdateRuleRejectsNonString(t *testing.T) {
	f := newAPIFixture(t, validRule())
	resp, _ := f.do(t, http.MethodPut, "/notifications/rule-1", "admin-token",
		map[string]any{"name": 42})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteRule(t *testing.T) {
	f := newAPIFixture(t, validRule())

	resp, _ := f.do(t, http.MethodDelete, "/notifications/rule-1", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, f.reloader.reloads())

	resp, _ = f.do(t, http.MethodDelete, "/notifications/rule-1", "admin-token", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListRulesStorageError(t *testing.T) {
	f := newAPIFixture(t)
	f.store.fail = true

	resp, body := f.do(t, http.MethodGet, "/notifications", "admin-token", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "Storage unavailable", errBody["message"])
}
