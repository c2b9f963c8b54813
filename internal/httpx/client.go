package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

const requestTimeout = 10 * time.Second

// TokenSource mints a bearer token for an outgoing request.
type TokenSource interface {
	Token() (string, error)
}

// Client is the JSON HTTP client shared by every outbound call of the
// service. It talks to the internal REST APIs only: request and response
// bodies are JSON objects, authentication is a per-request system token.
// The client never retries; retry is the caller's policy.
type Client struct {
	http   *http.Client
	tokens TokenSource
	log    *logrus.Entry
}

func New(tokens TokenSource, log *logrus.Entry) *Client {
	return &Client{
		http:   &http.Client{Timeout: requestTimeout},
		tokens: tokens,
		log:    log,
	}
}

// Request performs one JSON request. It succeeds only on HTTP 200 with a
// decodable JSON object body; everything else returns a descriptive error
// and a nil body.
func (c *Client) Request(ctx context.Context, method, rawURL string, body any, params url.Values) (map[string]any, error) {
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}

	if len(params) > 0 {
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse url %q: %w", rawURL, err)
		}
		q := u.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		u.RawQuery = q.Encode()
		rawURL = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, payload)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, rawURL, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("mint system token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, rawURL, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	decodeErr := json.NewDecoder(resp.Body).Decode(&decoded)

	if resp.StatusCode != http.StatusOK {
		detail := errorDetail(decoded)
		c.log.Errorf("HTTP wrong status %d from %s %s: %s", resp.StatusCode, method, rawURL, detail)
		return nil, fmt.Errorf("%s %s: wrong status %d: %s", method, rawURL, resp.StatusCode, detail)
	}
	if decodeErr != nil {
		c.log.Errorf("HTTP bad response from %s %s: %v", method, rawURL, decodeErr)
		return nil, fmt.Errorf("%s %s: decode response: %w", method, rawURL, decodeErr)
	}
	return decoded, nil
}

func (c *Client) Get(ctx context.Context, url string, params url.Values) (map[string]any, error) {
	return c.Request(ctx, http.MethodGet, url, nil, params)
}

func (c *Client) Post(ctx context.Context, url string, body any) (map[string]any, error) {
	return c.Request(ctx, http.MethodPost, url, body, nil)
}

func (c *Client) Put(ctx context.Context, url string, body any) (map[string]any, error) {
	return c.Request(ctx, http.MethodPut, url, body, nil)
}

// errorDetail digs the admin API error envelope out of a failed response.
func errorDetail(body map[string]any) string {
	if body == nil {
		return "no error detail"
	}
	if errObj, ok := body["error"].(map[string]any); ok {
		if msg, ok := errObj["message"].(string); ok {
			return msg
		}
	}
	return fmt.Sprintf("%v", body)
}
