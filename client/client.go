// Package client is the request/response facade over the remote order store.
// It attaches bearer credentials, maps status codes onto the error taxonomy
// and normalizes every payload into the canonical models exactly once.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yeremiapane/restaurant-sync/apperrors"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// TokenSource hands out the bearer credential. Issuing and refreshing it is
// someone else's job.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	log     logrus.FieldLogger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.log = l }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

func New(baseURL string, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		tokens:  tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = utils.Logger(c.log)
	return c
}

// BaseURL is shared with the event channel: one endpoint for REST and push.
func (c *Client) BaseURL() string {
	return c.baseURL
}

type envelope struct {
	Status  *bool           `json:"status"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: %v", op, apperrors.ErrUnauthorized, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Transport(op, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(op, err)
	}

	var env envelope
	hasEnvelope := json.Unmarshal(raw, &env) == nil && (env.Status != nil || env.Data != nil || env.Message != "")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if hasEnvelope {
			msg = env.Message
			if msg == "" {
				msg = env.Error
			}
		}
		err := apperrors.FromHTTPStatus(resp.StatusCode, msg)
		c.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Debugf("store rejected request: %v", err)
		return nil, err
	}

	if hasEnvelope && env.Data != nil {
		return env.Data, nil
	}
	return raw, nil
}

// PasswordLogin exchanges staff credentials for a bearer token on first use
// and caches it. It stands in for the external session collaborator in the
// CLI; embedding applications pass their own TokenSource.
type PasswordLogin struct {
	BaseURL  string
	Email    string
	Password string
	HTTP     *http.Client

	mu    sync.Mutex
	token string
}

func (p *PasswordLogin) Token(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}

	hc := p.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	anon := New(p.BaseURL, nil, WithHTTPClient(hc))
	data, err := anon.do(ctx, http.MethodPost, "/auth/login", map[string]string{
		"email":    p.Email,
		"password": p.Password,
	})
	if err != nil {
		return "", err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.Token == "" {
		return "", fmt.Errorf("login: no token in response")
	}
	p.token = out.Token
	return p.token, nil
}
