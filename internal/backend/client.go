// Package backend talks to the assistant API: sign-in, sign-up and chat.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pkt.systems/paveurpath/internal/version"
	"pkt.systems/paveurpath/schema"
	"pkt.systems/pslog"
)

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

const maxBodyBytes = 1 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	UserAgent  string
	Logger     pslog.Logger
}

// Client is the HTTP transport.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	log       pslog.Logger
}

// NewClient builds a client. A zero timeout means no deadline beyond ctx.
func NewClient(opts Options) (*Client, error) {
	raw := strings.TrimSpace(opts.BaseURL)
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must use http or https", raw)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	logger := opts.Logger
	if logger != nil {
		logger = logger.With("backend", base.String())
	}
	return &Client{base: base, http: httpClient, userAgent: userAgent, log: logger}, nil
}

// BaseURL returns the configured backend address.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// SignIn posts credentials to /signin.
func (c *Client) SignIn(ctx context.Context, req schema.SignInRequest) (schema.SignInResponse, error) {
	var resp schema.SignInResponse
	if err := c.post(ctx, "/signin", req, &resp); err != nil {
		return schema.SignInResponse{}, err
	}
	return resp, nil
}

// SignUp posts a new account to /signup.
func (c *Client) SignUp(ctx context.Context, req schema.SignUpRequest) error {
	return c.post(ctx, "/signup", req, nil)
}

// Chat posts a message batch to /chat.
func (c *Client) Chat(ctx context.Context, req schema.ChatRequest) (schema.ChatResponse, error) {
	var resp schema.ChatResponse
	if err := c.post(ctx, "/chat", req, &resp); err != nil {
		return schema.ChatResponse{}, err
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	log := c.log
	if log == nil {
		log = pslog.Ctx(ctx)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	target := c.base.JoinPath(endpoint).String()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.Warn("backend request failed", "endpoint", endpoint, "err", err, "duration_ms", time.Since(started).Milliseconds())
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		log.Warn("backend response read failed", "endpoint", endpoint, "err", err)
		return &DecodeError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Status: resp.StatusCode, Detail: parseDetail(data)}
		log.Warn("backend request rejected", "endpoint", endpoint, "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())
		return statusErr
	}
	log.Debug("backend request ok", "endpoint", endpoint, "status", resp.StatusCode, "duration_ms", time.Since(started).Milliseconds())
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		if out != nil {
			return &DecodeError{Err: errors.New("empty body")}
		}
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}
