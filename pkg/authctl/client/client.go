package client

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultTimeout      = 30 * time.Second
	DefaultPollInterval = 2 * time.Second
)

var (
	// ErrExpired is returned when the login expired or its credentials were
	// already collected.
	ErrExpired = errors.New("login expired before it was completed")
	// ErrDenied is returned when the session was deactivated.
	ErrDenied = errors.New("login denied: session is inactive")
)

// DeviceInfo describes the machine starting a login.
type DeviceInfo struct {
	DeviceName string `json:"device_name,omitempty"`
	OS         string `json:"os,omitempty"`
	CLIVersion string `json:"cli_version,omitempty"`
}

// StartResponse is returned by POST /auth/cli/start.
type StartResponse struct {
	AuthURL   string `json:"auth_url"`
	ExpiresIn int    `json:"expires_in"`
}

// State extracts the state parameter from AuthURL.
func (r StartResponse) State() (string, error) {
	u, err := url.Parse(r.AuthURL)
	if err != nil {
		return "", fmt.Errorf("invalid auth url: %w", err)
	}
	state := u.Query().Get("state")
	if state == "" {
		return "", errors.New("auth url carries no state")
	}
	return state, nil
}

// StatusResponse is returned by the status and renew endpoints.
type StatusResponse struct {
	Status          string    `json:"status"`
	AccessKeyID     string    `json:"access_key_id,omitempty"`
	SecretAccessKey string    `json:"secret_access_key,omitempty"`
	SessionToken    string    `json:"session_token,omitempty"`
	ExpiresAt       time.Time `json:"expires_at,omitempty"`
	RefreshToken    string    `json:"refresh_token,omitempty"`
}

const (
	StatusPending    = "PENDING"
	StatusExpired    = "EXPIRED"
	StatusDenied     = "DENIED"
	StatusAuthorized = "AUTHORIZED"
)

type apiError struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details string `json:"details"`
}

// HTTPError is returned for every non-2xx answer.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("request failed (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("request failed (%d): %s", e.StatusCode, e.Message)
}

type Client struct {
	r      *resty.Client
	server string
}

type Option func(*Client) error

func New(opts ...Option) (*Client, error) {
	c := &Client{
		r: resty.New().
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "authctl"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.server == "" {
		return nil, errors.New("server is required")
	}
	return c, nil
}

func WithServer(server string) Option {
	return func(c *Client) error {
		if server == "" {
			return errors.New("server is required")
		}
		parsed, err := url.Parse(server)
		if err != nil {
			return fmt.Errorf("invalid server: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("invalid server %q: scheme must be http or https", server)
		}
		c.server = strings.TrimSuffix(parsed.String(), "/")
		c.r.SetBaseURL(c.server)
		return nil
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) error {
		c.r.SetHeader("User-Agent", userAgent)
		return nil
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.r.SetTimeout(d)
		return nil
	}
}

// WithRetries retries status polls that failed in transport or with a 5xx.
// Start and renew are never retried.
func WithRetries(count int) Option {
	return func(c *Client) error {
		c.r.SetRetryCount(count).
			SetRetryWaitTime(500 * time.Millisecond).
			SetRetryMaxWaitTime(5 * time.Second).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if resp == nil || resp.Request == nil || resp.Request.Method != resty.MethodGet {
					return false
				}
				return err != nil || resp.StatusCode() >= 500
			})
		return nil
	}
}

func WithTLSConfig(caFile string, insecureSkipTLSVerify bool) Option {
	return func(c *Client) error {
		tlsConfig, err := loadTLSConfig(caFile, insecureSkipTLSVerify)
		if err != nil {
			return err
		}
		c.r.SetTLSClientConfig(tlsConfig)
		return nil
	}
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: insecure} //nolint:gosec // opt-in flag
	if caFile == "" {
		return tlsConfig, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

// Start begins a login.
func (c *Client) Start(ctx context.Context, info DeviceInfo) (*StartResponse, error) {
	var out StartResponse
	if err := c.do(ctx, resty.MethodPost, "/auth/cli/start", info, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status polls a login once.
func (c *Client) Status(ctx context.Context, state string) (*StatusResponse, error) {
	var out StatusResponse
	req := c.r.R().SetQueryParam("state", state)
	if err := c.send(ctx, req, resty.MethodGet, "/auth/cli/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Renew exchanges a refresh token for fresh credentials.
func (c *Client) Renew(ctx context.Context, refreshToken string) (*StatusResponse, error) {
	var out StatusResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, resty.MethodPost, "/auth/cli/renew", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitForAuthorization polls until the login leaves PENDING or ctx ends.
// It returns ErrExpired or ErrDenied for the terminal failure statuses.
func (c *Client) WaitForAuthorization(ctx context.Context, state string, interval time.Duration) (*StatusResponse, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := c.Status(ctx, state)
		if err != nil {
			return nil, err
		}
		switch resp.Status {
		case StatusAuthorized:
			return resp, nil
		case StatusExpired:
			return nil, ErrExpired
		case StatusDenied:
			return nil, ErrDenied
		case StatusPending:
		default:
			return nil, fmt.Errorf("unexpected login status %q", resp.Status)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	req := c.r.R().SetHeader("Content-Type", "application/json").SetBody(body)
	return c.send(ctx, req, method, endpoint, out)
}

func (c *Client) send(ctx context.Context, req *resty.Request, method, endpoint string, out any) error {
	var apiErr apiError
	resp, err := req.SetContext(ctx).SetResult(out).SetError(&apiErr).Execute(method, endpoint)
	if err != nil {
		return err
	}
	if resp.IsError() {
		msg := strings.TrimSpace(apiErr.Error)
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		if msg == "" {
			msg = resp.Status()
		}
		return &HTTPError{StatusCode: resp.StatusCode(), Code: apiErr.Code, Message: msg}
	}
	return nil
}
