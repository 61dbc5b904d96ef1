// Package unifi talks to a UniFi network controller: it logs in, mints
// hotspot vouchers and binds them to guest devices.
package unifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultSite is the site every fresh controller install has.
	DefaultSite = "default"
	// DefaultTimeout bounds every single controller round-trip.
	DefaultTimeout = 10 * time.Second

	resultOK = "ok"
)

// Response size limits. The voucher listing grows with every grant still on
// the controller, so it gets a far larger allowance than command replies.
const (
	maxResponseBytes = 4 << 20
	maxListingBytes  = 512 << 20
)

// Config holds the controller coordinates and management credentials.
type Config struct {
	URL      string // Controller base URL (e.g., "https://192.168.1.2:8443")
	Site     string // Site identifier (default: "default")
	Username string
	Password string
	Timeout  time.Duration // Per-call timeout (default: 10s)
}

// Client is a stateless UniFi controller client. It is safe for concurrent
// use; it never caches a login between operations.
type Client struct {
	config  Config
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger

	maxResponse int64
	maxListing  int64
}

// ResponseTooLargeError reports a controller reply over the read limit.
type ResponseTooLargeError struct {
	Path  string
	Limit int64
}

func (e *ResponseTooLargeError) Error() string {
	return fmt.Sprintf("response from %s exceeds %d bytes", e.Path, e.Limit)
}

// Session is the credential returned by Login: the controller's session
// cookies joined into a single Cookie header value.
type Session struct {
	cookie string
}

// Cookie returns the header value to send with authenticated calls.
func (s *Session) Cookie() string {
	return s.cookie
}

type meta struct {
	RC  string `json:"rc"`
	Msg string `json:"msg,omitempty"`
}

type envelope struct {
	Meta meta            `json:"meta"`
	Data json.RawMessage `json:"data"`
}

// response is a decoded controller reply. A body that is not a UniFi
// envelope decodes to an empty rc and is treated as a semantic failure.
type response struct {
	status  int
	cookies []*http.Cookie
	env     envelope
	raw     []byte
}

func (r *response) ok() bool {
	return r.env.Meta.RC == resultOK
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewClient creates a new controller client.
func NewClient(config Config, logger *zap.Logger) (*Client, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("controller URL is required")
	}
	base, err := url.Parse(strings.TrimRight(config.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse controller URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("controller URL %q must be absolute", config.URL)
	}
	if config.Site == "" {
		config.Site = DefaultSite
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, // controller ships a self-signed certificate on a fixed LAN address
	}

	return &Client{
		config:  config,
		baseURL: base,
		http: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		logger:      logger,
		maxResponse: maxResponseBytes,
		maxListing:  maxListingBytes,
	}, nil
}

// Site returns the configured site identifier.
func (c *Client) Site() string {
	return c.config.Site
}

// Login authenticates with the controller and returns a fresh session.
//
// Success is decided by meta.rc in the body, never by the HTTP status alone:
// the controller answers 200 with {"meta":{"rc":"error"}} on bad credentials.
func (c *Client) Login(ctx context.Context) (*Session, error) {
	resp, err := c.send(ctx, http.MethodPost, "/api/login", nil, loginRequest{
		Username: c.config.Username,
		Password: c.config.Password,
	})
	if err != nil {
		c.logger.Error("controller login error", zap.Error(err))
		return nil, &Error{Kind: KindAuthentication, Op: "login", Err: err}
	}

	if !resp.ok() {
		c.logger.Error("controller login failed",
			zap.Int("status", resp.status),
			zap.ByteString("payload", resp.raw),
		)
		return nil, resp.failure(KindAuthentication, "login")
	}

	cookie := joinCookies(resp.cookies)
	if cookie == "" {
		c.logger.Error("controller login returned no session cookie",
			zap.ByteString("payload", resp.raw),
		)
		return nil, &Error{
			Kind:    KindAuthentication,
			Op:      "login",
			Status:  resp.status,
			Message: "no session cookie in login response",
			Payload: resp.raw,
		}
	}

	c.logger.Debug("controller login successful")
	return &Session{cookie: cookie}, nil
}

// sitePath returns the API path for a site-scoped command (e.g., "cmd/stamgr").
func (c *Client) sitePath(command string) string {
	return "/api/s/" + url.PathEscape(c.config.Site) + "/" + command
}

// send performs one controller round-trip. Only transport failures and
// oversized replies are returned as errors; any response, whatever its
// status, is decoded and returned for the caller to judge by meta.rc.
func (c *Client) send(ctx context.Context, method, path string, session *Session, body any) (*response, error) {
	return c.sendLimited(ctx, method, path, session, body, c.maxResponse)
}

func (c *Client) sendLimited(ctx context.Context, method, path string, session *Session, body any, limit int64) (*response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != nil {
		req.Header.Set("Cookie", session.cookie)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(raw)) > limit {
		c.logger.Error("controller response too large",
			zap.String("path", path),
			zap.Int("status", httpResp.StatusCode),
			zap.Int64("limit", limit),
		)
		return nil, &ResponseTooLargeError{Path: path, Limit: limit}
	}

	resp := &response{
		status:  httpResp.StatusCode,
		cookies: httpResp.Cookies(),
		raw:     raw,
	}
	if err := json.Unmarshal(raw, &resp.env); err != nil {
		c.logger.Debug("controller response is not a UniFi envelope",
			zap.String("path", path),
			zap.Int("status", resp.status),
		)
	}

	return resp, nil
}

// failure builds the semantic error for a response whose rc is not "ok".
func (r *response) failure(kind Kind, op string) *Error {
	msg := r.env.Meta.Msg
	if msg == "" && r.env.Meta.RC == "" {
		msg = fmt.Sprintf("unexpected response (HTTP %d)", r.status)
	}
	return &Error{
		Kind:    kind,
		Op:      op,
		Status:  r.status,
		Message: msg,
		Payload: r.raw,
	}
}

// joinCookies folds every Set-Cookie of a response into one Cookie header.
func joinCookies(cookies []*http.Cookie) string {
	parts := make([]string, 0, len(cookies))
	for _, ck := range cookies {
		if ck.Name == "" {
			continue
		}
		parts = append(parts, ck.Name+"="+ck.Value)
	}
	return strings.Join(parts, "; ")
}
