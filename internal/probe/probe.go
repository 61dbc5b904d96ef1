// Package probe checks whether the gateway host can reach the internet.
package probe

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultURL is fetched by Check.
	DefaultURL = "https://www.google.com"
	// DefaultTimeout bounds a single probe.
	DefaultTimeout = 5 * time.Second
)

// Prober performs a single outbound HTTPS request as a reachability signal.
type Prober struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// New creates a new prober. Empty url or zero timeout use the defaults.
func New(url string, timeout time.Duration, logger *zap.Logger) *Prober {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		InsecureSkipVerify: true, // reachability only, the body is discarded
	}

	return &Prober{
		url: url,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		logger: logger,
	}
}

// Check returns true only if the probe URL answers 200 OK.
func (p *Prober) Check(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid probe request", zap.String("url", p.url), zap.Error(err))
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Warn("no internet access", zap.String("url", p.url), zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn("unexpected probe status", zap.String("url", p.url), zap.Int("status", resp.StatusCode))
		return false
	}

	return true
}
