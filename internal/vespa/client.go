// Package vespa queries a Vespa application and exposes its match-features
// as search signals.
package vespa

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
)

// Defaults.
const (
	DefaultEndpoint = "http://localhost:8080"
	DefaultTimeout  = 10 * time.Second
	DefaultRanking  = "fusion"
	DefaultYQL      = "select * from sources * where rank({targetHits:1000}nearestNeighbor(embedding,q), userQuery())"
)

// Config configures the Vespa client.
type Config struct {
	Endpoint string
	Ranking  string
	YQL      string
	Timeout  time.Duration

	// CertFile and KeyFile enable mutual TLS, as required by Vespa Cloud.
	CertFile string
	KeyFile  string

	// Embedders maps query tensor names to embedder ids.
	Embedders map[string]string
	// Features maps match-feature names to signal names. When empty every
	// match-feature is passed through under its own name.
	Features map[string]string

	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// ConfigFrom maps application settings onto a Config.
func ConfigFrom(c config.VespaConfig) Config {
	return Config{
		Endpoint:  c.Endpoint,
		Ranking:   c.Ranking,
		YQL:       c.YQL,
		Timeout:   c.Timeout,
		CertFile:  c.CertFile,
		KeyFile:   c.KeyFile,
		Embedders: c.Embedders,
		Features:  c.Features,
	}
}

// Client posts queries to a Vespa search endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a client, loading the client certificate when configured.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 100
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	if cfg.CertFile != "" || cfg.KeyFile != "" {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return nil, fmt.Errorf("both cert_file and key_file are required for mutual TLS")
		}
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}, nil
}

// statusError is a non-2xx reply.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// post sends body as JSON and decodes the reply into result.
func (c *Client) post(ctx context.Context, path string, body, result any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return &statusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(payload))}
	}

	if result != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}
