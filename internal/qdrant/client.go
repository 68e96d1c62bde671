// Package qdrant retrieves candidates from a Qdrant collection holding one
// dense and one sparse named vector per document.
package qdrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ricesearch/rice-eval/internal/config"
)

const (
	// DefaultHost is the default Qdrant host.
	DefaultHost = "localhost"

	// DefaultPort is the default Qdrant gRPC port.
	DefaultPort = 6334

	// DefaultTimeout is the default operation timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultDenseVector and DefaultSparseVector name the collection's vectors.
	DefaultDenseVector  = "dense"
	DefaultSparseVector = "sparse"
)

// ClientConfig holds configuration for the Qdrant client.
type ClientConfig struct {
	Host    string
	Port    int
	APIKey  string
	UseTLS  bool
	Timeout time.Duration

	Collection   string
	DenseVector  string
	SparseVector string
}

// ConfigFrom maps application settings onto a ClientConfig.
func ConfigFrom(c config.QdrantConfig) ClientConfig {
	return ClientConfig{
		Host:         c.Host,
		Port:         c.Port,
		APIKey:       c.APIKey,
		UseTLS:       c.UseTLS,
		Timeout:      c.Timeout,
		Collection:   c.Collection,
		DenseVector:  c.DenseVector,
		SparseVector: c.SparseVector,
	}
}

func (c *ClientConfig) setDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DenseVector == "" {
		c.DenseVector = DefaultDenseVector
	}
	if c.SparseVector == "" {
		c.SparseVector = DefaultSparseVector
	}
}

// pointsAPI is the part of *qdrant.Client the package uses.
type pointsAPI interface {
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Client wraps the Qdrant Go client for one collection.
type Client struct {
	api    pointsAPI
	config ClientConfig
	mu     sync.RWMutex
	closed bool
}

// NewClient connects to Qdrant over gRPC.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.setDefaults()
	if cfg.Collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	return newClient(client, cfg), nil
}

func newClient(api pointsAPI, cfg ClientConfig) *Client {
	cfg.setDefaults()
	return &Client{api: api, config: cfg}
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.api.Close()
}

// HealthCheck verifies the Qdrant server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	reply, err := c.api.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if reply.GetTitle() == "" {
		return fmt.Errorf("unexpected health check response")
	}
	return nil
}
