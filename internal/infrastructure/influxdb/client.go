package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/gray-logic-farm/internal/infrastructure/config"
)

const (
	defaultBatchSize    = 100
	defaultFlushSeconds = 10
	siteTag             = "site"
)

// Client is a batched telemetry writer for one site.
//
// Every series carries the site as a default tag. Writes issued before
// Connect succeeds, or after Close, are dropped and counted.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	bucket   string

	ready   atomic.Bool
	dropped atomic.Uint64

	mu      sync.Mutex
	onError func(err error)
}

// New prepares a client without contacting the server. It returns
// ErrDisabled when influxdb.enabled is false.
func New(cfg config.InfluxDBConfig, site string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize := max(cfg.BatchSize, 0)
	if batchSize == 0 {
		batchSize = defaultBatchSize
	}
	flushSeconds := max(cfg.FlushInterval, 0)
	if flushSeconds == 0 {
		flushSeconds = defaultFlushSeconds
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushSeconds) * 1000)
	if site != "" {
		opts.AddDefaultTag(siteTag, site)
	}

	raw := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)
	c := &Client{
		client:   raw,
		writeAPI: raw.WriteAPI(cfg.Org, cfg.Bucket),
		bucket:   cfg.Bucket,
	}
	go c.forwardWriteErrors(c.writeAPI.Errors())
	return c, nil
}

// Connect pings the server and enables writes once it answers healthy.
func (c *Client) Connect(ctx context.Context) error {
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server reports unhealthy", ErrUnreachable)
	}
	c.ready.Store(true)
	return nil
}

func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		c.mu.Lock()
		callback := c.onError
		c.mu.Unlock()
		if callback != nil {
			callback(fmt.Errorf("writing to bucket %s: %w", c.bucket, err))
		}
	}
}

// Close flushes what is buffered and releases the HTTP client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if c.ready.Swap(false) {
		c.writeAPI.Flush()
	}
	c.client.Close()
	return nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Ready() {
		return ErrNotReady
	}
	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	if !healthy {
		return fmt.Errorf("%w: server reports unhealthy", ErrUnreachable)
	}
	return nil
}

// Ready reports whether writes are currently accepted.
func (c *Client) Ready() bool {
	return c != nil && c.ready.Load()
}

// Dropped returns how many samples were discarded while not ready.
func (c *Client) Dropped() uint64 {
	if c == nil {
		return 0
	}
	return c.dropped.Load()
}

// SetOnError sets a callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// Flush forces buffered samples out.
func (c *Client) Flush() {
	if c.Ready() {
		c.writeAPI.Flush()
	}
}
