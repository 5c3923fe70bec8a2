package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/wire"
)

// ErrRejected is returned when the server answers but refuses the payload.
var ErrRejected = errors.New("ingest: rejected")

// Config for the edge side of the ingestion channel.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
	// consecutive failures before the breaker opens
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`
}

func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 2 * time.Minute
	}
}

func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.Secret == "" {
		return errors.New("secret is required")
	}
	return nil
}

// Client posts ingestion payloads. A circuit breaker guards the snapshot
// heartbeat only; an open breaker counts as a failed send. Daily summaries
// bypass it since the daily sync bounds its own attempts.
type Client struct {
	cfg  Config
	farm domain.FarmID
	http *http.Client
	cb   *gobreaker.CircuitBreaker[struct{}]
	obs  ports.Observability
}

func NewClient(cfg Config, farm domain.FarmID, obs ports.Observability) (*Client, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ingest config: %w", err)
	}
	c := &Client{
		cfg:  cfg,
		farm: farm,
		http: &http.Client{Timeout: cfg.Timeout},
		obs:  obs,
	}
	c.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "ingest",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			obs.LogWarn("ingest_breaker_state",
				ports.Field{Key: "from", Value: from.String()},
				ports.Field{Key: "to", Value: to.String()})
		},
	})
	return c, nil
}

func (c *Client) SendSnapshot(ctx context.Context, body []byte) error {
	return c.post(ctx, wire.PathSnapshot, body)
}

func (c *Client) SendDailySummaries(ctx context.Context, body []byte) error {
	return c.timed(ctx, wire.PathDailySummary, body)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		return struct{}{}, c.timed(ctx, path, body)
	})
	return err
}

// timed records one latency sample per request that reaches the network.
func (c *Client) timed(ctx context.Context, path string, body []byte) error {
	start := time.Now()
	err := c.do(ctx, path, body)
	c.obs.ObserveLatency("farm_ingest_latency_seconds", time.Since(start).Seconds())
	return err
}

func (c *Client) do(ctx context.Context, path string, body []byte) error {
	url := strings.TrimRight(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(wire.HeaderFarmID, string(c.farm))
	req.Header.Set(wire.HeaderFarmSecret, c.cfg.Secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	var ack wire.IngestResponse
	_ = json.Unmarshal(raw, &ack)

	if resp.StatusCode < 200 || resp.StatusCode > 299 || !ack.Success {
		msg := ack.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%w: %s: %s", ErrRejected, path, msg)
	}
	return nil
}

var _ ports.IngestSender = (*Client)(nil)
