package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// DefaultLatestTTL bounds how long a farm's last payload stays readable
// after the farm goes quiet.
const DefaultLatestTTL = 12 * time.Hour

// Commander is the part of the go-redis client the fan-out uses.
type Commander interface {
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Publish(ctx context.Context, channel string, message any) *goredis.IntCmd
}

// Envelope is what subscribers of the events channel receive.
type Envelope struct {
	FarmID  domain.FarmID   `json:"farmId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// FanOut keeps the latest payload per farm and event under
// farm:{id}:{event} and publishes every event on farm:{id}:events.
type FanOut struct {
	rdb Commander
	ttl time.Duration
	obs ports.Observability
}

// Options is the connection part of the cloud configuration.
type Options struct {
	Addr      string
	Password  string
	DB        int
	LatestTTL time.Duration
}

// Dial opens a client and checks it with PING.
func Dial(ctx context.Context, opts Options, obs ports.Observability) (*FanOut, *goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return New(client, opts.LatestTTL, obs), client, nil
}

func New(rdb Commander, ttl time.Duration, obs ports.Observability) *FanOut {
	if ttl <= 0 {
		ttl = DefaultLatestTTL
	}
	return &FanOut{rdb: rdb, ttl: ttl, obs: obs}
}

func LatestKey(farm domain.FarmID, event string) string {
	return fmt.Sprintf("farm:%s:%s", farm, event)
}

func EventsChannel(farm domain.FarmID) string {
	return fmt.Sprintf("farm:%s:events", farm)
}

// Broadcast stores payload as the latest value for the event and publishes
// the envelope. Liveness events carry no payload and only publish.
func (f *FanOut) Broadcast(ctx context.Context, farm domain.FarmID, event string, payload []byte) error {
	if len(payload) > 0 {
		if err := f.rdb.Set(ctx, LatestKey(farm, event), payload, f.ttl).Err(); err != nil {
			return fmt.Errorf("redis set latest: %w", err)
		}
	}

	env, err := json.Marshal(Envelope{FarmID: farm, Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	receivers, err := f.rdb.Publish(ctx, EventsChannel(farm), env).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	if f.obs != nil {
		f.obs.LogDebug("fanout_published",
			ports.Field{Key: "farm", Value: farm},
			ports.Field{Key: "event", Value: event},
			ports.Field{Key: "receivers", Value: receivers},
		)
	}
	return nil
}

var _ ports.FanOut = (*FanOut)(nil)
