package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/pkg/farmbridge"
)

type memStore struct{}

func (memStore) LookupFarm(_ context.Context, id domain.FarmID) (domain.Farm, bool, error) {
	return domain.Farm{ID: id, Name: "demo"}, true, nil
}

func (memStore) SaveTelemetry(context.Context, domain.FarmID, time.Time, map[string]float64) error {
	return nil
}

func (memStore) SaveStatus(context.Context, domain.FarmID, domain.StatusSnapshot) error { return nil }

func (memStore) SaveAlarm(context.Context, domain.FarmID, domain.AlarmRecord) error { return nil }

func (memStore) ResolveAlarm(context.Context, domain.FarmID, domain.AlarmType, time.Time) error {
	return nil
}

func (memStore) RecordCommand(context.Context, domain.FarmID, domain.Command) error { return nil }

func (memStore) AckCommand(context.Context, domain.FarmID, domain.CommandAck) error { return nil }

func (memStore) TouchLastSeen(context.Context, domain.FarmID, time.Time) error { return nil }

func (memStore) UpsertDailySummaries(context.Context, domain.FarmID, []domain.DailySummary) error {
	return nil
}

func (memStore) ListLiveness(context.Context) ([]domain.FarmLiveness, error) { return nil, nil }

func (memStore) SetOnline(context.Context, domain.FarmID, bool) error { return nil }

// Runs an edge node and the cloud bridge in one process over an in-memory
// broker. Simulated EC readings drift until an alarm fires; the cloud side
// reads relayed events from a channel.
func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub := mqtt.NewLoopback()
	fan, events, closeEvents := farmbridge.NewChannelFanOut(32)

	cloudCfg := &farmbridge.CloudConfig{}
	cloudCfg.ApplyDefaults()
	cloud, err := farmbridge.NewCloudRuntime(ctx, cloudCfg,
		farmbridge.WithCloudStore(memStore{}),
		farmbridge.WithCloudBroker(hub.Client()),
		farmbridge.WithFanOut(fan),
		farmbridge.WithoutHTTP())
	if err != nil {
		log.Fatalf("cloud runtime: %v", err)
	}

	setEC := 2.0
	edgeCfg := &farmbridge.EdgeConfig{FarmID: "demo-farm", System: domain.SystemConfig{SetEC: &setEC}}
	edgeCfg.Ingest.BaseURL = "http://localhost:8080"
	edgeCfg.Ingest.Secret = "demo"
	edgeCfg.Storage.DataDir = "./demo-data"
	edgeCfg.ApplyDefaults()
	edge, err := farmbridge.NewEdgeRuntime(edgeCfg,
		farmbridge.WithBroker(hub.Client()),
		farmbridge.WithoutMetricsServer())
	if err != nil {
		log.Fatalf("edge runtime: %v", err)
	}

	if err := cloud.Start(ctx); err != nil {
		log.Fatalf("cloud start: %v", err)
	}
	if err := edge.Start(ctx); err != nil {
		log.Fatalf("edge start: %v", err)
	}
	cloud.RequestStart("demo-farm")

	go func() {
		ec := 1.8
		for ctx.Err() == nil {
			ec += rand.Float64() * 0.3
			_ = edge.Feed().Publish(farmbridge.Reading{Field: domain.FieldEC, Value: ec, Timestamp: time.Now()})
			time.Sleep(time.Second)
		}
	}()

	go func() {
		for ev := range events {
			fmt.Printf("[%s] %s %s\n", ev.Farm, ev.Kind, ev.Payload)
		}
	}()

	<-ctx.Done()
	stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := edge.Shutdown(stopCtx); err != nil {
		log.Printf("edge shutdown: %v", err)
	}
	if err := cloud.Shutdown(stopCtx); err != nil {
		log.Printf("cloud shutdown: %v", err)
	}
	closeEvents()
}
