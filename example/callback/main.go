package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/pkg/farmbridge"
)

// Runs the cloud bridge and prints every relayed event instead of pushing
// it to Redis.
func main() {
	cfg, err := farmbridge.LoadCloudConfig("../../data/cloud.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg.Redis.Addr = ""

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := func(_ context.Context, ev farmbridge.Event) error {
		fmt.Printf("%s farm=%s kind=%s payload=%s\n",
			time.Now().Format(time.RFC3339Nano), ev.Farm, ev.Kind, ev.Payload)
		return nil
	}

	rt, err := farmbridge.NewCloudRuntime(ctx, cfg, farmbridge.WithFanOut(farmbridge.NewCallbackFanOut(printer)))
	if err != nil {
		log.Fatalf("cloud runtime: %v", err)
	}
	if err := rt.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}
