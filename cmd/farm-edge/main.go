package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/leehyoungkeun/control-smartfarm-sub000/pkg/farmbridge"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	var err error

	switch cmd {
	case "run":
		err = runCommand(os.Args[2:])
	case "validate":
		err = validateCommand(os.Args[2:])
	case "stats":
		err = statsCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("farm-edge %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/edge.yaml", "Path to edge configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	flow, err := farmbridge.Conf(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return flow.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/edge.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := farmbridge.LoadEdgeConfig(*cfgPath)
	if err != nil {
		return err
	}
	source := "feed"
	if cfg.OPCUA != nil {
		source = fmt.Sprintf("opcua %s (%d nodes)", cfg.OPCUA.Endpoint, len(cfg.OPCUA.Nodes))
	}
	fmt.Printf("config %s looks good: farm=%s broker=%s sensors=%s alarms=%d\n",
		*cfgPath, cfg.FarmID, cfg.MQTT.Broker, source, len(cfg.Alarms))
	return nil
}

func statsCommand(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	url := fs.String("url", "http://localhost:9100/metrics", "Prometheus metrics endpoint")
	interval := fs.Duration("interval", 2*time.Second, "Refresh interval")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	client := &http.Client{Timeout: *interval}
	fmt.Printf("Streaming metrics from %s (Ctrl+C to stop)\n", *url)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := printMetricsSnapshot(client, *url); err != nil {
				fmt.Fprintf(os.Stderr, "stats error: %v\n", err)
			}
		}
	}
}

var statsTargets = []string{
	"farm_mqtt_connected",
	"farm_open_alarms",
	"farm_retry_queue_length",
	"farm_ondemand_subscribers",
	"farm_alarm_journal_bytes",
}

func printMetricsSnapshot(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	values := make(map[string]float64, len(statsTargets))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		for _, key := range statsTargets {
			if strings.HasPrefix(line, key+" ") {
				var value float64
				if _, err := fmt.Sscanf(line, key+" %g", &value); err == nil {
					values[key] = value
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Printf("[%s] mqtt=%.0f open_alarms=%.0f queued=%.0f viewers=%.0f journal_bytes=%.0f\n",
		time.Now().Format(time.RFC3339),
		values["farm_mqtt_connected"],
		values["farm_open_alarms"],
		values["farm_retry_queue_length"],
		values["farm_ondemand_subscribers"],
		values["farm_alarm_journal_bytes"],
	)
	return nil
}

func printUsage() {
	fmt.Printf(`farm-edge: smart farm edge node

Usage:
  farm-edge <command> [flags]

Commands:
  run        Start the edge runtime using the provided config
  validate   Load and validate a config file without starting the runtime
  stats      Poll the Prometheus metrics endpoint and print live gauges

Examples:
  farm-edge run -config ./data/edge.yaml
  farm-edge validate -config ./data/edge.yaml
  farm-edge stats -url http://localhost:9100/metrics -interval 1s
`)
}
