package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

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
	case "hash-secret":
		err = hashSecretCommand(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		printUsage()
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		log.Fatalf("farm-cloud %s: %v", cmd, err)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/cloud.yaml", "Path to cloud configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := farmbridge.LoadCloudConfig(*cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := farmbridge.NewCloudRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	return rt.Run(ctx)
}

func validateCommand(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	cfgPath := fs.String("config", "./data/cloud.yaml", "Path to configuration file to validate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := farmbridge.LoadCloudConfig(*cfgPath)
	if err != nil {
		return err
	}
	redis := "disabled"
	if cfg.Redis.Addr != "" {
		redis = cfg.Redis.Addr
	}
	fmt.Printf("config %s looks good: broker=%s ingest=%s redis=%s offline_after=%s\n",
		*cfgPath, cfg.MQTT.Broker, cfg.IngestAddr, redis, cfg.Monitor.Threshold)
	return nil
}

// hashSecretCommand prints the bcrypt hash to store in farms.secret_hash.
// The secret is read from stdin unless -secret is given.
func hashSecretCommand(args []string) error {
	fs := flag.NewFlagSet("hash-secret", flag.ExitOnError)
	secret := fs.String("secret", "", "Farm ingestion secret (read from stdin when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	value := *secret
	if value == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read secret: %w", err)
		}
		value = strings.TrimSpace(line)
	}
	if value == "" {
		return errors.New("secret is empty")
	}

	hash, err := farmbridge.HashSecret(value)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func printUsage() {
	fmt.Printf(`farm-cloud: smart farm cloud bridge

Usage:
  farm-cloud <command> [flags]

Commands:
  run          Start the cloud bridge, ingestion API and offline monitor
  validate     Load and validate a config file without connecting
  hash-secret  Print the bcrypt hash of a farm ingestion secret

Examples:
  farm-cloud run -config ./data/cloud.yaml
  farm-cloud validate -config ./data/cloud.yaml
  echo -n s3cret | farm-cloud hash-secret
`)
}
