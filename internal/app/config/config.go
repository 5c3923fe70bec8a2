package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/united-manufacturing-hub/umh-utils/env"
	"gopkg.in/yaml.v3"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/ingest"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/opcua"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/queue"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/alarm"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
)

// Environment variables that override secrets from the files.
const (
	EnvLogLevel      = "LOGGING_LEVEL"
	EnvFarmSecret    = "FARM_SECRET"
	EnvMQTTPassword  = "MQTT_PASSWORD"
	EnvPostgresDSN   = "POSTGRES_DSN"
	EnvRedisPassword = "REDIS_PASSWORD"
)

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	DataDir   string                `yaml:"data_dir"`
	Retention ports.RetentionPolicy `yaml:"retention"`
}

type ScheduleConfig struct {
	PushInterval     time.Duration     `yaml:"push_interval"`
	OnDemandInterval time.Duration     `yaml:"ondemand_interval"`
	QueueCapacity    int               `yaml:"queue_capacity"`
	DailySyncHour    *int              `yaml:"daily_sync_hour"`
	DailySyncMinute  *int              `yaml:"daily_sync_minute"`
	DailySync        ports.RetryPolicy `yaml:"daily_sync"`
	Timezone         string            `yaml:"timezone"`
}

// Edge is the configuration of one edge node.
type Edge struct {
	FarmID    string              `yaml:"farm_id"`
	Namespace string              `yaml:"namespace"`
	LogLevel  string              `yaml:"log_level"`
	MQTT      mqtt.Config         `yaml:"mqtt"`
	Ingest    ingest.Config       `yaml:"ingest"`
	OPCUA     *opcua.Config       `yaml:"opcua,omitempty"`
	Storage   StorageConfig       `yaml:"storage"`
	Schedule  ScheduleConfig      `yaml:"schedule"`
	Alarms    []alarm.Rule        `yaml:"alarms"`
	System    domain.SystemConfig `yaml:"system"`
	Programs  []domain.Program    `yaml:"programs"`
	Metrics   MetricsConfig       `yaml:"metrics"`
	DiskPath  string              `yaml:"disk_path"`
}

// LoadEdge reads path, applies environment overrides and defaults, and
// validates the result.
func LoadEdge(path string) (*Edge, error) {
	var cfg Edge
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Edge) applyEnv() {
	override(&c.LogLevel, EnvLogLevel)
	override(&c.Ingest.Secret, EnvFarmSecret)
	override(&c.MQTT.Password, EnvMQTTPassword)
}

func (c *Edge) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = topics.DefaultNamespace
	}
	if c.LogLevel == "" {
		c.LogLevel = "PRODUCTION"
	}
	if c.MQTT.ClientID == "" && c.FarmID != "" {
		c.MQTT.ClientID = "edge-" + c.FarmID
	}
	c.MQTT.ApplyDefaults()
	c.Ingest.ApplyDefaults()
	if c.OPCUA != nil {
		c.OPCUA.ApplyDefaults()
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Storage.Retention.SensorLogs == 0 {
		c.Storage.Retention.SensorLogs = 30 * 24 * time.Hour
	}
	if c.Storage.Retention.Runs == 0 {
		c.Storage.Retention.Runs = 365 * 24 * time.Hour
	}
	if c.Schedule.PushInterval <= 0 {
		c.Schedule.PushInterval = time.Minute
	}
	if c.Schedule.OnDemandInterval <= 0 {
		c.Schedule.OnDemandInterval = 3 * time.Second
	}
	if c.Schedule.QueueCapacity <= 0 {
		c.Schedule.QueueCapacity = queue.DefaultCapacity
	}
	if c.Schedule.DailySyncHour == nil && c.Schedule.DailySyncMinute == nil {
		c.Schedule.DailySyncMinute = intPtr(5)
	}
	if c.Schedule.DailySyncHour == nil {
		c.Schedule.DailySyncHour = intPtr(0)
	}
	if c.Schedule.DailySyncMinute == nil {
		c.Schedule.DailySyncMinute = intPtr(0)
	}
	if c.Schedule.DailySync.Attempts <= 0 {
		c.Schedule.DailySync.Attempts = 3
	}
	if c.Schedule.DailySync.Delay <= 0 {
		c.Schedule.DailySync.Delay = 30 * time.Second
	}
	if c.Schedule.DailySync.Timeout <= 0 {
		c.Schedule.DailySync.Timeout = 30 * time.Second
	}
	if len(c.Alarms) == 0 {
		c.Alarms = alarm.DefaultRules()
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.DiskPath == "" {
		c.DiskPath = "/"
	}
}

func (c *Edge) Validate() error {
	if c.FarmID == "" {
		return errors.New("farm_id is required")
	}
	if !topics.ValidFarmID(domain.FarmID(c.FarmID)) {
		return fmt.Errorf("farm_id %q is not a valid topic segment", c.FarmID)
	}
	if !topics.ValidNamespace(c.Namespace) {
		return fmt.Errorf("namespace %q is not a valid topic segment", c.Namespace)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}
	if err := c.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}
	if c.OPCUA != nil {
		if err := c.OPCUA.Validate(); err != nil {
			return fmt.Errorf("opcua config: %w", err)
		}
	}
	for _, r := range c.Alarms {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	if h, m := derefInt(c.Schedule.DailySyncHour), derefInt(c.Schedule.DailySyncMinute); h < 0 || h > 23 || m < 0 || m > 59 {
		return fmt.Errorf("daily sync time %02d:%02d out of range", h, m)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone: %w", err)
	}
	for _, p := range c.Programs {
		if p.Number <= 0 {
			return fmt.Errorf("program number must be positive, got %d", p.Number)
		}
	}
	return nil
}

// Location resolves the schedule timezone; empty means the host zone.
func (c *Edge) Location() (*time.Location, error) {
	if c.Schedule.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Schedule.Timezone)
}

type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	LatestTTL time.Duration `yaml:"latest_ttl"`
}

type MonitorConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold time.Duration `yaml:"threshold"`
}

// Cloud is the configuration of the cloud bridge process.
type Cloud struct {
	Namespace   string         `yaml:"namespace"`
	LogLevel    string         `yaml:"log_level"`
	MQTT        mqtt.Config    `yaml:"mqtt"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Redis       RedisConfig    `yaml:"redis"`
	IngestAddr  string         `yaml:"ingest_addr"`
	Monitor     MonitorConfig  `yaml:"monitor"`
	RegistryTTL time.Duration  `yaml:"registry_ttl"`
	InboxSize   int            `yaml:"inbox_size"`
	Metrics     MetricsConfig  `yaml:"metrics"`
}

func LoadCloud(path string) (*Cloud, error) {
	var cfg Cloud
	if err := readYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Cloud) applyEnv() {
	override(&c.LogLevel, EnvLogLevel)
	override(&c.MQTT.Password, EnvMQTTPassword)
	override(&c.Postgres.DSN, EnvPostgresDSN)
	override(&c.Redis.Password, EnvRedisPassword)
}

func (c *Cloud) ApplyDefaults() {
	if c.Namespace == "" {
		c.Namespace = topics.DefaultNamespace
	}
	if c.LogLevel == "" {
		c.LogLevel = "PRODUCTION"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "farm-cloud"
	}
	c.MQTT.ApplyDefaults()
	if c.IngestAddr == "" {
		c.IngestAddr = ":8080"
	}
	if c.Monitor.Interval <= 0 {
		c.Monitor.Interval = time.Minute
	}
	if c.Monitor.Threshold <= 0 {
		c.Monitor.Threshold = 5 * time.Minute
	}
	if c.RegistryTTL <= 0 {
		c.RegistryTTL = 5 * time.Minute
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9101"
	}
}

func (c *Cloud) Validate() error {
	if !topics.ValidNamespace(c.Namespace) {
		return fmt.Errorf("namespace %q is not a valid topic segment", c.Namespace)
	}
	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}
	if c.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if c.Monitor.Threshold < c.Monitor.Interval {
		return fmt.Errorf("monitor threshold %s shorter than scan interval %s", c.Monitor.Threshold, c.Monitor.Interval)
	}
	return nil
}

func readYAML(path string, dst any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// override replaces *dst when the variable is set and non-empty.
func override(dst *string, key string) {
	v, err := env.GetAsString(key, false, "")
	if err == nil && v != "" {
		*dst = v
	}
}

func intPtr(v int) *int { return &v }

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
