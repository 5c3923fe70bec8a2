package farmbridge

import (
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/ingest"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/mqtt"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/adapters/opcua"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/alarm"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/config"
)

type (
	// EdgeConfig is the configuration of one edge node.
	EdgeConfig = config.Edge
	// CloudConfig is the configuration of the cloud bridge.
	CloudConfig = config.Cloud
	// MQTTConfig describes the broker connection.
	MQTTConfig = mqtt.Config
	// IngestConfig configures the edge ingestion client.
	IngestConfig = ingest.Config
	// OPCUAConfig holds connection and node details for the sensor collector.
	OPCUAConfig = opcua.Config
	// OPCUANodeConfig maps a monitored node onto a sensor field.
	OPCUANodeConfig = opcua.NodeConfig
	// AlarmRule is one alarm type's threshold.
	AlarmRule = alarm.Rule
	// ScheduleConfig holds the edge timers.
	ScheduleConfig = config.ScheduleConfig
	// StorageConfig places the edge local store and alarm journal.
	StorageConfig = config.StorageConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// PostgresConfig configures the cloud store.
	PostgresConfig = config.PostgresConfig
	// RedisConfig configures the cloud fan-out.
	RedisConfig = config.RedisConfig
	// MonitorConfig configures the offline monitor.
	MonitorConfig = config.MonitorConfig
)

// LoadEdgeConfig reads, defaults and validates an edge YAML file.
func LoadEdgeConfig(path string) (*EdgeConfig, error) {
	return config.LoadEdge(path)
}

// LoadCloudConfig reads, defaults and validates a cloud YAML file.
func LoadCloudConfig(path string) (*CloudConfig, error) {
	return config.LoadCloud(path)
}

// DefaultAlarmRules returns the stock threshold table.
func DefaultAlarmRules() []AlarmRule {
	return alarm.DefaultRules()
}
