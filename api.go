package smartfarm

import (
	"context"

	base "github.com/leehyoungkeun/control-smartfarm-sub000/pkg/farmbridge"
)

// Re-exported errors for convenience.
var (
	ErrFeedClosed          = base.ErrFeedClosed
	ErrFeedNotStarted      = base.ErrFeedNotStarted
	ErrChannelFanOutClosed = base.ErrChannelFanOutClosed
)

// Type aliases so consumers can import the module root directly.
type (
	EdgeConfig         = base.EdgeConfig
	CloudConfig        = base.CloudConfig
	MQTTConfig         = base.MQTTConfig
	IngestConfig       = base.IngestConfig
	OPCUAConfig        = base.OPCUAConfig
	OPCUANodeConfig    = base.OPCUANodeConfig
	AlarmRule          = base.AlarmRule
	Flow               = base.Flow
	FlowOption         = base.FlowOption
	StreamInOption     = base.StreamInOption
	StreamOutOption    = base.StreamOutOption
	EdgeRuntime        = base.EdgeRuntime
	EdgeRuntimeOption  = base.EdgeRuntimeOption
	CloudRuntime       = base.CloudRuntime
	CloudRuntimeOption = base.CloudRuntimeOption
	FeedCollector      = base.FeedCollector
	Event              = base.Event
	EventFunc          = base.EventFunc
	FarmID             = base.FarmID
	Reading            = base.Reading
	SensorSnapshot     = base.SensorSnapshot
	StatusSnapshot     = base.StatusSnapshot
	AlarmRecord        = base.AlarmRecord
	Command            = base.Command
	CommandType        = base.CommandType
	ConfigUpdate       = base.ConfigUpdate
	Collector          = base.Collector
	Broker             = base.Broker
	IngestSender       = base.IngestSender
	LocalStore         = base.LocalStore
	AlarmJournal       = base.AlarmJournal
	CloudStore         = base.CloudStore
	FanOut             = base.FanOut
	Observability      = base.Observability
)

// Config helpers.
func LoadEdgeConfig(path string) (*EdgeConfig, error) {
	return base.LoadEdgeConfig(path)
}

func LoadCloudConfig(path string) (*CloudConfig, error) {
	return base.LoadCloudConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *EdgeConfig, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...EdgeRuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInCollector(col Collector) StreamInOption {
	return base.StreamInCollector(col)
}

func StreamInFeed(feed *FeedCollector) StreamInOption {
	return base.StreamInFeed(feed)
}

func StreamInJournal(j AlarmJournal) StreamInOption {
	return base.StreamInJournal(j)
}

func StreamOutBroker(b Broker) StreamOutOption {
	return base.StreamOutBroker(b)
}

func StreamOutIngest(s IngestSender) StreamOutOption {
	return base.StreamOutIngest(s)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Edge runtime and options.
func NewEdgeRuntime(cfg *EdgeConfig, opts ...EdgeRuntimeOption) (*EdgeRuntime, error) {
	return base.NewEdgeRuntime(cfg, opts...)
}

func NewFeedCollector() *FeedCollector {
	return base.NewFeedCollector()
}

func WithCollector(col Collector) EdgeRuntimeOption {
	return base.WithCollector(col)
}

func WithBroker(b Broker) EdgeRuntimeOption {
	return base.WithBroker(b)
}

func WithIngestSender(s IngestSender) EdgeRuntimeOption {
	return base.WithIngestSender(s)
}

func WithLocalStore(s LocalStore) EdgeRuntimeOption {
	return base.WithLocalStore(s)
}

func WithAlarmJournal(j AlarmJournal) EdgeRuntimeOption {
	return base.WithAlarmJournal(j)
}

func WithObservability(obs Observability) EdgeRuntimeOption {
	return base.WithObservability(obs)
}

// Cloud runtime and options.
func NewCloudRuntime(ctx context.Context, cfg *CloudConfig, opts ...CloudRuntimeOption) (*CloudRuntime, error) {
	return base.NewCloudRuntime(ctx, cfg, opts...)
}

func WithCloudStore(s CloudStore) CloudRuntimeOption {
	return base.WithCloudStore(s)
}

func WithCloudBroker(b Broker) CloudRuntimeOption {
	return base.WithCloudBroker(b)
}

func WithFanOut(f FanOut) CloudRuntimeOption {
	return base.WithFanOut(f)
}

// Fan-out adapters.
func NewCallbackFanOut(fn EventFunc) FanOut {
	return base.NewCallbackFanOut(fn)
}

func NewChannelFanOut(buffer int) (FanOut, <-chan Event, func()) {
	return base.NewChannelFanOut(buffer)
}

func HashSecret(secret string) (string, error) {
	return base.HashSecret(secret)
}
