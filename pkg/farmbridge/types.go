package farmbridge

import (
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/app/pipeline"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/ports"
)

// FarmID identifies an edge node.
type FarmID = domain.FarmID

// Reading is one sensor field update fed into the edge runtime.
type Reading = domain.Reading

// SensorSnapshot is the latest value per sensor field.
type SensorSnapshot = domain.SensorSnapshot

// StatusSnapshot is the controller state published on the status topic.
type StatusSnapshot = domain.StatusSnapshot

// AlarmRecord is a threshold violation.
type AlarmRecord = domain.AlarmRecord

// Command is a decoded cloud command.
type Command = domain.Command

// CommandType names a command verb.
type CommandType = domain.CommandType

// ConfigUpdate is pushed from the cloud to an edge node.
type ConfigUpdate = domain.ConfigUpdate

// Collector streams readings from a sensor source (OPC UA, simulators, etc.).
type Collector = ports.Collector

// Broker is one publish/subscribe connection.
type Broker = ports.Broker

// IngestSender is the edge side of the bulk ingestion channel.
type IngestSender = ports.IngestSender

// LocalStore is the edge node's durable history.
type LocalStore = ports.LocalStore

// AlarmJournal persists alarm records on the edge.
type AlarmJournal = ports.AlarmJournal

// CloudStore is the central persistence used by the cloud bridge.
type CloudStore = ports.CloudStore

// FanOut relays cloud events to real-time consumers.
type FanOut = ports.FanOut

// SystemProbe reports host health.
type SystemProbe = ports.SystemProbe

// Observability emits logs and metrics.
type Observability = ports.Observability

// Field is a structured log field.
type Field = ports.Field

// CycleResult reports one ingestion cycle.
type CycleResult = pipeline.CycleResult
