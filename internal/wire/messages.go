// Package wire holds one message type per topic kind and the single decode
// step that turns a broker payload into one of them.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/topics"
)

var (
	// ErrMalformed wraps every decode failure: bad JSON or a missing required field.
	ErrMalformed = errors.New("wire: malformed payload")
	// ErrUnknownKind is returned for kinds outside the closed set.
	ErrUnknownKind = errors.New("wire: unknown kind")
)

// Message is implemented by every topic body.
type Message interface {
	Kind() topics.Kind
}

// Telemetry is published by the edge while at least one viewer is watching.
type Telemetry struct {
	Timestamp time.Time          `json:"timestamp"`
	Sensors   map[string]float64 `json:"sensors"`
}

func (Telemetry) Kind() topics.Kind { return topics.Telemetry }

// Status mirrors the controller status snapshot.
type Status domain.StatusSnapshot

func (Status) Kind() topics.Kind { return topics.Status }

// Alarm announces an opened alarm, or a resolved one when ResolvedAt is set.
type Alarm struct {
	AlarmType      domain.AlarmType `json:"alarmType"`
	AlarmValue     float64          `json:"alarmValue"`
	ThresholdValue float64          `json:"thresholdValue"`
	Message        string           `json:"message"`
	Timestamp      time.Time        `json:"timestamp"`
	ResolvedAt     *time.Time       `json:"resolvedAt,omitempty"`
}

func (Alarm) Kind() topics.Kind { return topics.Alarm }

// AlarmFromRecord builds the event body for a record.
func AlarmFromRecord(rec domain.AlarmRecord) Alarm {
	ts := rec.OccurredAt
	if rec.ResolvedAt != nil {
		ts = *rec.ResolvedAt
	}
	return Alarm{
		AlarmType:      rec.Type,
		AlarmValue:     rec.Value,
		ThresholdValue: rec.Threshold,
		Message:        rec.Message,
		Timestamp:      ts,
		ResolvedAt:     rec.ResolvedAt,
	}
}

// Command is sent by the cloud. Every field of the body is kept in Params.
type Command struct {
	domain.Command
}

func (Command) Kind() topics.Kind { return topics.Command }

func (c *Command) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	typ, _ := raw["type"].(string)
	c.Type = domain.CommandType(typ)
	c.LogID = stringify(raw["logId"])
	c.Params = raw
	return nil
}

func (c Command) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Params)+2)
	for k, v := range c.Params {
		out[k] = v
	}
	out["type"] = string(c.Type)
	out["logId"] = c.LogID
	return json.Marshal(out)
}

// CommandAck echoes the original command fields plus result and logId.
type CommandAck struct {
	Fields map[string]any
	Result string
	LogID  string
	Error  string
}

func (CommandAck) Kind() topics.Kind { return topics.CommandAck }

// AckFor builds the acknowledgement of cmd. A nil err reports success.
func AckFor(cmd domain.Command, err error) CommandAck {
	ack := CommandAck{Fields: cmd.Params, Result: domain.ResultSuccess, LogID: cmd.LogID}
	if err != nil {
		ack.Result = domain.ResultFailure
		ack.Error = err.Error()
	}
	return ack
}

// Domain converts the ack into the form the cloud stores.
func (a CommandAck) Domain() domain.CommandAck {
	typ, _ := a.Fields["type"].(string)
	return domain.CommandAck{LogID: a.LogID, Type: domain.CommandType(typ), Result: a.Result, Error: a.Error}
}

func (a CommandAck) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+3)
	for k, v := range a.Fields {
		out[k] = v
	}
	out["result"] = a.Result
	out["logId"] = a.LogID
	if a.Error != "" {
		out["error"] = a.Error
	}
	return json.Marshal(out)
}

func (a *CommandAck) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	a.Result, _ = raw["result"].(string)
	a.Error, _ = raw["error"].(string)
	a.LogID = stringify(raw["logId"])
	delete(raw, "result")
	delete(raw, "error")
	a.Fields = raw
	return nil
}

// ConfigUpdate pushes system setpoints and/or a program definition.
type ConfigUpdate domain.ConfigUpdate

func (ConfigUpdate) Kind() topics.Kind { return topics.ConfigUpdate }

// RequestStart asks the edge to begin on-demand telemetry.
type RequestStart struct {
	Timestamp time.Time `json:"timestamp"`
}

func (RequestStart) Kind() topics.Kind { return topics.RequestStart }

// RequestStop releases one on-demand telemetry viewer.
type RequestStop struct {
	Timestamp time.Time `json:"timestamp"`
}

func (RequestStop) Kind() topics.Kind { return topics.RequestStop }

// Encode serializes a message body.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses payload as the body of kind and checks its required fields.
func Decode(kind topics.Kind, payload []byte) (Message, error) {
	switch kind {
	case topics.Telemetry:
		var m Telemetry
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.Sensors == nil {
			return nil, missing(kind, "sensors")
		}
		return m, nil
	case topics.Status:
		var m Status
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.OperatingState == "" {
			return nil, missing(kind, "operatingState")
		}
		return m, nil
	case topics.Alarm:
		var m Alarm
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.AlarmType == "" {
			return nil, missing(kind, "alarmType")
		}
		return m, nil
	case topics.Command:
		var m Command
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.Type == "" {
			return nil, missing(kind, "type")
		}
		if m.LogID == "" {
			return nil, missing(kind, "logId")
		}
		return m, nil
	case topics.CommandAck:
		var m CommandAck
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.LogID == "" {
			return nil, missing(kind, "logId")
		}
		if m.Result == "" {
			return nil, missing(kind, "result")
		}
		return m, nil
	case topics.ConfigUpdate:
		var m ConfigUpdate
		if err := unmarshal(kind, payload, &m); err != nil {
			return nil, err
		}
		if m.SystemConfig == nil && m.Program == nil {
			return nil, missing(kind, "systemConfig or program")
		}
		return m, nil
	case topics.RequestStart:
		var m RequestStart
		if err := unmarshalOptional(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case topics.RequestStop:
		var m RequestStop
		if err := unmarshalOptional(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func unmarshal(kind topics.Kind, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	return nil
}

// request-start and request-stop carry nothing the edge needs, so an empty body is fine.
func unmarshalOptional(kind topics.Kind, payload []byte, v any) error {
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	return unmarshal(kind, payload, v)
}

func missing(kind topics.Kind, field string) error {
	return fmt.Errorf("%w: %s: missing %s", ErrMalformed, kind, field)
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}
