// Package topics maps farms and message kinds to broker topics and back.
package topics

import (
	"strings"

	"github.com/leehyoungkeun/control-smartfarm-sub000/internal/domain"
)

// Kind is the last topic segment. The set is closed.
type Kind string

const (
	Telemetry    Kind = "telemetry"
	Status       Kind = "status"
	Alarm        Kind = "alarm"
	Command      Kind = "command"
	CommandAck   Kind = "command-ack"
	ConfigUpdate Kind = "config-update"
	RequestStart Kind = "request-start"
	RequestStop  Kind = "request-stop"
)

// Kinds lists every known kind.
var Kinds = []Kind{Telemetry, Status, Alarm, Command, CommandAck, ConfigUpdate, RequestStart, RequestStop}

// Valid reports whether k belongs to the closed kind set.
func (k Kind) Valid() bool {
	switch k {
	case Telemetry, Status, Alarm, Command, CommandAck, ConfigUpdate, RequestStart, RequestStop:
		return true
	}
	return false
}

// DefaultNamespace is the first topic segment when none is configured.
const DefaultNamespace = "smartfarm"

// Scheme builds and parses {namespace}/{farmId}/{kind} topics.
type Scheme struct {
	namespace string
}

// NewScheme returns a scheme rooted at namespace.
func NewScheme(namespace string) Scheme {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Scheme{namespace: namespace}
}

// Namespace returns the first topic segment.
func (s Scheme) Namespace() string { return s.ns() }

func (s Scheme) ns() string {
	if s.namespace == "" {
		return DefaultNamespace
	}
	return s.namespace
}

// Topic returns the topic for farm and kind.
func (s Scheme) Topic(farm domain.FarmID, k Kind) string {
	return s.ns() + "/" + string(farm) + "/" + string(k)
}

// Wildcard returns the single-level wildcard filter matching kind on every farm.
func (s Scheme) Wildcard(k Kind) string {
	return s.ns() + "/+/" + string(k)
}

// Parse splits a concrete topic into farm and kind. Topics outside the
// namespace, with the wrong number of segments, an empty or wildcard farm
// segment, or an unknown kind do not match.
func (s Scheme) Parse(topic string) (domain.FarmID, Kind, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != s.ns() {
		return "", "", false
	}
	farm := parts[1]
	if farm == "" || farm == "+" || farm == "#" {
		return "", "", false
	}
	k := Kind(parts[2])
	if !k.Valid() {
		return "", "", false
	}
	return domain.FarmID(farm), k, true
}

// ExtractFarmID returns the farm segment of a matching topic.
func (s Scheme) ExtractFarmID(topic string) (domain.FarmID, bool) {
	farm, _, ok := s.Parse(topic)
	return farm, ok
}

// EdgeSubscriptions is the fixed topic set an edge node subscribes to.
func (s Scheme) EdgeSubscriptions(farm domain.FarmID) []string {
	return []string{
		s.Topic(farm, Command),
		s.Topic(farm, ConfigUpdate),
		s.Topic(farm, RequestStart),
		s.Topic(farm, RequestStop),
	}
}

// CloudSubscriptions is the fixed wildcard set the cloud bridge subscribes to.
func (s Scheme) CloudSubscriptions() []string {
	return []string{
		s.Wildcard(Telemetry),
		s.Wildcard(Status),
		s.Wildcard(Alarm),
		s.Wildcard(CommandAck),
	}
}

// ValidNamespace reports whether ns can be used as a single topic segment.
func ValidNamespace(ns string) bool {
	return ns != "" && !strings.ContainsAny(ns, "/+#")
}

// ValidFarmID reports whether id can be used as the farm segment.
func ValidFarmID(id domain.FarmID) bool {
	return ValidNamespace(string(id))
}
