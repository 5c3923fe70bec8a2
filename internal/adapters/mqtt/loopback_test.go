package mqtt

import (
	"context"
	"testing"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		filter, topic string
		want          bool
	}{
		{"smartfarm/+/telemetry", "smartfarm/farm-1/telemetry", true},
		{"smartfarm/+/telemetry", "smartfarm/farm-1/status", false},
		{"smartfarm/+/telemetry", "smartfarm/farm-1/telemetry/x", false},
		{"smartfarm/#", "smartfarm/farm-1/alarm", true},
		{"smartfarm/farm-1/command", "smartfarm/farm-1/command", true},
		{"smartfarm/farm-1/command", "smartfarm/farm-2/command", false},
	}
	for _, tc := range cases {
		if got := Match(tc.filter, tc.topic); got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.filter, tc.topic, got, tc.want)
		}
	}
}

func TestLoopbackRoutesOnlyToConnectedSubscribers(t *testing.T) {
	hub := NewLoopback()
	pub := hub.Client()
	sub := hub.Client()

	var got []string
	sub.Subscribe([]string{"smartfarm/+/telemetry"}, func(topic string, _ []byte) {
		got = append(got, topic)
	})

	if pub.Publish("smartfarm/farm-1/telemetry", nil) {
		t.Fatalf("publish before connect must fail")
	}

	ctx := context.Background()
	_ = pub.Connect(ctx)
	pub.Publish("smartfarm/farm-1/telemetry", nil)
	if len(got) != 0 {
		t.Fatalf("disconnected subscriber must not receive, got %v", got)
	}

	var states []bool
	sub.OnConnectionChange(func(v bool) { states = append(states, v) })
	_ = sub.Connect(ctx)
	pub.Publish("smartfarm/farm-1/telemetry", nil)
	pub.Publish("smartfarm/farm-1/status", nil)
	if len(got) != 1 {
		t.Fatalf("expected one matching delivery, got %v", got)
	}

	sub.Drop()
	if len(states) != 2 || !states[0] || states[1] {
		t.Fatalf("unexpected connection changes %v", states)
	}
}
