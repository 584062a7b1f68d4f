package kafka

import "testing"

func TestDeterministicEventIDStable(t *testing.T) {
	a := DeterministicEventID("broker.order.created", "42")
	b := DeterministicEventID("broker.order.created", "42")
	c := DeterministicEventID("broker.order.cancelled", "42")
	if a != b {
		t.Fatalf("expected identical ids, got %s and %s", a, b)
	}
	if a == c {
		t.Fatalf("expected distinct ids for distinct parts")
	}
}

func TestNewEnvelopeWithIDValidates(t *testing.T) {
	if _, err := NewEnvelopeWithID("", "broker.order.created", 1, ""); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := NewEnvelopeWithID("id", "broker.order.created", 0, ""); err == nil {
		t.Fatalf("expected error for zero version")
	}
	env, err := NewEnvelopeWithID("id", "broker.order.created", 1, "req-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.Type() != "broker.order.created" || env.CorrelationID != "req-1" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}
