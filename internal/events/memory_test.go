package events

import (
	"context"
	"testing"
)

func TestMemoryBusSubjectRouting(t *testing.T) {
	bus := NewMemoryBus()

	var got []string
	unsub, err := bus.Subscribe("settlement.*", func(subject string, _ []byte) {
		got = append(got, subject)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := bus.Publish(ctx, "settlement.executed", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := bus.Publish(ctx, "position.closed", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(got) != 1 || got[0] != "settlement.executed" {
		t.Fatalf("delivered subjects = %v, want [settlement.executed]", got)
	}

	unsub()
	if err := bus.Publish(ctx, "settlement.failed", []byte(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("received event after unsubscribe: %v", got)
	}
}

func TestMemoryBusMatchAll(t *testing.T) {
	bus := NewMemoryBus()

	n := 0
	if _, err := bus.Subscribe(">", func(string, []byte) { n++ }); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	ctx := context.Background()
	for _, subject := range []string{"settlement.executed", "position.liquidated", "collateral.deposit"} {
		if err := bus.Publish(ctx, subject, nil); err != nil {
			t.Fatalf("Publish %s: %v", subject, err)
		}
	}
	if n != 3 {
		t.Fatalf("match-all received %d events, want 3", n)
	}
}
