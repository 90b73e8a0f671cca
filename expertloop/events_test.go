package expertloop

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBridgeDeliversInOrder(t *testing.T) {
	b := NewBridge("s1", 8)
	ctx := context.Background()

	if err := b.EmitRouting(ctx, "planner", "test"); err != nil {
		t.Fatalf("EmitRouting: %v", err)
	}
	if err := b.Emit(ctx, StepEvent{Kind: EventModelMessage, ModelMessage: &ModelMessageEvent{Expert: "planner", Content: "hello"}}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := b.EmitEnd(ctx); err != nil {
		t.Fatalf("EmitEnd: %v", err)
	}

	var kinds []StepEventKind
	for ev := range b.Events() {
		kinds = append(kinds, ev.Kind)
		if ev.ID == "" || ev.SessionID != "s1" || ev.Timestamp.IsZero() {
			t.Errorf("event missing envelope fields: %+v", ev)
		}
	}
	want := []StepEventKind{EventRouting, EventModelMessage, EventEnd}
	if len(kinds) != len(want) {
		t.Fatalf("got %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestBridgeRejectsEmitAfterTerminal(t *testing.T) {
	b := NewBridge("s1", 4)
	ctx := context.Background()

	if err := b.EmitEnd(ctx); err != nil {
		t.Fatalf("EmitEnd: %v", err)
	}
	err := b.Emit(ctx, StepEvent{Kind: EventModelMessage, ModelMessage: &ModelMessageEvent{}})
	if !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("Emit after terminal = %v, want ErrBridgeClosed", err)
	}
	if err := b.EmitError(ctx, "late", false); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("second terminal = %v, want ErrBridgeClosed", err)
	}
}

func TestBridgeBlocksWhenFull(t *testing.T) {
	b := NewBridge("s1", 1)
	ctx := context.Background()

	if err := b.EmitRouting(ctx, "planner", ""); err != nil {
		t.Fatalf("EmitRouting: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- b.Emit(ctx, StepEvent{Kind: EventModelMessage, ModelMessage: &ModelMessageEvent{}})
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Emit returned %v before consumer read; want it to block", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Draining one event unblocks the producer.
	<-b.Events()
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("Emit after drain: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Emit still blocked after drain")
	}
}

func TestBridgeEmitHonorsCancellation(t *testing.T) {
	b := NewBridge("s1", 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := b.EmitRouting(ctx, "planner", ""); err != nil {
		t.Fatalf("EmitRouting: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- b.Emit(ctx, StepEvent{Kind: EventModelMessage, ModelMessage: &ModelMessageEvent{}})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Emit = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Emit did not return after cancellation")
	}
}

func TestBridgeCloseIsIdempotent(t *testing.T) {
	b := NewBridge("s1", 1)
	b.Close()
	b.Close()
	if _, open := <-b.Events(); open {
		t.Error("channel should be closed")
	}
	if err := b.EmitEnd(context.Background()); !errors.Is(err, ErrBridgeClosed) {
		t.Errorf("EmitEnd after Close = %v, want ErrBridgeClosed", err)
	}
}
