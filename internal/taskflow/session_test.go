package taskflow

import (
	"context"
	"testing"
	"time"
)

func TestMemorySessionsRoundTrip(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()

	if _, ok, err := store.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get(missing) = ok=%v err=%v", ok, err)
	}

	list := NewTaskList(threeStepMap())
	list.Start()
	state := &SessionState{
		List:    list,
		Outputs: map[string]any{"client": map[string]any{"name": "Acme"}},
	}
	if err := store.Put(ctx, "s-1", state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, ok, err := store.Get(ctx, "s-1")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.List.MapID != "client-onboarding" || got.List.CurrentStep != 1 {
		t.Errorf("list = %+v", got.List)
	}
	if got.Outputs["client"] == nil {
		t.Error("outputs lost")
	}
	if got.Touched.IsZero() {
		t.Error("touch time not stamped")
	}
}

func TestMemorySessionsValueSemantics(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()

	list := NewTaskList(threeStepMap())
	list.Start()
	if err := store.Put(ctx, "s-1", &SessionState{List: list, Outputs: map[string]any{}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the original after Put must not affect the stored copy.
	list.CompleteCurrent("done")

	got, _, _ := store.Get(ctx, "s-1")
	if got.List.CurrentStep != 1 {
		t.Errorf("stored state observed caller mutation: currentStep=%d", got.List.CurrentStep)
	}

	// Mutating a Get result must not affect the stored copy either.
	got.List.CompleteCurrent("done")
	again, _, _ := store.Get(ctx, "s-1")
	if again.List.CurrentStep != 1 {
		t.Errorf("stored state observed reader mutation: currentStep=%d", again.List.CurrentStep)
	}
}

func TestMemorySessionsDelete(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()
	if err := store.Put(ctx, "s-1", &SessionState{Outputs: map[string]any{}}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "s-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "s-1"); ok {
		t.Error("entry survived delete")
	}
}

func TestMemorySessionsDeleteIdle(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()
	for _, id := range []string{"s-1", "s-2"} {
		if err := store.Put(ctx, id, &SessionState{Outputs: map[string]any{}}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	// A generous TTL keeps fresh sessions alive.
	if n, err := store.DeleteIdle(ctx, time.Hour); err != nil || n != 0 {
		t.Fatalf("DeleteIdle(1h) = %d, %v", n, err)
	}

	// A cutoff in the future evicts everything.
	n, err := store.DeleteIdle(ctx, -time.Minute)
	if err != nil || n != 2 {
		t.Fatalf("DeleteIdle(-1m) = %d, %v", n, err)
	}
	if _, ok, _ := store.Get(ctx, "s-1"); ok {
		t.Error("idle session survived sweep")
	}
}

func TestJanitorSweep(t *testing.T) {
	store := NewMemorySessions()
	ctx := context.Background()
	if err := store.Put(ctx, "s-1", &SessionState{Outputs: map[string]any{}}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	j, err := NewJanitor(store, "*/10 * * * *", time.Millisecond, noopLogger())
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	j.Sweep(ctx)
	if _, ok, _ := store.Get(ctx, "s-1"); ok {
		t.Error("sweep did not evict idle session")
	}

	if _, err := NewJanitor(store, "not a schedule", time.Hour, noopLogger()); err == nil {
		t.Error("invalid cron expression accepted")
	}
}
