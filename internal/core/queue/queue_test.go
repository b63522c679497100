package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/caboose014/Hue-Savant-Coprocessor/internal/core/state"
)

func TestQueue_FIFO(t *testing.T) {
	q := New(3)
	ctx := context.Background()

	for _, l := range []string{"a", "b", "c"} {
		if err := q.Put(ctx, Data(l)); err != nil {
			t.Fatalf("Put(%s): %v", l, err)
		}
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}

	for _, want := range []string{"a", "b", "c"} {
		msg, err := q.Get(ctx)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if msg.Kind != KindData || msg.Line != want {
			t.Errorf("Get = %+v, want data %q", msg, want)
		}
	}
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	q := New(1)
	ctx := context.Background()
	if err := q.Put(ctx, Data("first")); err != nil {
		t.Fatal(err)
	}
	if q.TryPut(Data("second")) {
		t.Fatal("TryPut succeeded on a full queue")
	}

	done := make(chan error, 1)
	go func() { done <- q.Put(ctx, Data("second")) }()

	select {
	case <-done:
		t.Fatal("Put returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Get(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked Put: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Put did not resume after space was freed")
	}
}

func TestQueue_PutHonoursContext(t *testing.T) {
	q := New(1)
	q.TryPut(Data("x"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Put(ctx, Data("y")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Put on full queue = %v, want deadline exceeded", err)
	}
}

func TestQueue_GetHonoursContext(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Get(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Get on cancelled context = %v", err)
	}
}

func TestNew_DefaultCapacity(t *testing.T) {
	if got := New(0).Cap(); got != DefaultCapacity {
		t.Errorf("Cap = %d, want %d", got, DefaultCapacity)
	}
}

func TestNotify(t *testing.T) {
	msg, err := Notify(state.ChangeEvent{Category: state.CategoryGroup, ID: "1", Info: map[string]any{"name": "Hall"}})
	if err != nil {
		t.Fatal(err)
	}
	if want := `#{"group":{"id":"1","info":{"name":"Hall"}}}`; msg.Line != want {
		t.Errorf("Line = %s, want %s", msg.Line, want)
	}
	if msg.Event == nil || msg.Event.ID != "1" {
		t.Error("event not attached to message")
	}
}

func TestKindString(t *testing.T) {
	for k, want := range map[Kind]string{KindData: "data", KindShutdown: "shutdown", KindRestart: "restart", KindProbe: "probe", Kind(9): "kind(9)"} {
		if k.String() != want {
			t.Errorf("%d.String() = %s, want %s", int(k), k.String(), want)
		}
	}
}
