package audio

import (
	"context"
	"testing"
	"time"
)

func TestFrameQueueDropsOldest(t *testing.T) {
	q := NewFrameQueue(3)

	for i := 0; i < 5; i++ {
		dropped := q.Push(Frame{Seq: uint64(i)})
		if i < 3 && dropped {
			t.Errorf("Push %d should not drop", i)
		}
		if i >= 3 && !dropped {
			t.Errorf("Push %d should drop the oldest frame", i)
		}
	}

	if q.Len() != 3 {
		t.Fatalf("Expected 3 queued frames, got %d", q.Len())
	}
	if q.Dropped() != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", q.Dropped())
	}

	ctx := context.Background()
	for want := uint64(2); want < 5; want++ {
		f, ok := q.Pop(ctx)
		if !ok {
			t.Fatal("Pop returned no frame")
		}
		if f.Seq != want {
			t.Errorf("Expected seq %d, got %d", want, f.Seq)
		}
	}
}

func TestFrameQueuePopBlocksUntilPush(t *testing.T) {
	q := NewFrameQueue(4)

	got := make(chan Frame, 1)
	go func() {
		f, ok := q.Pop(context.Background())
		if ok {
			got <- f
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(Frame{Seq: 42})

	select {
	case f := <-got:
		if f.Seq != 42 {
			t.Errorf("Expected seq 42, got %d", f.Seq)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop did not wake up after Push")
	}
}

func TestFrameQueueCloseAndCancel(t *testing.T) {
	q := NewFrameQueue(4)
	q.Push(Frame{Seq: 1})
	q.Close()
	q.Close() // idempotent

	if f, ok := q.Pop(context.Background()); !ok || f.Seq != 1 {
		t.Error("Queued frame should still be delivered after Close")
	}
	if _, ok := q.Pop(context.Background()); ok {
		t.Error("Pop on a drained closed queue should return false")
	}
	if q.Push(Frame{Seq: 2}) || q.Len() != 0 {
		t.Error("Push after Close should be ignored")
	}

	open := NewFrameQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, ok := open.Pop(ctx); ok {
		t.Error("Pop should return false when the context expires")
	}
}
