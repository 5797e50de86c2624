package eventbus

import (
	"context"
	"testing"
	"time"
)

func TestQueueFIFO(t *testing.T) {
	q := newQueue[int]()
	for i := 0; i < 3; i++ {
		if !q.push(i) {
			t.Fatalf("push %d rejected", i)
		}
	}
	for i := 0; i < 3; i++ {
		v, err := q.pop(context.Background())
		if err != nil || v != i {
			t.Fatalf("pop = %d, %v; want %d", v, err, i)
		}
	}
}

func TestQueuePopWakesOnPush(t *testing.T) {
	q := newQueue[string]()
	got := make(chan string, 1)
	go func() {
		v, _ := q.pop(context.Background())
		got <- v
	}()
	time.Sleep(10 * time.Millisecond)
	q.push("wake")
	select {
	case v := <-got:
		if v != "wake" {
			t.Errorf("got %q, want %q", v, "wake")
		}
	case <-time.After(time.Second):
		t.Fatal("pop did not wake")
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := newQueue[int]()
	q.push(1)
	q.close()
	if q.push(2) {
		t.Error("push after close accepted")
	}
	if v, err := q.pop(context.Background()); err != nil || v != 1 {
		t.Fatalf("pop = %d, %v; want 1", v, err)
	}
	if _, err := q.pop(context.Background()); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}

func TestQueueDiscardDrops(t *testing.T) {
	q := newQueue[int]()
	q.push(1)
	q.push(2)
	if n := q.discard(); n != 2 {
		t.Errorf("discard = %d, want 2", n)
	}
	if _, err := q.pop(context.Background()); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	q.close() // no panic on second close
}
