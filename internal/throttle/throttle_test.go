package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIteratorVisitsAllInOrder(t *testing.T) {
	it := New([]int{1, 2, 3}, 0, 1)
	var got []int
	for it.Next(context.Background()) {
		got = append(got, it.Item())
	}
	if it.Err() != nil {
		t.Fatalf("Err = %v", it.Err())
	}
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("got %v", got)
	}
	if it.Index() != 2 {
		t.Fatalf("Index = %d", it.Index())
	}
}

func TestIteratorPaces(t *testing.T) {
	it := New([]string{"a", "b", "c"}, 20, 1)
	start := time.Now()
	n := 0
	for it.Next(context.Background()) {
		n++
	}
	// first token is immediate, the next two wait ~50ms each
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Fatalf("3 items at 20/s took %v", elapsed)
	}
	if n != 3 {
		t.Fatalf("visited %d", n)
	}
}

func TestIteratorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	it := New([]int{1, 2, 3}, 0.001, 1)
	if !it.Next(ctx) {
		t.Fatal("first item should not wait")
	}
	cancel()
	if it.Next(ctx) {
		t.Fatal("Next after cancel returned true")
	}
	if !errors.Is(it.Err(), context.Canceled) {
		t.Fatalf("Err = %v, want context.Canceled", it.Err())
	}
}
