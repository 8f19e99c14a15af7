package pipeline

import (
	"testing"
	"time"
)

func TestQueue_RespectsLimit(t *testing.T) {
	q := NewQueue(2, func(s string) string { return s })
	for _, id := range []string{"a", "b", "c"} {
		q.Push(id)
	}

	now := time.Now()
	first, ok := q.Next(now)
	if !ok || first.Item != "a" {
		t.Fatalf("Expected head item a, got %v", first)
	}
	second, ok := q.Next(now)
	if !ok || second.Item != "b" {
		t.Fatalf("Expected item b, got %v", second)
	}
	if _, ok := q.Next(now); ok {
		t.Fatal("Expected no job while the queue is at its limit")
	}

	pending, active := q.Counts()
	if pending != 1 || active != 2 {
		t.Errorf("Expected 1 pending and 2 active, got %d and %d", pending, active)
	}

	q.Done(first)
	third, ok := q.Next(now)
	if !ok || third.Item != "c" {
		t.Fatalf("Expected item c after a slot was freed, got %v", third)
	}
	if !third.StartedAt.Equal(now) {
		t.Errorf("Expected StartedAt %v, got %v", now, third.StartedAt)
	}
}

func TestQueue_DoneIgnoresUnknownJobs(t *testing.T) {
	q := NewQueue(1, func(s string) string { return s })
	q.Push("a")
	job, _ := q.Next(time.Now())

	q.Done(&Job[string]{ID: "a", Item: "a"})
	if _, active := q.Counts(); active != 1 {
		t.Errorf("Expected foreign job handle to be ignored, got %d active", active)
	}

	q.Done(job)
	q.Done(job)
	if _, active := q.Counts(); active != 0 {
		t.Errorf("Expected 0 active, got %d", active)
	}
}

func TestQueue_Clear(t *testing.T) {
	q := NewQueue(1, func(s string) string { return s })
	q.Push("a")
	q.Push("b")
	q.Push("c")
	q.Next(time.Now())

	dropped := q.Clear()
	if len(dropped) != 2 || dropped[0] != "b" || dropped[1] != "c" {
		t.Errorf("Expected [b c] dropped, got %v", dropped)
	}
	pending, active := q.Counts()
	if pending != 0 || active != 1 {
		t.Errorf("Expected 0 pending and 1 active, got %d and %d", pending, active)
	}
}

func TestQueue_NonPositiveLimit(t *testing.T) {
	q := NewQueue(0, func(s string) string { return s })
	if q.Limit() != 1 {
		t.Errorf("Expected limit 1, got %d", q.Limit())
	}
}
