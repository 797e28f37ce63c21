package usecase

import (
	"strings"
	"sync"
	"testing"
)

func TestAccumulatorAppendAndDrain(t *testing.T) {
	acc := NewTranscriptAccumulator()

	acc.Append("hello")
	acc.Append("world")

	if got := acc.Drain(); got != " hello world" {
		t.Errorf("Expected %q, got %q", " hello world", got)
	}
	if got := acc.Drain(); got != "" {
		t.Errorf("Expected empty buffer after drain, got %q", got)
	}

	acc.Append("again")
	if got := acc.Drain(); got != " again" {
		t.Errorf("Expected new interval to start fresh, got %q", got)
	}
}

func TestAccumulatorConcurrentAppend(t *testing.T) {
	acc := NewTranscriptAccumulator()

	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				acc.Append("x")
			}
		}()
	}

	var drained strings.Builder
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			drained.WriteString(acc.Drain())
		}
	}()

	wg.Wait()
	<-done
	drained.WriteString(acc.Drain())

	if got := strings.Count(drained.String(), " x"); got != 1000 {
		t.Errorf("Expected 1000 segments across drains, got %d", got)
	}
}

func TestQuestionList(t *testing.T) {
	q := NewQuestionList([]string{"What is your name?", "", "  ", "What is your name?"})

	if q.Len() != 1 {
		t.Fatalf("Expected 1 question after seeding, got %d", q.Len())
	}

	if !q.Add("Where do you live?") {
		t.Error("Expected new question to be added")
	}
	if q.Add(" Where do you live? ") {
		t.Error("Expected duplicate question to be ignored")
	}

	snap := q.Snapshot()
	if len(snap) != 2 || snap[1] != "Where do you live?" {
		t.Errorf("Unexpected snapshot: %v", snap)
	}

	snap[0] = "mutated"
	if q.Snapshot()[0] != "What is your name?" {
		t.Error("Snapshot must be a copy")
	}
}

func TestQuestionListEmptySnapshotNotNil(t *testing.T) {
	q := NewQuestionList(nil)
	if q.Snapshot() == nil {
		t.Error("Expected empty non-nil slice so it encodes as []")
	}
}
