package usecase

import (
	"strings"
	"sync"
)

// QuestionList is the list sent to the backend with every dispatch. It is
// seeded from configuration and grows with backend replies and API calls.
type QuestionList struct {
	mu    sync.RWMutex
	items []string
	seen  map[string]struct{}
}

// NewQuestionList creates a list seeded with the given questions
func NewQuestionList(seed []string) *QuestionList {
	q := &QuestionList{seen: make(map[string]struct{})}
	for _, s := range seed {
		q.Add(s)
	}
	return q
}

// Add appends a question. Blank and duplicate questions are ignored; the
// return value reports whether it was added.
func (q *QuestionList) Add(question string) bool {
	question = strings.TrimSpace(question)
	if question == "" {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.seen[question]; ok {
		return false
	}
	q.seen[question] = struct{}{}
	q.items = append(q.items, question)
	return true
}

// Snapshot returns a copy of the current list, never nil
func (q *QuestionList) Snapshot() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]string, len(q.items))
	copy(out, q.items)
	return out
}

// Len returns the number of questions
func (q *QuestionList) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	return len(q.items)
}
