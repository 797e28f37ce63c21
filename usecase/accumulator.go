package usecase

import (
	"strings"
	"sync"
)

// TranscriptAccumulator holds the finalized text received since the last
// flush. Stream workers Append, the flush service Drains. The lock is held
// only for the append or the swap, never across a dispatch.
type TranscriptAccumulator struct {
	mu  sync.Mutex
	buf strings.Builder
}

// NewTranscriptAccumulator creates an empty accumulator
func NewTranscriptAccumulator() *TranscriptAccumulator {
	return &TranscriptAccumulator{}
}

// Append adds a finalized segment, space separated
func (a *TranscriptAccumulator) Append(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.buf.WriteByte(' ')
	a.buf.WriteString(text)
}

// Drain returns the buffered text and resets the buffer in one step
func (a *TranscriptAccumulator) Drain() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	text := a.buf.String()
	a.buf.Reset()
	return text
}

// Len returns the number of buffered bytes
func (a *TranscriptAccumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.buf.Len()
}
