package repositories

import (
	"context"

	"github.com/satriahrh/sidechain/domain/entities"
)

// AudioSource delivers fixed-size interleaved blocks at the capture cadence
type AudioSource interface {
	// Open opens the source once per session and reports the format it
	// will deliver.
	Open(ctx context.Context) (entities.AudioFormat, error)
	// Read blocks until exactly one block is available and returns it
	// interleaved, BlockSize*Channels samples long. Device failures wrap
	// domain.ErrDevice; a finite source returns domain.ErrEndOfStream.
	Read(ctx context.Context) ([]int16, error)
	Close() error
}
