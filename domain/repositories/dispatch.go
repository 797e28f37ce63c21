package repositories

import (
	"context"

	"github.com/satriahrh/sidechain/domain"
)

// Dispatcher sends accumulated transcript text to the downstream backend
// and returns its reply. Failures wrap domain.ErrDispatch.
type Dispatcher interface {
	Dispatch(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error)
}
