package repository

import (
	"context"

	"github.com/hmiyata/weave/internal/domain/model/merge"
)

// MergeRepository persists merge requests and their queue order
type MergeRepository interface {
	Save(ctx context.Context, r *merge.Request) error
	Find(ctx context.Context, id string) (*merge.Request, error)

	// ListPendingByTarget returns pending requests for a target baseline in
	// FIFO enqueue order.
	ListPendingByTarget(ctx context.Context, targetBaseline string) ([]*merge.Request, error)

	// NextPosition returns the next queue position for a target baseline.
	NextPosition(ctx context.Context, targetBaseline string) (int, error)

	List(ctx context.Context) ([]*merge.Request, error)
}
