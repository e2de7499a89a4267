package repository

import (
	"context"

	"github.com/hmiyata/weave/internal/domain/model/workitem"
)

// WorkItemRepository persists the backlog
type WorkItemRepository interface {
	Save(ctx context.Context, w *workitem.WorkItem) error
	Find(ctx context.Context, id string) (*workitem.WorkItem, error)
	List(ctx context.Context) ([]*workitem.WorkItem, error)
	ListByStatus(ctx context.Context, status workitem.Status) ([]*workitem.WorkItem, error)
}
