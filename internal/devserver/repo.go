package devserver

import "context"

// Repository stores records of every resource. Implementations return
// ErrNotFound and ErrConflict so the handler can map them to statuses.
type Repository interface {
	// Create assigns ID and stamps the timestamps.
	Create(ctx context.Context, r *Record) error
	Get(ctx context.Context, resource string, id int64) (*Record, error)
	GetByUUID(ctx context.Context, resource, uuid string) (*Record, error)
	Update(ctx context.Context, r *Record) error
	Delete(ctx context.Context, resource, uuid string) error
	List(ctx context.Context, resource string, f Filter) ([]*Record, int, error)
	Ping(ctx context.Context) error
}
