// Package persistence provides the data storage abstraction for saga
// instances.
package persistence

import (
	"context"
	"time"

	"github.com/tandemhq/tandem/pkg/models"
)

type Persistence interface {
	Sagas() SagaRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListSagasOptions filters and paginates saga listings.
type ListSagasOptions struct {
	Limit  int
	Offset int
	Status *models.SagaStatus
}

// SagaListResult is a page of saga instances.
type SagaListResult struct {
	Sagas       []*models.SagaInstance
	TotalCount  int64
	HasNextPage bool
}

// SagaRepository stores one record per saga instance, keyed by saga ID.
//
// Update is a compare-and-set: it succeeds only when the stored version
// equals the version the caller loaded, then increments it. This is what
// guarantees that no two workers advance the same instance concurrently
// even if the lease protocol misbehaves.
type SagaRepository interface {
	Create(ctx context.Context, instance *models.SagaInstance) error
	GetByID(ctx context.Context, id string) (*models.SagaInstance, error)
	Update(ctx context.Context, instance *models.SagaInstance) error
	ListSagas(ctx context.Context, opts ListSagasOptions) (*SagaListResult, error)

	// ListResumable returns IDs of non-terminal instances not updated
	// since the cutoff. The recovery sweeper re-dispatches them after a
	// worker crash.
	ListResumable(ctx context.Context, updatedBefore time.Time) ([]string, error)
}
