package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/persistence"
)

// SagaRepository stores one JSON document per saga instance under
// <root>/sagas. A process-wide mutex serializes updates so that the
// compare-and-set contract holds within a single process, which is the
// scope this store is meant for.
type SagaRepository struct {
	root string
	mu   sync.Mutex
}

func NewSagaRepository(root string) *SagaRepository {
	return &SagaRepository{root: root}
}

func (sr *SagaRepository) Create(ctx context.Context, instance *models.SagaInstance) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	path := sr.path(instance.ID)
	if _, err := os.Stat(path); err == nil {
		return persistence.NewSagaError("Create", instance.ID, persistence.ErrSagaAlreadyExists)
	}

	return sr.write(instance)
}

func (sr *SagaRepository) GetByID(ctx context.Context, id string) (*models.SagaInstance, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	return sr.read(id)
}

func (sr *SagaRepository) Update(ctx context.Context, instance *models.SagaInstance) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	stored, err := sr.read(instance.ID)
	if err != nil {
		return err
	}

	if stored.Version != instance.Version {
		return persistence.NewSagaError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++

	err = sr.write(instance)
	if err != nil {
		// Roll the in-memory version back so the caller can retry the
		// compare-and-set against an unchanged file.
		instance.Version--

		return err
	}

	return nil
}

func (sr *SagaRepository) ListSagas(ctx context.Context, opts persistence.ListSagasOptions) (*persistence.SagaListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	all, err := sr.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.SagaInstance, 0, len(all))

	for _, instance := range all {
		if opts.Status != nil && instance.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, instance)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	total := int64(len(filtered))

	start := opts.Offset
	if start > len(filtered) {
		start = len(filtered)
	}

	end := start + opts.Limit
	if end > len(filtered) {
		end = len(filtered)
	}

	return &persistence.SagaListResult{
		Sagas:       filtered[start:end],
		TotalCount:  total,
		HasNextPage: int64(end) < total,
	}, nil
}

func (sr *SagaRepository) ListResumable(ctx context.Context, updatedBefore time.Time) ([]string, error) {
	all, err := sr.loadAll()
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0)

	for _, instance := range all {
		if instance.Status.IsTerminal() {
			continue
		}

		if instance.UpdatedAt.Before(updatedBefore) {
			ids = append(ids, instance.ID)
		}
	}

	sort.Strings(ids)

	return ids, nil
}

func (sr *SagaRepository) loadAll() ([]*models.SagaInstance, error) {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	dir := os.DirFS(filepath.Join(sr.root, "sagas"))

	jsonFiles, err := fs.Glob(dir, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list saga files: %w", err)
	}

	instances := make([]*models.SagaInstance, 0, len(jsonFiles))

	for _, name := range jsonFiles {
		id := name[:len(name)-len(".json")]

		instance, err := sr.read(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load saga %s: %w", id, err)
		}

		instances = append(instances, instance)
	}

	return instances, nil
}

func (sr *SagaRepository) read(id string) (*models.SagaInstance, error) {
	data, err := os.ReadFile(sr.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewSagaError("GetByID", id, persistence.ErrSagaNotFound)
		}

		return nil, fmt.Errorf("failed to read saga %s: %w", id, err)
	}

	var instance models.SagaInstance

	err = json.Unmarshal(data, &instance)
	if err != nil {
		return nil, fmt.Errorf("failed to decode saga %s: %w", id, err)
	}

	return &instance, nil
}

func (sr *SagaRepository) write(instance *models.SagaInstance) error {
	dir := filepath.Join(sr.root, "sagas")

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return fmt.Errorf("failed to create saga directory: %w", err)
	}

	data, err := json.MarshalIndent(instance, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode saga %s: %w", instance.ID, err)
	}

	err = os.WriteFile(sr.path(instance.ID), data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write saga %s: %w", instance.ID, err)
	}

	return nil
}

func (sr *SagaRepository) path(id string) string {
	return filepath.Join(sr.root, "sagas", id+".json")
}
