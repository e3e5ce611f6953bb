package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/tandemhq/tandem/pkg/models"
	"github.com/tandemhq/tandem/pkg/persistence"
)

// SagaRepository persists saga instances in the sagas table. The Update
// compare-and-set is a conditional UPDATE on the version column, so two
// workers racing on the same instance cannot both win.
type SagaRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSagaRepository(db *sql.DB, logger *slog.Logger) *SagaRepository {
	return &SagaRepository{
		db:     db,
		logger: logger,
	}
}

func (sr *SagaRepository) Create(ctx context.Context, instance *models.SagaInstance) error {
	outcomes, contextData, err := marshalInstance(instance)
	if err != nil {
		return persistence.NewSagaError("Create", instance.ID, err)
	}

	query := `
		INSERT INTO sagas (
			id, definition_name, status, current_step_index, step_outcomes,
			context, cancel_requested, partial_rollback, version,
			created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err = sr.db.ExecContext(ctx, query,
		instance.ID,
		instance.DefinitionName,
		string(instance.Status),
		instance.CurrentStepIndex,
		outcomes,
		contextData,
		instance.CancelRequested,
		instance.PartialRollback,
		instance.Version,
		instance.CreatedAt,
		instance.UpdatedAt,
		instance.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return persistence.NewSagaError("Create", instance.ID, persistence.ErrSagaAlreadyExists)
		}

		return persistence.NewSagaError("Create", instance.ID, err)
	}

	return nil
}

func (sr *SagaRepository) GetByID(ctx context.Context, id string) (*models.SagaInstance, error) {
	query := `
		SELECT id, definition_name, status, current_step_index, step_outcomes,
		       context, cancel_requested, partial_rollback, version,
		       created_at, updated_at, completed_at
		FROM sagas
		WHERE id = $1
	`

	instance, err := scanInstance(sr.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewSagaError("GetByID", id, persistence.ErrSagaNotFound)
		}

		return nil, persistence.NewSagaError("GetByID", id, err)
	}

	return instance, nil
}

// Update persists the instance if and only if the stored version matches
// the version the caller loaded, then bumps it.
func (sr *SagaRepository) Update(ctx context.Context, instance *models.SagaInstance) error {
	outcomes, contextData, err := marshalInstance(instance)
	if err != nil {
		return persistence.NewSagaError("Update", instance.ID, err)
	}

	query := `
		UPDATE sagas SET
			status = $2,
			current_step_index = $3,
			step_outcomes = $4,
			context = $5,
			cancel_requested = $6,
			partial_rollback = $7,
			version = version + 1,
			updated_at = $8,
			completed_at = $9
		WHERE id = $1 AND version = $10
	`

	result, err := sr.db.ExecContext(ctx, query,
		instance.ID,
		string(instance.Status),
		instance.CurrentStepIndex,
		outcomes,
		contextData,
		instance.CancelRequested,
		instance.PartialRollback,
		instance.UpdatedAt,
		instance.CompletedAt,
		instance.Version,
	)
	if err != nil {
		return persistence.NewSagaError("Update", instance.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewSagaError("Update", instance.ID, err)
	}

	if affected == 0 {
		// Either the row is gone or someone else advanced the version.
		_, getErr := sr.GetByID(ctx, instance.ID)
		if getErr != nil {
			return getErr
		}

		return persistence.NewSagaError("Update", instance.ID, persistence.ErrVersionConflict)
	}

	instance.Version++

	return nil
}

func (sr *SagaRepository) ListSagas(ctx context.Context, opts persistence.ListSagasOptions) (*persistence.SagaListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	where := ""
	args := []any{}

	if opts.Status != nil {
		where = "WHERE status = $1"
		args = append(args, string(*opts.Status))
	}

	var total int64

	countQuery := "SELECT COUNT(*) FROM sagas " + where

	err := sr.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count sagas: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, definition_name, status, current_step_index, step_outcomes,
		       context, cancel_requested, partial_rollback, version,
		       created_at, updated_at, completed_at
		FROM sagas
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)+1, len(args)+2)

	args = append(args, opts.Limit, opts.Offset)

	rows, err := sr.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sagas: %w", err)
	}
	defer rows.Close()

	sagas := make([]*models.SagaInstance, 0, opts.Limit)

	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga row: %w", err)
		}

		sagas = append(sagas, instance)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saga rows: %w", err)
	}

	return &persistence.SagaListResult{
		Sagas:       sagas,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(sagas)) < total,
	}, nil
}

func (sr *SagaRepository) ListResumable(ctx context.Context, updatedBefore time.Time) ([]string, error) {
	query := `
		SELECT id
		FROM sagas
		WHERE status IN ('running', 'compensating')
		  AND updated_at < $1
		ORDER BY updated_at ASC
	`

	rows, err := sr.db.QueryContext(ctx, query, updatedBefore)
	if err != nil {
		return nil, fmt.Errorf("failed to list resumable sagas: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0)

	for rows.Next() {
		var id string

		err := rows.Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("failed to scan saga id: %w", err)
		}

		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate saga ids: %w", err)
	}

	return ids, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*models.SagaInstance, error) {
	var (
		instance    models.SagaInstance
		status      string
		outcomes    []byte
		contextData []byte
		completedAt sql.NullTime
	)

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionName,
		&status,
		&instance.CurrentStepIndex,
		&outcomes,
		&contextData,
		&instance.CancelRequested,
		&instance.PartialRollback,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	instance.Status = models.SagaStatus(status)

	err = json.Unmarshal(outcomes, &instance.StepOutcomes)
	if err != nil {
		return nil, fmt.Errorf("failed to decode step outcomes: %w", err)
	}

	err = json.Unmarshal(contextData, &instance.Context)
	if err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}

	return &instance, nil
}

func marshalInstance(instance *models.SagaInstance) (outcomes, contextData []byte, err error) {
	outcomes, err = json.Marshal(instance.StepOutcomes)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode step outcomes: %w", err)
	}

	contextData, err = json.Marshal(instance.Context)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode context: %w", err)
	}

	return outcomes, contextData, nil
}
