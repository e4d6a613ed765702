package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// PostgresSagaStore implements saga.StateStore using PostgreSQL
type PostgresSagaStore struct {
	db *sqlx.DB
}

// NewPostgresSagaStore creates a new PostgresSagaStore
func NewPostgresSagaStore(db *sqlx.DB) *PostgresSagaStore {
	return &PostgresSagaStore{db: db}
}

// postgresSaga represents a saga snapshot in the database
type postgresSaga struct {
	SagaID           string         `db:"saga_id"`
	SagaName         string         `db:"saga_name"`
	Status           string         `db:"status"`
	CurrentStepIndex int            `db:"current_step_index"`
	CurrentStepName  string         `db:"current_step_name"`
	Data             []byte         `db:"data"`
	StartedAt        time.Time      `db:"started_at"`
	CompletedAt      *time.Time     `db:"completed_at"`
	TimeoutMs        int64          `db:"timeout_ms"`
	ExecutedSteps    pq.StringArray `db:"executed_steps"`
	CompensatedSteps pq.StringArray `db:"compensated_steps"`
	Errors           pq.StringArray `db:"errors"`
	RetryCount       int            `db:"retry_count"`
	MaxRetries       int            `db:"max_retries"`
	Version          int            `db:"version"`
}

// Save inserts the first snapshot of a saga run
func (ss *PostgresSagaStore) Save(ctx context.Context, snapshot *saga.Snapshot) error {
	query := `
		INSERT INTO saga_state (
			saga_id, saga_name, status, current_step_index, current_step_name,
			data, started_at, completed_at, timeout_ms, executed_steps,
			compensated_steps, errors, retry_count, max_retries, version
		) VALUES (
			:saga_id, :saga_name, :status, :current_step_index, :current_step_name,
			:data, :started_at, :completed_at, :timeout_ms, :executed_steps,
			:compensated_steps, :errors, :retry_count, :max_retries, :version
		)`

	_, err := ss.db.NamedExecContext(ctx, query, toPostgresSaga(snapshot))
	if err != nil {
		return errors.Wrap(err, "failed to insert saga snapshot")
	}
	return nil
}

// Load retrieves the latest snapshot for a saga id
func (ss *PostgresSagaStore) Load(ctx context.Context, sagaID models.ID) (*saga.Snapshot, error) {
	query := `
		SELECT saga_id, saga_name, status, current_step_index, current_step_name,
			   data, started_at, completed_at, timeout_ms, executed_steps,
			   compensated_steps, errors, retry_count, max_retries, version
		FROM saga_state
		WHERE saga_id = $1`

	var pgSaga postgresSaga
	err := ss.db.GetContext(ctx, &pgSaga, query, sagaID.String())
	if err == sql.ErrNoRows {
		return nil, saga.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get saga snapshot")
	}

	return toDomainSaga(&pgSaga)
}

// Update replaces the stored snapshot, enforcing the optimistic version
func (ss *PostgresSagaStore) Update(ctx context.Context, snapshot *saga.Snapshot) error {
	query := `
		UPDATE saga_state SET
			status = :status,
			current_step_index = :current_step_index,
			current_step_name = :current_step_name,
			data = :data,
			completed_at = :completed_at,
			executed_steps = :executed_steps,
			compensated_steps = :compensated_steps,
			errors = :errors,
			retry_count = :retry_count,
			version = :version
		WHERE saga_id = :saga_id AND version = :version - 1`

	result, err := ss.db.NamedExecContext(ctx, query, toPostgresSaga(snapshot))
	if err != nil {
		return errors.Wrap(err, "failed to update saga snapshot")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		var exists bool
		err := ss.db.GetContext(ctx, &exists,
			"SELECT EXISTS (SELECT 1 FROM saga_state WHERE saga_id = $1)",
			snapshot.SagaID.String())
		if err != nil {
			return errors.Wrap(err, "failed to check saga existence")
		}
		if !exists {
			return saga.ErrSnapshotNotFound
		}
		return saga.ErrVersionConflict
	}
	return nil
}

// toPostgresSaga converts a snapshot to the database model
func toPostgresSaga(snapshot *saga.Snapshot) *postgresSaga {
	data := snapshot.Data
	if data == nil {
		data = json.RawMessage("null")
	}

	return &postgresSaga{
		SagaID:           snapshot.SagaID.String(),
		SagaName:         snapshot.SagaName,
		Status:           string(snapshot.Status),
		CurrentStepIndex: snapshot.CurrentStepIndex,
		CurrentStepName:  snapshot.CurrentStepName,
		Data:             data,
		StartedAt:        snapshot.StartedAt,
		CompletedAt:      snapshot.CompletedAt,
		TimeoutMs:        snapshot.Timeout.Milliseconds(),
		ExecutedSteps:    pq.StringArray(snapshot.ExecutedSteps),
		CompensatedSteps: pq.StringArray(snapshot.CompensatedSteps),
		Errors:           pq.StringArray(snapshot.Errors),
		RetryCount:       snapshot.RetryCount,
		MaxRetries:       snapshot.MaxRetries,
		Version:          snapshot.Version,
	}
}

// toDomainSaga converts the database model back to a snapshot
func toDomainSaga(pgSaga *postgresSaga) (*saga.Snapshot, error) {
	sagaID, err := models.NewID(pgSaga.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	return &saga.Snapshot{
		SagaID:           sagaID,
		SagaName:         pgSaga.SagaName,
		Status:           saga.Status(pgSaga.Status),
		CurrentStepIndex: pgSaga.CurrentStepIndex,
		CurrentStepName:  pgSaga.CurrentStepName,
		Data:             json.RawMessage(pgSaga.Data),
		StartedAt:        pgSaga.StartedAt,
		CompletedAt:      pgSaga.CompletedAt,
		Timeout:          time.Duration(pgSaga.TimeoutMs) * time.Millisecond,
		ExecutedSteps:    []string(pgSaga.ExecutedSteps),
		CompensatedSteps: []string(pgSaga.CompensatedSteps),
		Errors:           []string(pgSaga.Errors),
		RetryCount:       pgSaga.RetryCount,
		MaxRetries:       pgSaga.MaxRetries,
		Version:          pgSaga.Version,
	}, nil
}
