package infrastructure

import (
	"context"

	"github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"

	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

const sagaTable = "saga_state"

// MemDBSagaStore implements saga.StateStore on an in-memory MVCC database.
// Intended for local development and tests; state does not survive a restart.
type MemDBSagaStore struct {
	db *memdb.MemDB
}

type sagaRecord struct {
	ID       string
	Snapshot *saga.Snapshot
}

// NewMemDBSagaStore creates a new in-memory saga store.
func NewMemDBSagaStore() (*MemDBSagaStore, error) {
	schema := &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			sagaTable: {
				Name: sagaTable,
				Indexes: map[string]*memdb.IndexSchema{
					"id": {
						Name:    "id",
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
				},
			},
		},
	}

	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create memdb")
	}
	return &MemDBSagaStore{db: db}, nil
}

// Save persists the first snapshot of a saga run.
func (s *MemDBSagaStore) Save(_ context.Context, snapshot *saga.Snapshot) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	existing, err := txn.First(sagaTable, "id", snapshot.SagaID.String())
	if err != nil {
		return errors.Wrap(err, "failed to look up saga")
	}
	if existing != nil {
		return errors.Errorf("saga %s already saved", snapshot.SagaID)
	}

	if err := txn.Insert(sagaTable, &sagaRecord{
		ID:       snapshot.SagaID.String(),
		Snapshot: snapshot.Clone(),
	}); err != nil {
		return errors.Wrap(err, "failed to insert saga snapshot")
	}

	txn.Commit()
	return nil
}

// Load retrieves the latest snapshot for a saga id.
func (s *MemDBSagaStore) Load(_ context.Context, sagaID models.ID) (*saga.Snapshot, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(sagaTable, "id", sagaID.String())
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up saga")
	}
	if raw == nil {
		return nil, saga.ErrSnapshotNotFound
	}

	return raw.(*sagaRecord).Snapshot.Clone(), nil
}

// Update replaces the stored snapshot, enforcing the optimistic version:
// the stored version must be exactly one behind the incoming snapshot.
func (s *MemDBSagaStore) Update(_ context.Context, snapshot *saga.Snapshot) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(sagaTable, "id", snapshot.SagaID.String())
	if err != nil {
		return errors.Wrap(err, "failed to look up saga")
	}
	if raw == nil {
		return saga.ErrSnapshotNotFound
	}
	if raw.(*sagaRecord).Snapshot.Version != snapshot.Version-1 {
		return saga.ErrVersionConflict
	}

	if err := txn.Insert(sagaTable, &sagaRecord{
		ID:       snapshot.SagaID.String(),
		Snapshot: snapshot.Clone(),
	}); err != nil {
		return errors.Wrap(err, "failed to update saga snapshot")
	}

	txn.Commit()
	return nil
}
