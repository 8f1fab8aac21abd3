/*
store.go - Persistence interfaces for aggregates and ledgers

PURPOSE:
  Defines the boundary between the engine and the database. The engine owns
  all policy; stores are pure persistence.

KEY INTERFACES:
  AggregateStore: mutable rows (assets, staff, parts) with row versioning
  LedgerStore:    append-only streams (status, assignment, stock history)
  TxStore:        unit of work over both

APPEND-ONLY CONTRACT:
  LedgerStore has no Update or Delete. The single exception is
  CloseAssignment, which stamps UnassignedAt on an open assignment entry
  exactly once.

OPTIMISTIC CONCURRENCY:
  UpdateAsset and UpdatePart compare the passed Version with the stored one
  and fail with ErrConcurrentModification on mismatch. Stores increment the
  version on success.

MISSING ROWS:
  Get* methods return (nil, nil) when the row does not exist. The engine
  turns that into a NotFoundError with the entity id.

IMPLEMENTATIONS:
  - inventory/store/memory.go: In-memory for testing and dev
  - store/sqlite/sqlite.go: SQLite
*/
package inventory

import (
	"context"
	"time"
)

// AssetFilter narrows ListAssets. Nil fields match everything.
type AssetFilter struct {
	Status *AssetStatus
	Holder *StaffID
}

// Matches reports whether a passes the filter.
func (f AssetFilter) Matches(a Asset) bool {
	if f.Status != nil && a.Status() != *f.Status {
		return false
	}
	if f.Holder != nil {
		h, ok := a.State.Holder()
		if !ok || h != *f.Holder {
			return false
		}
	}
	return true
}

// AggregateStore persists the mutable rows.
type AggregateStore interface {
	// CreateAsset fails with ErrConflict when the serial is taken.
	CreateAsset(ctx context.Context, asset Asset) error
	GetAsset(ctx context.Context, id AssetID) (*Asset, error)
	UpdateAsset(ctx context.Context, asset Asset) error
	ListAssets(ctx context.Context, filter AssetFilter) ([]Asset, error)

	CreateStaff(ctx context.Context, staff Staff) error
	GetStaff(ctx context.Context, id StaffID) (*Staff, error)
	UpdateStaff(ctx context.Context, staff Staff) error

	// CreatePart fails with ErrConflict when the part number is taken.
	CreatePart(ctx context.Context, part Part) error
	GetPart(ctx context.Context, id PartID) (*Part, error)
	UpdatePart(ctx context.Context, part Part) error
	ListParts(ctx context.Context) ([]Part, error)
}

// LedgerStore persists the append-only history streams.
type LedgerStore interface {
	AppendStatus(ctx context.Context, entry StatusEntry) error

	// AppendAssignment fails with ErrConflict if the asset already has an
	// open entry.
	AppendAssignment(ctx context.Context, entry AssignmentEntry) error

	// CloseAssignment stamps an open entry. Fails with
	// ErrConcurrentModification if the entry is already closed.
	CloseAssignment(ctx context.Context, id EntryID, at time.Time, reason string) error

	AppendStock(ctx context.Context, entry StockEntry) error

	// OpenAssignment returns the asset's open entry, or nil.
	OpenAssignment(ctx context.Context, assetID AssetID) (*AssignmentEntry, error)

	// History reads are newest first.
	StatusHistory(ctx context.Context, assetID AssetID) ([]StatusEntry, error)
	AssignmentHistory(ctx context.Context, assetID AssetID) ([]AssignmentEntry, error)
	StockHistory(ctx context.Context, partID PartID) ([]StockEntry, error)

	// LedgerStock is the sum of the part's stock entry quantities.
	LedgerStock(ctx context.Context, partID PartID) (int, error)
}

// Store is the full persistence surface.
type Store interface {
	AggregateStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
