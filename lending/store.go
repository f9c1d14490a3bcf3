/*
store.go - Persistence interfaces for the lending core

PURPOSE:
  Defines the boundary between domain logic and the database. The engine
  talks only to these interfaces; SQLite and in-memory implementations exist.

ATOMICITY CONTRACT:
  Each OrderStore mutation commits the canonical row and every affected
  replica row in one transaction, or nothing. A partially replicated order
  (canonical row present, some replicas missing) must never persist.

  StatsStore tier updates are individually persisted mutations by design:
  a tier that fails after the order of record committed is surfaced as drift
  and repaired by reconciliation, never by a cross-store rollback.

  HistoryStore.Append is best-effort audit: a failure there must not fail
  the business action it documents.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - lending/store: in-memory store for tests
*/
package lending

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ORDER STORE - Canonical orders plus classification replicas
// =============================================================================

type OrderStore interface {
	// Insert persists the canonical row and fans out one replica per
	// dimension, atomically. Fails with ErrDuplicateOrder if the id exists.
	Insert(ctx context.Context, o Order) error

	// Get returns the canonical order or ErrOrderNotFound.
	Get(ctx context.Context, id OrderID) (Order, error)

	// Update replaces the canonical row and re-homes every replica whose
	// partition key changed between prev and cur, atomically. Replicas whose
	// key is unchanged are updated in place.
	Update(ctx context.Context, prev, cur Order) error

	// Delete removes the canonical row and all replicas. Undo-of-create only.
	Delete(ctx context.Context, o Order) error

	// ByDimension returns the orders in one partition, via the replica table.
	ByDimension(ctx context.Context, dim ReplicaDimension, value string) ([]Order, error)

	// All returns every canonical order. Reconciliation input.
	All(ctx context.Context) ([]Order, error)

	// Replicas returns an order's replica rows. Consistency checks.
	Replicas(ctx context.Context, id OrderID) ([]Replica, error)
}

// =============================================================================
// STATS STORE - Three-tier aggregate counter rows
// =============================================================================

type StatsStore interface {
	// ApplyGlobal / ApplyDaily / ApplyGrouped add one signed delta to one
	// tier's row, creating the row lazily on first reference.
	ApplyGlobal(ctx context.Context, f CounterFamily, countDelta int64, amountDelta decimal.Decimal) error
	ApplyDaily(ctx context.Context, day time.Time, f CounterFamily, countDelta int64, amountDelta decimal.Decimal) error
	ApplyGrouped(ctx context.Context, group GroupID, f CounterFamily, countDelta int64, amountDelta decimal.Decimal) error

	GetGlobal(ctx context.Context) (AggregateSet, error)
	GetDaily(ctx context.Context, day time.Time) (AggregateSet, error)
	GetGrouped(ctx context.Context, group GroupID) (AggregateSet, error)

	// Put* overwrite a whole row. Reconciliation only.
	PutGlobal(ctx context.Context, a AggregateSet) error
	PutDaily(ctx context.Context, day time.Time, a AggregateSet) error
	PutGrouped(ctx context.Context, group GroupID, a AggregateSet) error
}

// =============================================================================
// INCOME STORE - Append-mostly money-movement records
// =============================================================================

// IncomeFilter selects income/expense records. Zero From/To mean unbounded.
type IncomeFilter struct {
	From          time.Time
	To            time.Time
	Type          *IncomeType
	GroupID       *GroupID
	IncludeUndone bool
}

type IncomeStore interface {
	Insert(ctx context.Context, rec IncomeRecord) error
	Get(ctx context.Context, id string) (IncomeRecord, error)

	// MarkUndone flips the soft-undo flag. Idempotent: already-undone is success.
	MarkUndone(ctx context.Context, id string) error

	// DeleteExpense hard-deletes an expense record. The one true delete,
	// used only by undo of an expense entry.
	DeleteExpense(ctx context.Context, id string) error

	// Sum returns the amount total and row count of the matching records.
	// The query primitive all reporting and reconciliation is built on.
	Sum(ctx context.Context, f IncomeFilter) (decimal.Decimal, int64, error)

	List(ctx context.Context, f IncomeFilter) ([]IncomeRecord, error)
}

// =============================================================================
// HISTORY STORE - Append-only operation log
// =============================================================================

type HistoryStore interface {
	Append(ctx context.Context, op Operation) error

	// LastUndoable returns the newest non-undone entry for exactly this
	// (actor, channel) pair, or ErrNothingToUndo.
	LastUndoable(ctx context.Context, actor ActorID, channel ChannelID) (Operation, error)

	// MarkUndone flips the entry's undone flag.
	MarkUndone(ctx context.Context, id string) error
}

// =============================================================================
// STORE - The full persistence surface
// =============================================================================

type Store interface {
	Orders() OrderStore
	Stats() StatsStore
	Income() IncomeStore
	History() HistoryStore
}
