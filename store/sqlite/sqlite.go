/*
Package sqlite provides the SQLite-backed implementation of the lending
storage interfaces.

PURPOSE:
  Implements lending.Store (orders + replicas, three-tier aggregates,
  income/expense records, operation history) on a single SQLite database.
  The same patterns apply to PostgreSQL with minor dialect changes.

KEY TABLES:
  orders             canonical loan records (source of truth)
  order_replicas     one row per (dimension, order), the classification
                     partitions as a generic keyed table — a new attribution
                     group needs no DDL, only new rows
  aggregates         one row per (tier, scope_key) counter set
  income_records     append-mostly money movements with a soft-undo flag
  operation_history  append-only per (actor, channel) action log

ATOMICITY:
  Every order mutation writes the canonical row and its replicas inside one
  SQL transaction. Aggregate tier updates are separate single-row
  transactions on purpose: the order of record is authoritative and a failed
  tier update is repaired by reconciliation, not by rolling the order back.

AMOUNT ENCODING:
  Money is stored as decimal strings and summed in Go, never with SQL SUM,
  to keep decimal exactness.

WAL MODE:
  The database is opened with WAL so readers do not block the single writer.

SEE ALSO:
  - lending/store.go: Interface definitions
  - lending/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/lending"
)

// Store implements lending.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Orders() lending.OrderStore    { return &orderStore{s} }
func (s *Store) Stats() lending.StatsStore     { return &statsStore{s} }
func (s *Store) Income() lending.IncomeStore   { return &incomeStore{s} }
func (s *Store) History() lending.HistoryStore { return &historyStore{s} }

func (s *Store) migrate() error {
	schema := `
	-- Canonical orders (source of truth)
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		order_date TEXT NOT NULL,
		weekday TEXT NOT NULL,
		class TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		historical INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_state ON orders(state);
	CREATE INDEX IF NOT EXISTS idx_orders_group ON orders(group_id);

	-- Classification replicas: (dimension, order) is the identity, the
	-- partition value is data. Exactly one row per dimension per order.
	CREATE TABLE IF NOT EXISTS order_replicas (
		dimension TEXT NOT NULL,
		order_id TEXT NOT NULL,
		partition_value TEXT NOT NULL,
		group_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		order_date TEXT NOT NULL,
		weekday TEXT NOT NULL,
		class TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		historical INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (dimension, order_id)
	);

	-- Filtered reads: "all orders in partition X of dimension D"
	CREATE INDEX IF NOT EXISTS idx_replicas_dimension_value
		ON order_replicas(dimension, partition_value);

	-- Aggregate counter rows: global singleton, one per business day,
	-- one per attribution group. Created lazily, mutated by signed deltas.
	CREATE TABLE IF NOT EXISTS aggregates (
		tier TEXT NOT NULL,
		scope_key TEXT NOT NULL,
		valid_orders INTEGER NOT NULL DEFAULT 0,
		valid_amount TEXT NOT NULL DEFAULT '0',
		breach_orders INTEGER NOT NULL DEFAULT 0,
		breach_amount TEXT NOT NULL DEFAULT '0',
		completed_orders INTEGER NOT NULL DEFAULT 0,
		completed_amount TEXT NOT NULL DEFAULT '0',
		breach_end_orders INTEGER NOT NULL DEFAULT 0,
		breach_end_amount TEXT NOT NULL DEFAULT '0',
		interest TEXT NOT NULL DEFAULT '0',
		new_clients INTEGER NOT NULL DEFAULT 0,
		new_clients_amount TEXT NOT NULL DEFAULT '0',
		old_clients INTEGER NOT NULL DEFAULT 0,
		old_clients_amount TEXT NOT NULL DEFAULT '0',
		expense_amount TEXT NOT NULL DEFAULT '0',
		liquid_funds TEXT NOT NULL DEFAULT '0',
		PRIMARY KEY (tier, scope_key)
	);

	-- Income/expense records (soft-undone; expenses alone may be deleted)
	CREATE TABLE IF NOT EXISTS income_records (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		group_id TEXT,
		order_id TEXT,
		class TEXT,
		note TEXT,
		created_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		undone INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_income_date ON income_records(date);
	CREATE INDEX IF NOT EXISTS idx_income_type ON income_records(type);
	CREATE INDEX IF NOT EXISTS idx_income_group ON income_records(group_id);

	-- Operation history (append-only audit, soft-undone)
	CREATE TABLE IF NOT EXISTS operation_history (
		id TEXT PRIMARY KEY,
		actor_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		op_type TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		created_at TEXT NOT NULL,
		undone INTEGER NOT NULL DEFAULT 0
	);

	-- Hot path: newest non-undone entry per (actor, channel)
	CREATE INDEX IF NOT EXISTS idx_history_scope
		ON operation_history(actor_id, channel_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ORDER STORE
// =============================================================================

type orderStore struct{ s *Store }

const orderColumns = `order_id, group_id, channel_id, order_date, weekday, class,
	amount, state, historical, created_at, updated_at`

func (os *orderStore) Insert(ctx context.Context, o lending.Order) error {
	os.s.mu.Lock()
	defer os.s.mu.Unlock()

	tx, err := os.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, orderArgs(o)...)
	if err != nil {
		if isUniqueConstraintError(err) {
			return lending.ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	if err := syncReplicas(ctx, tx, nil, &o); err != nil {
		return err
	}
	return tx.Commit()
}

func (os *orderStore) Get(ctx context.Context, id lending.OrderID) (lending.Order, error) {
	os.s.mu.RLock()
	defer os.s.mu.RUnlock()

	row := os.s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return lending.Order{}, lending.ErrOrderNotFound
	}
	if err != nil {
		return lending.Order{}, fmt.Errorf("failed to load order: %w", err)
	}
	return o, nil
}

func (os *orderStore) Update(ctx context.Context, prev, cur lending.Order) error {
	os.s.mu.Lock()
	defer os.s.mu.Unlock()

	tx, err := os.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET group_id = ?, channel_id = ?, order_date = ?, weekday = ?,
		    class = ?, amount = ?, state = ?, historical = ?, updated_at = ?
		WHERE order_id = ?
	`, cur.GroupID, cur.ChannelID, cur.Date.Format("2006-01-02"), cur.Weekday,
		cur.Class, cur.Amount.String(), cur.State, cur.Historical,
		cur.UpdatedAt.UTC().Format(time.RFC3339), cur.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lending.ErrOrderNotFound
	}

	if err := syncReplicas(ctx, tx, &prev, &cur); err != nil {
		return err
	}
	return tx.Commit()
}

func (os *orderStore) Delete(ctx context.Context, o lending.Order) error {
	os.s.mu.Lock()
	defer os.s.mu.Unlock()

	tx, err := os.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE order_id = ?`, o.ID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return lending.ErrOrderNotFound
	}

	if err := syncReplicas(ctx, tx, &o, nil); err != nil {
		return err
	}
	return tx.Commit()
}

func (os *orderStore) ByDimension(ctx context.Context, dim lending.ReplicaDimension, value string) ([]lending.Order, error) {
	os.s.mu.RLock()
	defer os.s.mu.RUnlock()

	rows, err := os.s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM order_replicas
		WHERE dimension = ? AND partition_value = ?
		ORDER BY order_id
	`, dim, value)
	if err != nil {
		return nil, fmt.Errorf("failed to query replicas: %w", err)
	}
	defer rows.Close()

	var out []lending.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (os *orderStore) All(ctx context.Context) ([]lending.Order, error) {
	os.s.mu.RLock()
	defer os.s.mu.RUnlock()

	rows, err := os.s.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY order_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var out []lending.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (os *orderStore) Replicas(ctx context.Context, id lending.OrderID) ([]lending.Replica, error) {
	os.s.mu.RLock()
	defer os.s.mu.RUnlock()

	rows, err := os.s.db.QueryContext(ctx, `
		SELECT dimension, partition_value, `+orderColumns+`
		FROM order_replicas
		WHERE order_id = ?
		ORDER BY dimension
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query replicas: %w", err)
	}
	defer rows.Close()

	var out []lending.Replica
	for rows.Next() {
		var (
			dim, value                            string
			o                                     lending.Order
			dateStr, amount, createdAt, updatedAt string
		)
		if err := rows.Scan(&dim, &value,
			&o.ID, &o.GroupID, &o.ChannelID, &dateStr, &o.Weekday, &o.Class,
			&amount, &o.State, &o.Historical, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan replica: %w", err)
		}
		o.Date, _ = time.Parse("2006-01-02", dateStr)
		o.Amount = mustDecimal(amount)
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, lending.Replica{
			Key:   lending.ReplicaKey{Dimension: lending.ReplicaDimension(dim), Value: value},
			Order: o,
		})
	}
	return out, rows.Err()
}

// syncReplicas is the single fan-out point every order mutation goes
// through. prev nil = create, cur nil = delete. Re-homing a partition whose
// value changed is an upsert on the (dimension, order_id) key, which is the
// delete-old/insert-new pair collapsed into one statement.
func syncReplicas(ctx context.Context, tx *sql.Tx, prev, cur *lending.Order) error {
	if cur == nil {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM order_replicas WHERE order_id = ?`, prev.ID)
		if err != nil {
			return fmt.Errorf("failed to delete replicas: %w", err)
		}
		return nil
	}

	for _, k := range lending.ReplicaKeysFor(*cur) {
		args := append([]any{k.Dimension, k.Value}, orderArgs(*cur)...)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_replicas (dimension, partition_value, `+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(dimension, order_id) DO UPDATE SET
				partition_value = excluded.partition_value,
				group_id = excluded.group_id,
				channel_id = excluded.channel_id,
				order_date = excluded.order_date,
				weekday = excluded.weekday,
				class = excluded.class,
				amount = excluded.amount,
				state = excluded.state,
				historical = excluded.historical,
				updated_at = excluded.updated_at
		`, args...)
		if err != nil {
			return fmt.Errorf("failed to sync %s replica: %w", k.Dimension, err)
		}
	}
	return nil
}

func orderArgs(o lending.Order) []any {
	return []any{
		o.ID, o.GroupID, o.ChannelID, o.Date.Format("2006-01-02"), o.Weekday,
		o.Class, o.Amount.String(), o.State, o.Historical,
		o.CreatedAt.UTC().Format(time.RFC3339), o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (lending.Order, error) {
	var (
		o                                     lending.Order
		dateStr, amount, createdAt, updatedAt string
	)
	err := row.Scan(&o.ID, &o.GroupID, &o.ChannelID, &dateStr, &o.Weekday,
		&o.Class, &amount, &o.State, &o.Historical, &createdAt, &updatedAt)
	if err != nil {
		return o, err
	}
	o.Date, _ = time.Parse("2006-01-02", dateStr)
	o.Amount = mustDecimal(amount)
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return o, nil
}

// =============================================================================
// STATS STORE
// =============================================================================

type statsStore struct{ s *Store }

const aggregateColumns = `valid_orders, valid_amount, breach_orders, breach_amount,
	completed_orders, completed_amount, breach_end_orders, breach_end_amount,
	interest, new_clients, new_clients_amount, old_clients, old_clients_amount,
	expense_amount, liquid_funds`

func (ss *statsStore) apply(ctx context.Context, tier lending.Tier, key string, f lending.CounterFamily, countDelta int64, amountDelta decimal.Decimal) error {
	if _, _, ok := lending.ResolveFamily(f); !ok {
		return fmt.Errorf("unknown counter family %q: %w", f, lending.ErrStoreUnavailable)
	}

	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	tx, err := ss.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Lazy row creation on first reference to a new day/group.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO aggregates (tier, scope_key) VALUES (?, ?)
		ON CONFLICT(tier, scope_key) DO NOTHING
	`, tier, key); err != nil {
		return fmt.Errorf("failed to ensure aggregate row: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregates WHERE tier = ? AND scope_key = ?`,
		tier, key)
	set, err := scanAggregate(row)
	if err != nil {
		return fmt.Errorf("failed to load aggregate row: %w", err)
	}

	set.Apply(f, countDelta, amountDelta)

	if err := writeAggregate(ctx, tx, tier, key, set); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *statsStore) ApplyGlobal(ctx context.Context, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return ss.apply(ctx, lending.TierGlobal, lending.GlobalKey, f, c, a)
}

func (ss *statsStore) ApplyDaily(ctx context.Context, day time.Time, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return ss.apply(ctx, lending.TierDaily, day.Format("2006-01-02"), f, c, a)
}

func (ss *statsStore) ApplyGrouped(ctx context.Context, group lending.GroupID, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return ss.apply(ctx, lending.TierGrouped, string(group), f, c, a)
}

func (ss *statsStore) get(ctx context.Context, tier lending.Tier, key string) (lending.AggregateSet, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	row := ss.s.db.QueryRowContext(ctx,
		`SELECT `+aggregateColumns+` FROM aggregates WHERE tier = ? AND scope_key = ?`,
		tier, key)
	set, err := scanAggregate(row)
	if err == sql.ErrNoRows {
		// A row never referenced is all zeros.
		return lending.AggregateSet{}, nil
	}
	if err != nil {
		return lending.AggregateSet{}, fmt.Errorf("failed to load aggregate row: %w", err)
	}
	return set, nil
}

func (ss *statsStore) GetGlobal(ctx context.Context) (lending.AggregateSet, error) {
	return ss.get(ctx, lending.TierGlobal, lending.GlobalKey)
}

func (ss *statsStore) GetDaily(ctx context.Context, day time.Time) (lending.AggregateSet, error) {
	return ss.get(ctx, lending.TierDaily, day.Format("2006-01-02"))
}

func (ss *statsStore) GetGrouped(ctx context.Context, group lending.GroupID) (lending.AggregateSet, error) {
	return ss.get(ctx, lending.TierGrouped, string(group))
}

func (ss *statsStore) put(ctx context.Context, tier lending.Tier, key string, a lending.AggregateSet) error {
	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	tx, err := ss.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO aggregates (tier, scope_key) VALUES (?, ?)
		ON CONFLICT(tier, scope_key) DO NOTHING
	`, tier, key); err != nil {
		return fmt.Errorf("failed to ensure aggregate row: %w", err)
	}
	if err := writeAggregate(ctx, tx, tier, key, a); err != nil {
		return err
	}
	return tx.Commit()
}

func (ss *statsStore) PutGlobal(ctx context.Context, a lending.AggregateSet) error {
	return ss.put(ctx, lending.TierGlobal, lending.GlobalKey, a)
}

func (ss *statsStore) PutDaily(ctx context.Context, day time.Time, a lending.AggregateSet) error {
	return ss.put(ctx, lending.TierDaily, day.Format("2006-01-02"), a)
}

func (ss *statsStore) PutGrouped(ctx context.Context, group lending.GroupID, a lending.AggregateSet) error {
	return ss.put(ctx, lending.TierGrouped, string(group), a)
}

func writeAggregate(ctx context.Context, tx *sql.Tx, tier lending.Tier, key string, a lending.AggregateSet) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE aggregates SET
			valid_orders = ?, valid_amount = ?,
			breach_orders = ?, breach_amount = ?,
			completed_orders = ?, completed_amount = ?,
			breach_end_orders = ?, breach_end_amount = ?,
			interest = ?,
			new_clients = ?, new_clients_amount = ?,
			old_clients = ?, old_clients_amount = ?,
			expense_amount = ?, liquid_funds = ?
		WHERE tier = ? AND scope_key = ?
	`,
		a.ValidOrders, a.ValidAmount.String(),
		a.BreachOrders, a.BreachAmount.String(),
		a.CompletedOrders, a.CompletedAmount.String(),
		a.BreachEndOrders, a.BreachEndAmount.String(),
		a.Interest.String(),
		a.NewClients, a.NewClientsAmount.String(),
		a.OldClients, a.OldClientsAmount.String(),
		a.ExpenseAmount.String(), a.LiquidFunds.String(),
		tier, key,
	)
	if err != nil {
		return fmt.Errorf("failed to write aggregate row: %w", err)
	}
	return nil
}

func scanAggregate(row rowScanner) (lending.AggregateSet, error) {
	var (
		a                                               lending.AggregateSet
		validAmt, breachAmt, completedAmt, breachEndAmt string
		interest, newAmt, oldAmt, expenseAmt, liquid    string
	)
	err := row.Scan(
		&a.ValidOrders, &validAmt,
		&a.BreachOrders, &breachAmt,
		&a.CompletedOrders, &completedAmt,
		&a.BreachEndOrders, &breachEndAmt,
		&interest,
		&a.NewClients, &newAmt,
		&a.OldClients, &oldAmt,
		&expenseAmt, &liquid,
	)
	if err != nil {
		return a, err
	}
	a.ValidAmount = mustDecimal(validAmt)
	a.BreachAmount = mustDecimal(breachAmt)
	a.CompletedAmount = mustDecimal(completedAmt)
	a.BreachEndAmount = mustDecimal(breachEndAmt)
	a.Interest = mustDecimal(interest)
	a.NewClientsAmount = mustDecimal(newAmt)
	a.OldClientsAmount = mustDecimal(oldAmt)
	a.ExpenseAmount = mustDecimal(expenseAmt)
	a.LiquidFunds = mustDecimal(liquid)
	return a, nil
}

// =============================================================================
// INCOME STORE
// =============================================================================

type incomeStore struct{ s *Store }

const incomeColumns = `id, date, type, amount, group_id, order_id, class, note,
	created_by, created_at, undone`

func (is *incomeStore) Insert(ctx context.Context, rec lending.IncomeRecord) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()

	_, err := is.s.db.ExecContext(ctx, `
		INSERT INTO income_records (`+incomeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Date.Format("2006-01-02"), rec.Type, rec.Amount.String(),
		nullString(string(rec.GroupID)), nullString(string(rec.OrderID)),
		nullString(string(rec.Class)), rec.Note, rec.CreatedBy,
		rec.CreatedAt.UTC().Format(time.RFC3339), rec.Undone)
	if err != nil {
		return fmt.Errorf("failed to insert income record: %w", err)
	}
	return nil
}

func (is *incomeStore) Get(ctx context.Context, id string) (lending.IncomeRecord, error) {
	is.s.mu.RLock()
	defer is.s.mu.RUnlock()

	row := is.s.db.QueryRowContext(ctx,
		`SELECT `+incomeColumns+` FROM income_records WHERE id = ?`, id)
	rec, err := scanIncome(row)
	if err == sql.ErrNoRows {
		return lending.IncomeRecord{}, lending.ErrOrderNotFound
	}
	if err != nil {
		return lending.IncomeRecord{}, fmt.Errorf("failed to load income record: %w", err)
	}
	return rec, nil
}

func (is *incomeStore) MarkUndone(ctx context.Context, id string) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()

	// Idempotent: flipping an already-undone record is a no-op success.
	_, err := is.s.db.ExecContext(ctx,
		`UPDATE income_records SET undone = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark income record undone: %w", err)
	}
	return nil
}

func (is *incomeStore) DeleteExpense(ctx context.Context, id string) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()

	_, err := is.s.db.ExecContext(ctx, `
		DELETE FROM income_records
		WHERE id = ? AND type IN (?, ?)
	`, id, lending.ExpenseCompany, lending.ExpenseOther)
	if err != nil {
		return fmt.Errorf("failed to delete expense record: %w", err)
	}
	return nil
}

func (is *incomeStore) Sum(ctx context.Context, f lending.IncomeFilter) (decimal.Decimal, int64, error) {
	// Summed in Go over decimal strings; SQL SUM would coerce to float.
	recs, err := is.List(ctx, f)
	if err != nil {
		return decimal.Zero, 0, err
	}
	total := decimal.Zero
	for _, rec := range recs {
		total = total.Add(rec.Amount)
	}
	return total, int64(len(recs)), nil
}

func (is *incomeStore) List(ctx context.Context, f lending.IncomeFilter) ([]lending.IncomeRecord, error) {
	is.s.mu.RLock()
	defer is.s.mu.RUnlock()

	query := `SELECT ` + incomeColumns + ` FROM income_records WHERE 1=1`
	var args []any
	if !f.IncludeUndone {
		query += ` AND undone = 0`
	}
	if !f.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, f.From.Format("2006-01-02"))
	}
	if !f.To.IsZero() {
		query += ` AND date <= ?`
		args = append(args, f.To.Format("2006-01-02"))
	}
	if f.Type != nil {
		query += ` AND type = ?`
		args = append(args, *f.Type)
	}
	if f.GroupID != nil {
		query += ` AND group_id = ?`
		args = append(args, string(*f.GroupID))
	}
	query += ` ORDER BY created_at ASC`

	rows, err := is.s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query income records: %w", err)
	}
	defer rows.Close()

	var out []lending.IncomeRecord
	for rows.Next() {
		rec, err := scanIncome(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func scanIncome(row rowScanner) (lending.IncomeRecord, error) {
	var (
		rec                       lending.IncomeRecord
		dateStr, amount, created  string
		group, order, class, note sql.NullString
	)
	err := row.Scan(&rec.ID, &dateStr, &rec.Type, &amount, &group, &order,
		&class, &note, &rec.CreatedBy, &created, &rec.Undone)
	if err != nil {
		return rec, err
	}
	rec.Date, _ = time.Parse("2006-01-02", dateStr)
	rec.Amount = mustDecimal(amount)
	rec.GroupID = lending.GroupID(group.String)
	rec.OrderID = lending.OrderID(order.String)
	rec.Class = lending.CustomerClass(class.String)
	rec.Note = note.String
	rec.CreatedAt, _ = time.Parse(time.RFC3339, created)
	return rec, nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

type historyStore struct{ s *Store }

func (hs *historyStore) Append(ctx context.Context, op lending.Operation) error {
	hs.s.mu.Lock()
	defer hs.s.mu.Unlock()

	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode operation payload: %w", err)
	}

	_, err = hs.s.db.ExecContext(ctx, `
		INSERT INTO operation_history (id, actor_id, channel_id, op_type, payload_json, created_at, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.ActorID, op.ChannelID, op.Type, string(payload),
		op.CreatedAt.UTC().Format(time.RFC3339Nano), op.Undone)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}
	return nil
}

func (hs *historyStore) LastUndoable(ctx context.Context, actor lending.ActorID, channel lending.ChannelID) (lending.Operation, error) {
	hs.s.mu.RLock()
	defer hs.s.mu.RUnlock()

	var (
		op          lending.Operation
		payloadJSON string
		createdAt   string
	)
	err := hs.s.db.QueryRowContext(ctx, `
		SELECT id, actor_id, channel_id, op_type, payload_json, created_at, undone
		FROM operation_history
		WHERE actor_id = ? AND channel_id = ? AND undone = 0
		ORDER BY created_at DESC
		LIMIT 1
	`, actor, channel).Scan(&op.ID, &op.ActorID, &op.ChannelID, &op.Type,
		&payloadJSON, &createdAt, &op.Undone)
	if err == sql.ErrNoRows {
		return lending.Operation{}, lending.ErrNothingToUndo
	}
	if err != nil {
		return lending.Operation{}, fmt.Errorf("failed to load last operation: %w", err)
	}

	if err := json.Unmarshal([]byte(payloadJSON), &op.Payload); err != nil {
		return lending.Operation{}, fmt.Errorf("failed to decode operation payload: %w", err)
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return op, nil
}

func (hs *historyStore) MarkUndone(ctx context.Context, id string) error {
	hs.s.mu.Lock()
	defer hs.s.mu.Unlock()

	_, err := hs.s.db.ExecContext(ctx,
		`UPDATE operation_history SET undone = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation undone: %w", err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
