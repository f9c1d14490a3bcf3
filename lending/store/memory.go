// Package store provides an in-memory lending.Store implementation
// for tests and development. Mutations that span the canonical order and its
// replicas happen under one lock, mirroring the transactional contract of
// the SQLite store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/lending"
)

type Memory struct {
	mu       sync.RWMutex
	orders   map[lending.OrderID]lending.Order
	replicas map[replicaID]lending.Replica
	stats    map[statsKey]lending.AggregateSet
	income   map[string]lending.IncomeRecord
	history  []lending.Operation
}

type replicaID struct {
	Dimension lending.ReplicaDimension
	OrderID   lending.OrderID
}

type statsKey struct {
	Tier lending.Tier
	Key  string
}

func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[lending.OrderID]lending.Order),
		replicas: make(map[replicaID]lending.Replica),
		stats:    make(map[statsKey]lending.AggregateSet),
		income:   make(map[string]lending.IncomeRecord),
	}
}

func (m *Memory) Orders() lending.OrderStore   { return (*memOrders)(m) }
func (m *Memory) Stats() lending.StatsStore    { return (*memStats)(m) }
func (m *Memory) Income() lending.IncomeStore  { return (*memIncome)(m) }
func (m *Memory) History() lending.HistoryStore { return (*memHistory)(m) }

// =============================================================================
// ORDER STORE
// =============================================================================

type memOrders Memory

func (m *memOrders) Insert(_ context.Context, o lending.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; ok {
		return lending.ErrDuplicateOrder
	}
	m.orders[o.ID] = o
	m.syncReplicasLocked(nil, &o)
	return nil
}

func (m *memOrders) Get(_ context.Context, id lending.OrderID) (lending.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return lending.Order{}, lending.ErrOrderNotFound
	}
	return o, nil
}

func (m *memOrders) Update(_ context.Context, prev, cur lending.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[cur.ID]; !ok {
		return lending.ErrOrderNotFound
	}
	m.orders[cur.ID] = cur
	m.syncReplicasLocked(&prev, &cur)
	return nil
}

func (m *memOrders) Delete(_ context.Context, o lending.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[o.ID]; !ok {
		return lending.ErrOrderNotFound
	}
	delete(m.orders, o.ID)
	m.syncReplicasLocked(&o, nil)
	return nil
}

// syncReplicasLocked applies the fan-out rule: prev nil = create, cur nil =
// delete, both set = re-home changed partitions and refresh the rest.
func (m *memOrders) syncReplicasLocked(prev, cur *lending.Order) {
	if prev != nil && cur == nil {
		for _, k := range lending.ReplicaKeysFor(*prev) {
			delete(m.replicas, replicaID{k.Dimension, prev.ID})
		}
		return
	}
	for _, k := range lending.ReplicaKeysFor(*cur) {
		m.replicas[replicaID{k.Dimension, cur.ID}] = lending.Replica{Key: k, Order: *cur}
	}
}

func (m *memOrders) ByDimension(_ context.Context, dim lending.ReplicaDimension, value string) ([]lending.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []lending.Order
	for id, r := range m.replicas {
		if id.Dimension == dim && r.Key.Value == value {
			out = append(out, r.Order)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memOrders) All(_ context.Context) ([]lending.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]lending.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memOrders) Replicas(_ context.Context, id lending.OrderID) ([]lending.Replica, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []lending.Replica
	for rid, r := range m.replicas {
		if rid.OrderID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Dimension < out[j].Key.Dimension })
	return out, nil
}

// =============================================================================
// STATS STORE
// =============================================================================

type memStats Memory

func dayKey(day time.Time) string { return day.Format("2006-01-02") }

func (m *memStats) apply(k statsKey, f lending.CounterFamily, countDelta int64, amountDelta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.stats[k]
	if !set.Apply(f, countDelta, amountDelta) {
		return lending.ErrStoreUnavailable
	}
	m.stats[k] = set
	return nil
}

func (m *memStats) ApplyGlobal(_ context.Context, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return m.apply(statsKey{lending.TierGlobal, lending.GlobalKey}, f, c, a)
}

func (m *memStats) ApplyDaily(_ context.Context, day time.Time, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return m.apply(statsKey{lending.TierDaily, dayKey(day)}, f, c, a)
}

func (m *memStats) ApplyGrouped(_ context.Context, group lending.GroupID, f lending.CounterFamily, c int64, a decimal.Decimal) error {
	return m.apply(statsKey{lending.TierGrouped, string(group)}, f, c, a)
}

func (m *memStats) get(k statsKey) (lending.AggregateSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats[k], nil
}

func (m *memStats) GetGlobal(_ context.Context) (lending.AggregateSet, error) {
	return m.get(statsKey{lending.TierGlobal, lending.GlobalKey})
}

func (m *memStats) GetDaily(_ context.Context, day time.Time) (lending.AggregateSet, error) {
	return m.get(statsKey{lending.TierDaily, dayKey(day)})
}

func (m *memStats) GetGrouped(_ context.Context, group lending.GroupID) (lending.AggregateSet, error) {
	return m.get(statsKey{lending.TierGrouped, string(group)})
}

func (m *memStats) put(k statsKey, a lending.AggregateSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats[k] = a
	return nil
}

func (m *memStats) PutGlobal(_ context.Context, a lending.AggregateSet) error {
	return m.put(statsKey{lending.TierGlobal, lending.GlobalKey}, a)
}

func (m *memStats) PutDaily(_ context.Context, day time.Time, a lending.AggregateSet) error {
	return m.put(statsKey{lending.TierDaily, dayKey(day)}, a)
}

func (m *memStats) PutGrouped(_ context.Context, group lending.GroupID, a lending.AggregateSet) error {
	return m.put(statsKey{lending.TierGrouped, string(group)}, a)
}

// =============================================================================
// INCOME STORE
// =============================================================================

type memIncome Memory

func (m *memIncome) Insert(_ context.Context, rec lending.IncomeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.income[rec.ID] = rec
	return nil
}

func (m *memIncome) Get(_ context.Context, id string) (lending.IncomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.income[id]
	if !ok {
		return lending.IncomeRecord{}, lending.ErrOrderNotFound
	}
	return rec, nil
}

func (m *memIncome) MarkUndone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.income[id]
	if !ok {
		return lending.ErrOrderNotFound
	}
	rec.Undone = true
	m.income[id] = rec
	return nil
}

func (m *memIncome) DeleteExpense(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.income[id]
	if !ok {
		return nil
	}
	if !rec.Type.IsExpense() {
		return lending.ErrStoreUnavailable
	}
	delete(m.income, id)
	return nil
}

func matches(rec lending.IncomeRecord, f lending.IncomeFilter) bool {
	if rec.Undone && !f.IncludeUndone {
		return false
	}
	if !f.From.IsZero() && rec.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.Date.After(f.To) {
		return false
	}
	if f.Type != nil && rec.Type != *f.Type {
		return false
	}
	if f.GroupID != nil && rec.GroupID != *f.GroupID {
		return false
	}
	return true
}

func (m *memIncome) Sum(_ context.Context, f lending.IncomeFilter) (decimal.Decimal, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := decimal.Zero
	var n int64
	for _, rec := range m.income {
		if matches(rec, f) {
			total = total.Add(rec.Amount)
			n++
		}
	}
	return total, n, nil
}

func (m *memIncome) List(_ context.Context, f lending.IncomeFilter) ([]lending.IncomeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []lending.IncomeRecord
	for _, rec := range m.income {
		if matches(rec, f) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// HISTORY STORE
// =============================================================================

type memHistory Memory

func (m *memHistory) Append(_ context.Context, op lending.Operation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, op)
	return nil
}

func (m *memHistory) LastUndoable(_ context.Context, actor lending.ActorID, channel lending.ChannelID) (lending.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.history) - 1; i >= 0; i-- {
		op := m.history[i]
		if op.ActorID == actor && op.ChannelID == channel && !op.Undone {
			return op, nil
		}
	}
	return lending.Operation{}, lending.ErrNothingToUndo
}

func (m *memHistory) MarkUndone(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.history {
		if m.history[i].ID == id {
			m.history[i].Undone = true
			return nil
		}
	}
	return lending.ErrNothingToUndo
}
