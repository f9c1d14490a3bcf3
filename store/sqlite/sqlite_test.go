package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/lending"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOrder(id string) lending.Order {
	date := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return lending.Order{
		ID:        lending.OrderID(id),
		GroupID:   "S01",
		ChannelID: "chan-1",
		Date:      date,
		Weekday:   lending.WeekdayBucketOf(date),
		Class:     lending.ClassNew,
		Amount:    decimal.NewFromInt(10000),
		State:     lending.StateNormal,
		CreatedAt: date,
		UpdatedAt: date,
	}
}

// =============================================================================
// ORDERS AND REPLICAS
// =============================================================================

func TestOrderRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("O1")
	require.NoError(t, s.Orders().Insert(ctx, o))

	got, err := s.Orders().Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, o.GroupID, got.GroupID)
	assert.Equal(t, o.State, got.State)
	assert.True(t, got.Amount.Equal(o.Amount))
	assert.True(t, got.Date.Equal(o.Date))
}

func TestInsert_DuplicateOrderID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Orders().Insert(ctx, testOrder("O1")))
	err := s.Orders().Insert(ctx, testOrder("O1"))
	assert.ErrorIs(t, err, lending.ErrDuplicateOrder)
}

func TestInsert_FansOutAllReplicas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Orders().Insert(ctx, testOrder("O1")))

	replicas, err := s.Orders().Replicas(ctx, "O1")
	require.NoError(t, err)
	assert.Len(t, replicas, len(lending.Dimensions()))
}

func TestUpdate_RehomesChangedPartitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	prev := testOrder("O1")
	require.NoError(t, s.Orders().Insert(ctx, prev))

	cur := prev
	cur.State = lending.StateBreach
	cur.GroupID = "S02"
	require.NoError(t, s.Orders().Update(ctx, prev, cur))

	// State partition re-homed.
	breached, err := s.Orders().ByDimension(ctx, lending.DimState, "breach")
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, lending.OrderID("O1"), breached[0].ID)

	normals, err := s.Orders().ByDimension(ctx, lending.DimState, "normal")
	require.NoError(t, err)
	assert.Empty(t, normals)

	// Unchanged partitions still carry refreshed field values.
	byClass, err := s.Orders().ByDimension(ctx, lending.DimClass, "new")
	require.NoError(t, err)
	require.Len(t, byClass, 1)
	assert.Equal(t, lending.GroupID("S02"), byClass[0].GroupID)
	assert.Equal(t, lending.StateBreach, byClass[0].State)
}

func TestDelete_RemovesCanonicalAndReplicas(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := testOrder("O1")
	require.NoError(t, s.Orders().Insert(ctx, o))
	require.NoError(t, s.Orders().Delete(ctx, o))

	_, err := s.Orders().Get(ctx, "O1")
	assert.ErrorIs(t, err, lending.ErrOrderNotFound)

	replicas, err := s.Orders().Replicas(ctx, "O1")
	require.NoError(t, err)
	assert.Empty(t, replicas)
}

// =============================================================================
// AGGREGATES
// =============================================================================

func TestStats_ApplyCreatesRowLazily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	amt := decimal.RequireFromString("1500.25")
	require.NoError(t, s.Stats().ApplyGlobal(ctx, lending.FamilyValid, 1, amt))
	require.NoError(t, s.Stats().ApplyGlobal(ctx, lending.FamilyValid, 1, amt))

	set, err := s.Stats().GetGlobal(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, set.ValidOrders)
	assert.True(t, set.ValidAmount.Equal(decimal.RequireFromString("3000.50")))
}

func TestStats_AmountOnlyFamily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Stats().ApplyGrouped(ctx, "S01", lending.FamilyInterest, 0, decimal.RequireFromString("0.10")))
	require.NoError(t, s.Stats().ApplyGrouped(ctx, "S01", lending.FamilyInterest, 0, decimal.RequireFromString("0.20")))

	set, err := s.Stats().GetGrouped(ctx, "S01")
	require.NoError(t, err)
	// Decimal text storage keeps cent-level sums exact.
	assert.True(t, set.Interest.Equal(decimal.RequireFromString("0.30")))
}

func TestStats_MissingRowReadsAsZero(t *testing.T) {
	s := newTestStore(t)

	set, err := s.Stats().GetDaily(context.Background(), time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, set.Equal(lending.AggregateSet{}))
}

func TestStats_PutOverwritesRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Stats().ApplyGlobal(ctx, lending.FamilyValid, 5, decimal.NewFromInt(5000)))

	want := lending.AggregateSet{ValidOrders: 1, ValidAmount: decimal.NewFromInt(1000)}
	require.NoError(t, s.Stats().PutGlobal(ctx, want))

	got, err := s.Stats().GetGlobal(ctx)
	require.NoError(t, err)
	assert.True(t, got.Equal(want))
}

// =============================================================================
// INCOME
// =============================================================================

func TestIncome_SumFiltersAndSoftUndo(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	recs := []lending.IncomeRecord{
		{ID: "i1", Date: day, Type: lending.IncomeInterest, Amount: decimal.NewFromInt(100), GroupID: "S01", CreatedBy: "alice", CreatedAt: day},
		{ID: "i2", Date: day, Type: lending.IncomeInterest, Amount: decimal.NewFromInt(50), GroupID: "S02", CreatedBy: "alice", CreatedAt: day},
		{ID: "i3", Date: day.AddDate(0, 0, 1), Type: lending.IncomeCompleted, Amount: decimal.NewFromInt(7000), GroupID: "S01", OrderID: "O1", CreatedBy: "alice", CreatedAt: day},
	}
	for _, rec := range recs {
		require.NoError(t, s.Income().Insert(ctx, rec))
	}

	total, count, err := s.Income().Sum(ctx, lending.IncomeFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)
	assert.True(t, total.Equal(decimal.NewFromInt(7150)))

	interest := lending.IncomeInterest
	total, count, err = s.Income().Sum(ctx, lending.IncomeFilter{Type: &interest})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.True(t, total.Equal(decimal.NewFromInt(150)))

	group := lending.GroupID("S01")
	total, count, err = s.Income().Sum(ctx, lending.IncomeFilter{GroupID: &group})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
	assert.True(t, total.Equal(decimal.NewFromInt(7100)))

	// Soft-undone records drop out unless explicitly included.
	require.NoError(t, s.Income().MarkUndone(ctx, "i1"))
	total, count, err = s.Income().Sum(ctx, lending.IncomeFilter{Type: &interest})
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
	assert.True(t, total.Equal(decimal.NewFromInt(50)))

	_, count, err = s.Income().Sum(ctx, lending.IncomeFilter{Type: &interest, IncludeUndone: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestIncome_DeleteExpenseOnlyDeletesExpenses(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Income().Insert(ctx, lending.IncomeRecord{
		ID: "e1", Date: day, Type: lending.ExpenseCompany, Amount: decimal.NewFromInt(400), CreatedBy: "alice", CreatedAt: day,
	}))
	require.NoError(t, s.Income().Insert(ctx, lending.IncomeRecord{
		ID: "i1", Date: day, Type: lending.IncomeInterest, Amount: decimal.NewFromInt(100), CreatedBy: "alice", CreatedAt: day,
	}))

	require.NoError(t, s.Income().DeleteExpense(ctx, "e1"))
	_, err := s.Income().Get(ctx, "e1")
	assert.ErrorIs(t, err, lending.ErrOrderNotFound)

	// Non-expense records are protected from the hard-delete path.
	err = s.Income().DeleteExpense(ctx, "i1")
	assert.Error(t, err)
	_, err = s.Income().Get(ctx, "i1")
	assert.NoError(t, err)
}

// =============================================================================
// HISTORY
// =============================================================================

func TestHistory_LastUndoableScopedAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	ops := []lending.Operation{
		{ID: "op1", ActorID: "alice", ChannelID: "chan-1", Type: lending.OpOrderCreated, Payload: lending.OperationPayload{OrderID: "O1"}, CreatedAt: base},
		{ID: "op2", ActorID: "alice", ChannelID: "chan-1", Type: lending.OpInterest, Payload: lending.OperationPayload{Amount: decimal.NewFromInt(100)}, CreatedAt: base.Add(time.Minute)},
		{ID: "op3", ActorID: "alice", ChannelID: "chan-2", Type: lending.OpExpense, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "op4", ActorID: "bob", ChannelID: "chan-1", Type: lending.OpExpense, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, op := range ops {
		require.NoError(t, s.History().Append(ctx, op))
	}

	// Newest entry for alice in chan-1 is op2, despite later entries in
	// other scopes.
	got, err := s.History().LastUndoable(ctx, "alice", "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "op2", got.ID)
	assert.Equal(t, lending.OpInterest, got.Type)
	assert.True(t, got.Payload.Amount.Equal(decimal.NewFromInt(100)), "payload survives the JSON round trip")

	require.NoError(t, s.History().MarkUndone(ctx, "op2"))
	got, err = s.History().LastUndoable(ctx, "alice", "chan-1")
	require.NoError(t, err)
	assert.Equal(t, "op1", got.ID)

	require.NoError(t, s.History().MarkUndone(ctx, "op1"))
	_, err = s.History().LastUndoable(ctx, "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrNothingToUndo)

	_, err = s.History().LastUndoable(ctx, "carol", "chan-1")
	assert.ErrorIs(t, err, lending.ErrNothingToUndo)
}
