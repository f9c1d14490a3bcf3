package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/engine"
	"github.com/warp/lending-engine/lending"
	memstore "github.com/warp/lending-engine/lending/store"
)

// =============================================================================
// SCOPING
// =============================================================================

func TestUndo_ScopedPerActorAndChannel(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)

	// Wrong channel: alice's entry lives in chan-1, so chan-2 has nothing.
	_, err = eng.Undo(ctx, "alice", "chan-2")
	assert.ErrorIs(t, err, lending.ErrNothingToUndo)

	// Wrong actor: bob never acted in chan-1.
	_, err = eng.Undo(ctx, "bob", "chan-1")
	assert.ErrorIs(t, err, lending.ErrNothingToUndo)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)
}

// scopeLeakStore simulates a history backend that matches on actor alone, to
// exercise the coordinator's channel double check.
type scopeLeakStore struct {
	*memstore.Memory
	leak lending.Operation
}

func (s *scopeLeakStore) History() lending.HistoryStore { return leakHistory{s} }

type leakHistory struct{ s *scopeLeakStore }

func (h leakHistory) Append(ctx context.Context, op lending.Operation) error {
	return h.s.Memory.History().Append(ctx, op)
}

func (h leakHistory) LastUndoable(context.Context, lending.ActorID, lending.ChannelID) (lending.Operation, error) {
	return h.s.leak, nil
}

func (h leakHistory) MarkUndone(ctx context.Context, id string) error {
	return h.s.Memory.History().MarkUndone(ctx, id)
}

func TestUndo_ChannelMismatchRejected(t *testing.T) {
	st := &scopeLeakStore{Memory: memstore.NewMemory()}
	st.leak = lending.Operation{
		ID:        "op-1",
		ActorID:   "alice",
		ChannelID: "chan-other",
		Type:      lending.OpInterest,
	}
	eng := engine.New(st, engine.Options{Clock: lending.FixedClock{T: testNow}})

	_, err := eng.Undo(context.Background(), "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrScopeMismatch)
}

// =============================================================================
// CONSECUTIVE-UNDO CEILING
// =============================================================================

func TestUndo_ConsecutiveCeiling(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := eng.CreateOrder(ctx, intent(string(rune('A'+i))), "alice")
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		_, err := eng.Undo(ctx, "alice", "chan-1")
		require.NoError(t, err)
	}

	// Fourth consecutive undo hits the ceiling even though history remains.
	_, err := eng.Undo(ctx, "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrUndoLimitExceeded)

	// Any forward action resets the streak.
	_, err = eng.CreateOrder(ctx, intent("Z"), "alice")
	require.NoError(t, err)
	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)
}

func TestUndo_CeilingIsPerScope(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		in := intent(string(rune('A' + i)))
		_, err := eng.CreateOrder(ctx, in, "alice")
		require.NoError(t, err)

		in = intent(string(rune('a' + i)))
		in.OrderID = lending.OrderID("bob-" + string(rune('a'+i)))
		in.ChannelID = "chan-2"
		_, err = eng.CreateOrder(ctx, in, "bob")
		require.NoError(t, err)
	}

	for i := 0; i < 3; i++ {
		_, err := eng.Undo(ctx, "alice", "chan-1")
		require.NoError(t, err)
	}
	_, err := eng.Undo(ctx, "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrUndoLimitExceeded)

	// bob's scope is unaffected by alice's streak.
	_, err = eng.Undo(ctx, "bob", "chan-2")
	require.NoError(t, err)
}

// =============================================================================
// INVERSE PROCEDURES
// =============================================================================

func TestUndoCreate_RemovesOrderAndCounters(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	_, err = st.Orders().Get(ctx, "O1")
	assert.ErrorIs(t, err, lending.ErrOrderNotFound)

	replicas, err := st.Orders().Replicas(ctx, "O1")
	require.NoError(t, err)
	assert.Empty(t, replicas)

	assert.True(t, globalRow(t, st).Equal(lending.AggregateSet{}))
}

func TestUndoComplete_ReattributesToCurrentGroup(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)
	_, err = eng.CompleteOrder(ctx, "O1", "alice", "chan-1")
	require.NoError(t, err)

	// Correct the group after settlement. Corrections are not historized, so
	// the next undo still targets the completion.
	_, err = eng.ChangeGroup(ctx, "O1", "S02", "alice")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	// The reinstated outstanding principal lands in the CURRENT group.
	s02, _ := st.Stats().GetGrouped(ctx, "S02")
	assert.EqualValues(t, 1, s02.ValidOrders)
}

func TestUndoStateChange_RestoresPreviousState(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)
	_, err = eng.TransitionState(ctx, "O1", lending.StateBreach, "alice", "chan-1")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	o, err := st.Orders().Get(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, lending.StateNormal, o.State)

	g := globalRow(t, st)
	assert.EqualValues(t, 1, g.ValidOrders)
	assert.EqualValues(t, 0, g.BreachOrders)
	assert.True(t, g.BreachAmount.IsZero())
}

func TestUndoReducePrincipal_RestoresAmount(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)
	res, err := eng.ReducePrincipal(ctx, "O1", money("3000"), "alice", "chan-1")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	o, _ := st.Orders().Get(ctx, "O1")
	assert.True(t, o.Amount.Equal(money("10000")))

	g := globalRow(t, st)
	assert.True(t, g.ValidAmount.Equal(money("10000")))
	assert.True(t, g.CompletedAmount.IsZero())
	assert.True(t, g.LiquidFunds.Equal(money("-10000")))

	rec, err := st.Income().Get(ctx, res.IncomeID)
	require.NoError(t, err)
	assert.True(t, rec.Undone)
}

func TestUndoReducePrincipal_ChannelMoved(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateOrder(ctx, intent("O1"), "alice")
	require.NoError(t, err)
	_, err = eng.ReducePrincipal(ctx, "O1", money("3000"), "alice", "chan-1")
	require.NoError(t, err)

	// Reassigning the channel makes the reduction unattributable from its
	// original scope.
	_, err = eng.ReassignChannel(ctx, "O1", "chan-9", "alice")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrOrderNotFound)
}

func TestUndoInterest_LegacyEntryWithoutIncomeRecord(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	// Seed the counters and an old-style history entry with no income link.
	_, err := eng.RecordInterest(ctx, engine.InterestArgs{GroupID: "S01", Amount: money("200")}, "seed", "chan-0")
	require.NoError(t, err)

	require.NoError(t, st.History().Append(ctx, lending.Operation{
		ID:        "legacy-1",
		ActorID:   "alice",
		ChannelID: "chan-1",
		Type:      lending.OpInterest,
		Payload: lending.OperationPayload{
			Amount:    money("200"),
			GroupID:   "S01",
			ChannelID: "chan-1",
			Day:       testNow,
		},
		CreatedAt: testNow,
	}))

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err, "missing income link degrades to counter-only reversal")

	g := globalRow(t, st)
	assert.True(t, g.Interest.IsZero())
	assert.True(t, g.LiquidFunds.IsZero())
}

func TestUndoExpense_HardDeletesRecord(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.RecordExpense(ctx, lending.ExpenseOther, money("75"), "", "alice", "chan-1")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	_, err = st.Income().Get(ctx, res.IncomeID)
	assert.ErrorIs(t, err, lending.ErrOrderNotFound, "expense record is gone, not soft-undone")

	g := globalRow(t, st)
	assert.True(t, g.ExpenseAmount.IsZero())
	assert.True(t, g.LiquidFunds.IsZero())
}

func TestUndo_SameEntryNotUndoneTwice(t *testing.T) {
	eng, st := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.RecordInterest(ctx, engine.InterestArgs{GroupID: "S01", Amount: money("100")}, "alice", "chan-1")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	require.NoError(t, err)

	_, err = eng.Undo(ctx, "alice", "chan-1")
	assert.ErrorIs(t, err, lending.ErrNothingToUndo)
	assert.True(t, globalRow(t, st).Interest.IsZero())
}
