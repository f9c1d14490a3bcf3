package lending_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/lending"
)

func TestResolveFamily_TotalOverDefinedFamilies(t *testing.T) {
	for _, f := range lending.Families() {
		_, amountField, ok := lending.ResolveFamily(f)
		require.True(t, ok, f)
		assert.NotEmpty(t, amountField, "every family tracks at least an amount")
	}

	_, _, ok := lending.ResolveFamily("made_up")
	assert.False(t, ok)
}

func TestDailyTracked_LifetimeMetersExcluded(t *testing.T) {
	assert.True(t, lending.FamilyValid.DailyTracked())
	assert.True(t, lending.FamilyExpense.DailyTracked())
	assert.False(t, lending.FamilyNewClients.DailyTracked())
	assert.False(t, lending.FamilyOldClients.DailyTracked())
	assert.False(t, lending.FamilyLiquidFunds.DailyTracked())
}

func TestAggregateSet_ApplyAndReverse(t *testing.T) {
	var set lending.AggregateSet
	amt := decimal.NewFromInt(1234)

	require.True(t, set.Apply(lending.FamilyValid, 1, amt))
	assert.EqualValues(t, 1, set.ValidOrders)
	assert.True(t, set.ValidAmount.Equal(amt))

	require.True(t, set.Apply(lending.FamilyValid, -1, amt.Neg()))
	assert.True(t, set.Equal(lending.AggregateSet{}), "delta then inverse returns to zero")

	assert.False(t, set.Apply("made_up", 1, amt), "unknown family rejected")
}

func TestAggregateSet_EqualIsNumeric(t *testing.T) {
	a := lending.AggregateSet{ValidAmount: decimal.RequireFromString("10")}
	b := lending.AggregateSet{ValidAmount: decimal.RequireFromString("10.00")}
	assert.True(t, a.Equal(b))
}

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to lending.OrderState }{
		{lending.StateNormal, lending.StateOverdue},
		{lending.StateOverdue, lending.StateNormal},
		{lending.StateNormal, lending.StateBreach},
		{lending.StateOverdue, lending.StateBreach},
	}
	for _, tc := range allowed {
		assert.True(t, lending.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	denied := []struct{ from, to lending.OrderState }{
		{lending.StateBreach, lending.StateNormal},
		{lending.StateBreach, lending.StateOverdue},
		{lending.StateNormal, lending.StateEnd},
		{lending.StateBreach, lending.StateBreachEnd},
		{lending.StateEnd, lending.StateNormal},
		{lending.StateBreachEnd, lending.StateBreach},
	}
	for _, tc := range denied {
		assert.False(t, lending.CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStateAndClassFamilies(t *testing.T) {
	assert.Equal(t, lending.FamilyValid, lending.StateFamily(lending.StateNormal))
	assert.Equal(t, lending.FamilyValid, lending.StateFamily(lending.StateOverdue))
	assert.Equal(t, lending.FamilyBreach, lending.StateFamily(lending.StateBreach))
	assert.Equal(t, lending.FamilyNewClients, lending.ClassFamily(lending.ClassNew))
	assert.Equal(t, lending.FamilyOldClients, lending.ClassFamily(lending.ClassOld))
}
