/*
counters.go - Aggregate counter families and the three-tier counter set

PURPOSE:
  Defines the fixed set of named counters kept in each aggregate row and the
  counter-family resolution convention: a bare family name like "valid" maps
  to the valid_orders count field and the valid_amount amount field; families
  that only track an amount resolve to a single field.

  The resolution table is the single source of truth for field names. The
  SQLite store consults it too, which makes it double as the column whitelist
  for delta updates — no family name that is not in this table can ever reach
  a SQL statement.

THREE TIERS:
  Global  - one singleton row, every family
  Daily   - one row per business day, daily-tracked families only
  Grouped - one row per attribution group id

  Lifetime meters (client acquisition, liquid funds) deliberately skip the
  Daily tier: a daily snapshot of an all-time counter is meaningless.

SEE ALSO:
  - store.go: StatsStore interface applying signed deltas per tier
  - day.go: The business-day rule that keys the Daily tier
*/
package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COUNTER FAMILIES
// =============================================================================

type CounterFamily string

const (
	FamilyValid       CounterFamily = "valid"
	FamilyBreach      CounterFamily = "breach"
	FamilyCompleted   CounterFamily = "completed"
	FamilyBreachEnd   CounterFamily = "breach_end"
	FamilyInterest    CounterFamily = "interest"
	FamilyNewClients  CounterFamily = "new_clients"
	FamilyOldClients  CounterFamily = "old_clients"
	FamilyExpense     CounterFamily = "expense"
	FamilyLiquidFunds CounterFamily = "liquid_funds"
)

// counterFields names the count and amount fields a family resolves to.
// An empty Count means the family tracks an amount only.
type counterFields struct {
	Count  string
	Amount string
}

var counterTable = map[CounterFamily]counterFields{
	FamilyValid:       {Count: "valid_orders", Amount: "valid_amount"},
	FamilyBreach:      {Count: "breach_orders", Amount: "breach_amount"},
	FamilyCompleted:   {Count: "completed_orders", Amount: "completed_amount"},
	FamilyBreachEnd:   {Count: "breach_end_orders", Amount: "breach_end_amount"},
	FamilyInterest:    {Amount: "interest"},
	FamilyNewClients:  {Count: "new_clients", Amount: "new_clients_amount"},
	FamilyOldClients:  {Count: "old_clients", Amount: "old_clients_amount"},
	FamilyExpense:     {Amount: "expense_amount"},
	FamilyLiquidFunds: {Amount: "liquid_funds"},
}

// dailyTracked is the allow list of families that participate in Daily rows.
var dailyTracked = map[CounterFamily]bool{
	FamilyValid:     true,
	FamilyBreach:    true,
	FamilyCompleted: true,
	FamilyBreachEnd: true,
	FamilyInterest:  true,
	FamilyExpense:   true,
}

// ResolveFamily maps a family to its count and amount field names.
// The mapping is total over the defined families and deterministic;
// ok is false for anything outside the table.
func ResolveFamily(f CounterFamily) (countField, amountField string, ok bool) {
	fields, ok := counterTable[f]
	return fields.Count, fields.Amount, ok
}

// DailyTracked reports whether the family participates in Daily snapshots.
func (f CounterFamily) DailyTracked() bool { return dailyTracked[f] }

// Families returns every defined counter family, in stable order.
func Families() []CounterFamily {
	return []CounterFamily{
		FamilyValid, FamilyBreach, FamilyCompleted, FamilyBreachEnd,
		FamilyInterest, FamilyNewClients, FamilyOldClients,
		FamilyExpense, FamilyLiquidFunds,
	}
}

// ClassFamily maps a customer class to its acquisition counter family.
func ClassFamily(c CustomerClass) CounterFamily {
	if c == ClassNew {
		return FamilyNewClients
	}
	return FamilyOldClients
}

// StateFamily maps a live/breach order state to the counter family its
// principal contributes to.
func StateFamily(s OrderState) CounterFamily {
	if s == StateBreach {
		return FamilyBreach
	}
	return FamilyValid
}

// =============================================================================
// AGGREGATE TIERS
// =============================================================================

type Tier string

const (
	TierGlobal  Tier = "global"
	TierDaily   Tier = "daily"
	TierGrouped Tier = "grouped"
)

// GlobalKey is the scope key of the singleton Global row.
const GlobalKey = "all"

// =============================================================================
// AGGREGATE COUNTER SET
// =============================================================================

// AggregateSet is one row of one tier: the full named counter collection.
// All rows mutate only through signed deltas (Apply), never by wholesale
// recomputation — except the explicit reconciliation pass, which overwrites
// a whole row at once.
type AggregateSet struct {
	ValidOrders      int64
	ValidAmount      decimal.Decimal
	BreachOrders     int64
	BreachAmount     decimal.Decimal
	CompletedOrders  int64
	CompletedAmount  decimal.Decimal
	BreachEndOrders  int64
	BreachEndAmount  decimal.Decimal
	Interest         decimal.Decimal
	NewClients       int64
	NewClientsAmount decimal.Decimal
	OldClients       int64
	OldClientsAmount decimal.Decimal
	ExpenseAmount    decimal.Decimal
	LiquidFunds      decimal.Decimal
}

// Apply adds a signed delta to the family's counters in place.
func (a *AggregateSet) Apply(f CounterFamily, countDelta int64, amountDelta decimal.Decimal) bool {
	switch f {
	case FamilyValid:
		a.ValidOrders += countDelta
		a.ValidAmount = a.ValidAmount.Add(amountDelta)
	case FamilyBreach:
		a.BreachOrders += countDelta
		a.BreachAmount = a.BreachAmount.Add(amountDelta)
	case FamilyCompleted:
		a.CompletedOrders += countDelta
		a.CompletedAmount = a.CompletedAmount.Add(amountDelta)
	case FamilyBreachEnd:
		a.BreachEndOrders += countDelta
		a.BreachEndAmount = a.BreachEndAmount.Add(amountDelta)
	case FamilyInterest:
		a.Interest = a.Interest.Add(amountDelta)
	case FamilyNewClients:
		a.NewClients += countDelta
		a.NewClientsAmount = a.NewClientsAmount.Add(amountDelta)
	case FamilyOldClients:
		a.OldClients += countDelta
		a.OldClientsAmount = a.OldClientsAmount.Add(amountDelta)
	case FamilyExpense:
		a.ExpenseAmount = a.ExpenseAmount.Add(amountDelta)
	case FamilyLiquidFunds:
		a.LiquidFunds = a.LiquidFunds.Add(amountDelta)
	default:
		return false
	}
	return true
}

// Equal compares two counter sets numerically (decimal comparison, so
// "10" and "10.00" are equal).
func (a AggregateSet) Equal(b AggregateSet) bool {
	return a.ValidOrders == b.ValidOrders &&
		a.ValidAmount.Equal(b.ValidAmount) &&
		a.BreachOrders == b.BreachOrders &&
		a.BreachAmount.Equal(b.BreachAmount) &&
		a.CompletedOrders == b.CompletedOrders &&
		a.CompletedAmount.Equal(b.CompletedAmount) &&
		a.BreachEndOrders == b.BreachEndOrders &&
		a.BreachEndAmount.Equal(b.BreachEndAmount) &&
		a.Interest.Equal(b.Interest) &&
		a.NewClients == b.NewClients &&
		a.NewClientsAmount.Equal(b.NewClientsAmount) &&
		a.OldClients == b.OldClients &&
		a.OldClientsAmount.Equal(b.OldClientsAmount) &&
		a.ExpenseAmount.Equal(b.ExpenseAmount) &&
		a.LiquidFunds.Equal(b.LiquidFunds)
}

// =============================================================================
// DELTA - One signed counter mutation, also the unit of "touched" reporting
// =============================================================================

// Delta is a single signed counter mutation. GroupID empty means no Grouped
// update; Day zero means no Daily update. The engine reports the deltas it
// actually applied so the caller can render a precise repair message when a
// tier update fails partway.
type Delta struct {
	Family CounterFamily
	Count  int64
	Amount decimal.Decimal
	Group  GroupID
	Day    time.Time
}
