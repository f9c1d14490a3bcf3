/*
reconcile.go - Re-derive aggregate rows from the source-of-truth tables

PURPOSE:
  The statistics tiers are a maintained cache of signed deltas; any tier can
  drift when a counter update fails after the order of record committed.
  Reconcile recomputes one row from first principles — the orders table and
  the non-undone income records — compares it to the stored row, and
  overwrites the stored row when they differ.

DERIVATION RULES:
  valid/breach      from live/breach orders (daily: keyed by order date)
  completed         count from completed income records; amount additionally
                    includes principal reductions
  breach_end        from breach_end income records
  interest/expense  from income records of that type
  new/old clients   from non-historical orders by class (Global and Grouped)
  liquid funds      all income credits minus expenses minus the outstanding
                    exposure of non-historical orders (Global only)
*/
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/lending"
)

// ReconcileReport describes one reconciliation pass over one aggregate row.
type ReconcileReport struct {
	Tier     lending.Tier
	Key      string
	Stored   lending.AggregateSet
	Derived  lending.AggregateSet
	Repaired bool // stored row differed and was overwritten
}

// Reconcile recomputes the aggregate row identified by (tier, key) and
// repairs it in place if it drifted. Key is ignored for the Global tier,
// is a YYYY-MM-DD business day for Daily, and a group id for Grouped.
func (e *Engine) Reconcile(ctx context.Context, tier lending.Tier, key string) (ReconcileReport, error) {
	orders, err := e.store.Orders().All(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}
	incomes, err := e.store.Income().List(ctx, lending.IncomeFilter{})
	if err != nil {
		return ReconcileReport{}, err
	}

	stats := e.store.Stats()
	rep := ReconcileReport{Tier: tier, Key: key}

	switch tier {
	case lending.TierGlobal:
		rep.Key = lending.GlobalKey
		rep.Derived = deriveGlobal(orders, incomes)
		rep.Stored, err = stats.GetGlobal(ctx)
		if err != nil {
			return rep, err
		}
		if !rep.Stored.Equal(rep.Derived) {
			if err := stats.PutGlobal(ctx, rep.Derived); err != nil {
				return rep, err
			}
			rep.Repaired = true
		}

	case lending.TierDaily:
		day, perr := time.Parse("2006-01-02", key)
		if perr != nil {
			return rep, &lending.IntentError{Field: "key", Reason: "daily key must be YYYY-MM-DD"}
		}
		rep.Derived = deriveDaily(orders, incomes, day)
		rep.Stored, err = stats.GetDaily(ctx, day)
		if err != nil {
			return rep, err
		}
		if !rep.Stored.Equal(rep.Derived) {
			if err := stats.PutDaily(ctx, day, rep.Derived); err != nil {
				return rep, err
			}
			rep.Repaired = true
		}

	case lending.TierGrouped:
		if key == "" {
			return rep, &lending.IntentError{Field: "key", Reason: "group id required"}
		}
		group := lending.GroupID(key)
		rep.Derived = deriveGrouped(orders, incomes, group)
		rep.Stored, err = stats.GetGrouped(ctx, group)
		if err != nil {
			return rep, err
		}
		if !rep.Stored.Equal(rep.Derived) {
			if err := stats.PutGrouped(ctx, group, rep.Derived); err != nil {
				return rep, err
			}
			rep.Repaired = true
		}

	default:
		return rep, &lending.IntentError{Field: "tier", Reason: "unknown tier"}
	}

	if rep.Repaired {
		e.log.Info().
			Str("tier", string(tier)).
			Str("key", rep.Key).
			Msg("aggregate row drifted; repaired from source of truth")
	}
	return rep, nil
}

// =============================================================================
// DERIVATIONS
// =============================================================================

func deriveGlobal(orders []lending.Order, incomes []lending.IncomeRecord) lending.AggregateSet {
	var set lending.AggregateSet

	// Outstanding exposure carried by non-historical orders: current principal
	// plus everything already repaid through reductions. Equals the amount
	// originally debited from liquid funds at creation.
	exposure := decimal.Zero
	reductions := make(map[lending.OrderID]decimal.Decimal)
	for _, rec := range incomes {
		if rec.Type == lending.IncomePrincipalReduction && rec.OrderID != "" {
			reductions[rec.OrderID] = reductions[rec.OrderID].Add(rec.Amount)
		}
	}

	for _, o := range orders {
		if !o.State.Terminal() {
			set.Apply(lending.StateFamily(o.State), 1, o.Amount)
		}
		if !o.Historical {
			// Class amounts are seeded at creation and untouched by
			// reductions, so the derivation re-adds the repaid principal.
			seeded := o.Amount.Add(reductions[o.ID])
			set.Apply(lending.ClassFamily(o.Class), 1, seeded)
			exposure = exposure.Add(seeded)
		}
	}

	credits := decimal.Zero
	for _, rec := range incomes {
		switch rec.Type {
		case lending.IncomeCompleted:
			set.Apply(lending.FamilyCompleted, 1, rec.Amount)
			credits = credits.Add(rec.Amount)
		case lending.IncomeBreachEnd:
			set.Apply(lending.FamilyBreachEnd, 1, rec.Amount)
			credits = credits.Add(rec.Amount)
		case lending.IncomePrincipalReduction:
			set.Apply(lending.FamilyCompleted, 0, rec.Amount)
			credits = credits.Add(rec.Amount)
		case lending.IncomeInterest:
			set.Apply(lending.FamilyInterest, 0, rec.Amount)
			credits = credits.Add(rec.Amount)
		default:
			if rec.Type.IsExpense() {
				set.Apply(lending.FamilyExpense, 0, rec.Amount)
				credits = credits.Sub(rec.Amount)
			}
		}
	}

	set.LiquidFunds = credits.Sub(exposure)
	return set
}

func deriveDaily(orders []lending.Order, incomes []lending.IncomeRecord, day time.Time) lending.AggregateSet {
	var set lending.AggregateSet
	day = lending.DateOf(day)

	for _, o := range orders {
		if o.State.Terminal() || !lending.DateOf(o.Date).Equal(day) {
			continue
		}
		set.Apply(lending.StateFamily(o.State), 1, o.Amount)
	}

	for _, rec := range incomes {
		if !lending.DateOf(rec.Date).Equal(day) {
			continue
		}
		switch rec.Type {
		case lending.IncomeCompleted:
			set.Apply(lending.FamilyCompleted, 1, rec.Amount)
		case lending.IncomeBreachEnd:
			set.Apply(lending.FamilyBreachEnd, 1, rec.Amount)
		case lending.IncomePrincipalReduction:
			set.Apply(lending.FamilyCompleted, 0, rec.Amount)
		case lending.IncomeInterest:
			set.Apply(lending.FamilyInterest, 0, rec.Amount)
		default:
			if rec.Type.IsExpense() {
				set.Apply(lending.FamilyExpense, 0, rec.Amount)
			}
		}
	}
	return set
}

func deriveGrouped(orders []lending.Order, incomes []lending.IncomeRecord, group lending.GroupID) lending.AggregateSet {
	var set lending.AggregateSet

	reductions := make(map[lending.OrderID]decimal.Decimal)
	for _, rec := range incomes {
		if rec.Type == lending.IncomePrincipalReduction && rec.OrderID != "" {
			reductions[rec.OrderID] = reductions[rec.OrderID].Add(rec.Amount)
		}
	}

	for _, o := range orders {
		if o.GroupID != group {
			continue
		}
		if !o.State.Terminal() {
			set.Apply(lending.StateFamily(o.State), 1, o.Amount)
		}
		if !o.Historical {
			set.Apply(lending.ClassFamily(o.Class), 1, o.Amount.Add(reductions[o.ID]))
		}
	}

	for _, rec := range incomes {
		if rec.GroupID != group {
			continue
		}
		switch rec.Type {
		case lending.IncomeCompleted:
			set.Apply(lending.FamilyCompleted, 1, rec.Amount)
		case lending.IncomeBreachEnd:
			set.Apply(lending.FamilyBreachEnd, 1, rec.Amount)
		case lending.IncomePrincipalReduction:
			set.Apply(lending.FamilyCompleted, 0, rec.Amount)
		case lending.IncomeInterest:
			set.Apply(lending.FamilyInterest, 0, rec.Amount)
		}
	}
	return set
}
