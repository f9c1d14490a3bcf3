/*
undo.go - Single-step undo of the most recent operation in a scope

PURPOSE:
  Undo inverts exactly one history entry: the newest non-undone operation
  recorded for the calling (actor, channel) pair. Each operation type has its
  own inverse procedure that reconstructs the opposite of the forward fan-out
  from the entry's captured payload and the order's current field values.

CONSECUTIVE-UNDO CEILING:
  A scope may undo at most undoLimit times in a row (default 3). Any forward
  action by the scope resets its streak. The ceiling is an in-process guard
  against reflexive mass rollback, not a persisted property of the history.

CURRENT-VALUE RULE:
  Inverse procedures reverse counters using the order's CURRENT group, class,
  date and amount rather than the payload's. Corrections (amount, date, group
  changes) keep the counters aligned with the current field values, so the
  exact inverse of the original contribution lives wherever those corrections
  moved it. The payload supplies what the order row cannot: the previous
  state, the linked income record, and the forward action's business day.
*/
package engine

import (
	"context"
	"errors"

	"github.com/warp/lending-engine/lending"
)

// Undo inverts the newest non-undone operation for (actor, channel).
//
// Fails with ErrUndoLimitExceeded once the scope's consecutive-undo streak
// reaches the ceiling, ErrNothingToUndo when the scope's history is exhausted,
// and ErrScopeMismatch if the candidate entry belongs to another channel.
func (e *Engine) Undo(ctx context.Context, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	key := scopeKey{actor, channel}

	e.mu.Lock()
	streak := e.undoStreak[key]
	e.mu.Unlock()
	if streak >= e.undoLimit {
		return Result{}, lending.ErrUndoLimitExceeded
	}

	op, err := e.store.History().LastUndoable(ctx, actor, channel)
	if err != nil {
		return Result{}, err
	}
	// LastUndoable already filters by scope; the double check guards against
	// a store implementation that matches on actor alone.
	if op.ChannelID != channel {
		return Result{}, lending.ErrScopeMismatch
	}

	res := Result{Op: op.Type, OrderID: op.Payload.OrderID}
	switch op.Type {
	case lending.OpOrderCreated:
		err = e.undoCreate(ctx, &res, op.Payload)
	case lending.OpOrderCompleted:
		err = e.undoSettlement(ctx, &res, op.Payload, false)
	case lending.OpOrderBreachEnd:
		err = e.undoSettlement(ctx, &res, op.Payload, true)
	case lending.OpPrincipalReduction:
		err = e.undoPrincipalReduction(ctx, &res, op.Payload)
	case lending.OpInterest:
		err = e.undoInterest(ctx, &res, op.Payload)
	case lending.OpExpense:
		err = e.undoExpense(ctx, &res, op.Payload)
	case lending.OpStateChange:
		err = e.undoStateChange(ctx, &res, op.Payload)
	default:
		err = lending.ErrNothingToUndo
	}
	if err != nil {
		return res, err
	}

	if err := e.store.History().MarkUndone(ctx, op.ID); err != nil {
		e.log.Error().Str("op_id", op.ID).Err(err).
			Msg("history entry not marked undone after successful inversion")
	}

	e.mu.Lock()
	e.undoStreak[key] = streak + 1
	e.mu.Unlock()

	payload := op.Payload
	res.Reverted = &payload
	return res, nil
}

// =============================================================================
// INVERSE PROCEDURES
// =============================================================================

// undoCreate removes the order and its replicas and reverses the creation
// deltas. Per the current-value rule the reversal targets the order's current
// state family, group, class, date and amount.
func (e *Engine) undoCreate(ctx context.Context, res *Result, p lending.OperationPayload) error {
	o, err := e.store.Orders().Get(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if err := e.store.Orders().Delete(ctx, o); err != nil {
		return err
	}

	deltas := []lending.Delta{
		{Family: lending.StateFamily(o.State), Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID, Day: lending.DateOf(o.Date)},
	}
	if !o.Historical {
		deltas = append(deltas,
			lending.Delta{Family: lending.ClassFamily(o.Class), Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID},
			lending.Delta{Family: lending.FamilyLiquidFunds, Amount: o.Amount},
		)
	}
	e.applyDeltas(ctx, res, deltas)
	return nil
}

// undoSettlement reverts a completion (end or breach_end): the order returns
// to its pre-settlement state, the settlement income record is soft-undone,
// and the principal moves back from the settled counters to the outstanding
// ones. Grouped deltas go to the order's CURRENT group so a group correction
// made after settlement is respected.
func (e *Engine) undoSettlement(ctx context.Context, res *Result, p lending.OperationPayload, breach bool) error {
	orders := e.store.Orders()
	o, err := orders.Get(ctx, p.OrderID)
	if err != nil {
		return err
	}

	prev := o
	o.State = p.PrevState
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return err
	}

	if p.IncomeID != "" {
		if err := e.store.Income().MarkUndone(ctx, p.IncomeID); err != nil {
			return err
		}
	}

	fromFamily, toFamily := lending.FamilyValid, lending.FamilyCompleted
	if breach {
		fromFamily, toFamily = lending.FamilyBreach, lending.FamilyBreachEnd
	}
	e.applyDeltas(ctx, res, []lending.Delta{
		{Family: toFamily, Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID, Day: p.Day},
		{Family: fromFamily, Count: 1, Amount: o.Amount, Group: o.GroupID, Day: lending.DateOf(o.Date)},
		{Family: lending.FamilyLiquidFunds, Amount: o.Amount.Neg()},
	})
	res.IncomeID = p.IncomeID
	return nil
}

// undoPrincipalReduction restores the repaid principal onto the order. The
// order must still exist under the channel recorded at reduction time;
// otherwise the reduction is no longer attributable and the undo fails.
func (e *Engine) undoPrincipalReduction(ctx context.Context, res *Result, p lending.OperationPayload) error {
	orders := e.store.Orders()
	o, err := orders.Get(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if o.ChannelID != p.ChannelID {
		return lending.ErrOrderNotFound
	}

	prev := o
	o.Amount = o.Amount.Add(p.Amount)
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return err
	}

	if p.IncomeID != "" {
		if err := e.store.Income().MarkUndone(ctx, p.IncomeID); err != nil {
			return err
		}
	}

	e.applyDeltas(ctx, res, []lending.Delta{
		{Family: lending.StateFamily(o.State), Amount: p.Amount, Group: o.GroupID, Day: lending.DateOf(o.Date)},
		{Family: lending.FamilyCompleted, Amount: p.Amount.Neg(), Group: o.GroupID, Day: p.Day},
		{Family: lending.FamilyLiquidFunds, Amount: p.Amount.Neg()},
	})
	res.IncomeID = p.IncomeID
	return nil
}

// undoInterest soft-undoes the interest record and reverses the interest and
// liquidity credits. Entries from before income linking carry no record id;
// those reverse the counters only, with a warning.
func (e *Engine) undoInterest(ctx context.Context, res *Result, p lending.OperationPayload) error {
	if p.IncomeID == "" {
		e.log.Warn().Str("order_id", string(p.OrderID)).
			Msg("interest entry has no linked income record; reversing counters only")
	} else {
		if err := e.store.Income().MarkUndone(ctx, p.IncomeID); err != nil {
			return err
		}
	}

	e.applyDeltas(ctx, res, []lending.Delta{
		{Family: lending.FamilyInterest, Amount: p.Amount.Neg(), Group: p.GroupID, Day: p.Day},
		{Family: lending.FamilyLiquidFunds, Amount: p.Amount.Neg()},
	})
	res.IncomeID = p.IncomeID
	return nil
}

// undoExpense hard-deletes the expense record (the single exception to the
// soft-undo rule) and refunds liquid funds.
func (e *Engine) undoExpense(ctx context.Context, res *Result, p lending.OperationPayload) error {
	if err := e.store.Income().DeleteExpense(ctx, p.IncomeID); err != nil {
		return err
	}

	e.applyDeltas(ctx, res, []lending.Delta{
		{Family: lending.FamilyExpense, Amount: p.Amount.Neg(), Day: p.Day},
		{Family: lending.FamilyLiquidFunds, Amount: p.Amount},
	})
	res.IncomeID = p.IncomeID
	return nil
}

// undoStateChange restores the previous state. Only a transition that crossed
// the breach boundary moved counters, so only that case moves them back.
func (e *Engine) undoStateChange(ctx context.Context, res *Result, p lending.OperationPayload) error {
	orders := e.store.Orders()
	o, err := orders.Get(ctx, p.OrderID)
	if err != nil {
		return err
	}

	prev := o
	o.State = p.PrevState
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return err
	}

	if p.NewState == lending.StateBreach && p.PrevState.Live() {
		orderDay := lending.DateOf(o.Date)
		e.applyDeltas(ctx, res, []lending.Delta{
			{Family: lending.FamilyBreach, Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID, Day: orderDay},
			{Family: lending.FamilyValid, Count: 1, Amount: o.Amount, Group: o.GroupID, Day: orderDay},
		})
	}
	return nil
}

// UndoStreak reports the scope's current consecutive-undo count. Chat-facing
// callers use it to warn before the ceiling is hit.
func (e *Engine) UndoStreak(actor lending.ActorID, channel lending.ChannelID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.undoStreak[scopeKey{actor, channel}]
}

// IsUndoExhausted reports whether err means the scope has nothing left or is
// over the ceiling, as opposed to a store failure.
func IsUndoExhausted(err error) bool {
	return errors.Is(err, lending.ErrNothingToUndo) || errors.Is(err, lending.ErrUndoLimitExceeded)
}
