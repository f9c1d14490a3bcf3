/*
Package engine coordinates the write path of the lending core.

PURPOSE:
  Every business action runs the same pipeline: validate → mutate the order
  store (canonical row + replicas, atomic) → record income/expense → apply
  signed deltas to the three statistics tiers → append an operation-history
  entry. Undo runs the same components in reverse, driven by the history
  entry's captured payload (undo.go). Reconciliation re-derives any aggregate
  row from the source-of-truth tables (reconcile.go).

CONSISTENCY MODEL:
  The order of record is authoritative. A statistics tier that fails to
  update after the order mutation committed is NOT rolled back: the failure
  is logged, attached to the action result as a drift warning, and repaired
  by Reconcile. History appends are best-effort audit and never fail the
  action they document.

DAY ATTRIBUTION:
  Outstanding-principal counters (valid/breach) live on the business day of
  the ORDER DATE; money-movement counters (completed, breach_end, interest,
  expense) live on the business day the action happened. Reconcile uses the
  same rule.

SEE ALSO:
  - lending/store.go: The persistence interfaces this package drives
  - undo.go: The per-operation-type inverse procedures
*/
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/lending"
)

// DefaultUndoLimit bounds consecutive undos per (actor, channel).
const DefaultUndoLimit = 3

// Options configures an Engine. Zero values get sensible defaults.
type Options struct {
	Clock       lending.Clock
	Logger      zerolog.Logger
	CutoverHour int // business-day cutover hour, default 23
	UndoLimit   int // consecutive-undo ceiling, default 3
}

// Engine runs business actions against a lending.Store.
type Engine struct {
	store       lending.Store
	clock       lending.Clock
	log         zerolog.Logger
	cutoverHour int
	undoLimit   int

	// Consecutive-undo counters, keyed per actor+channel so actors cannot
	// interfere with each other. The only cross-request state held outside
	// the persisted store.
	mu         sync.Mutex
	undoStreak map[scopeKey]int
}

type scopeKey struct {
	Actor   lending.ActorID
	Channel lending.ChannelID
}

func New(store lending.Store, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = lending.SystemClock{}
	}
	if opts.CutoverHour == 0 {
		opts.CutoverHour = lending.DefaultCutoverHour
	}
	if opts.UndoLimit == 0 {
		opts.UndoLimit = DefaultUndoLimit
	}
	return &Engine{
		store:       store,
		clock:       opts.Clock,
		log:         opts.Logger,
		cutoverHour: opts.CutoverHour,
		undoLimit:   opts.UndoLimit,
		undoStreak:  make(map[scopeKey]int),
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// Applied records one tier mutation that actually committed. Returned so the
// caller can render exactly which counters were touched before any failure.
type Applied struct {
	Tier   lending.Tier
	Key    string
	Family lending.CounterFamily
	Count  int64
	Amount decimal.Decimal
}

// Drift records one tier mutation that failed after the order of record had
// already committed. Non-fatal: the row is repaired by Reconcile.
type Drift struct {
	Tier   lending.Tier
	Key    string
	Family lending.CounterFamily
	Err    error
}

// Result is the structured outcome of a business action.
type Result struct {
	Op       lending.OperationType
	OrderID  lending.OrderID
	IncomeID string
	Touched  []Applied
	Drift    []Drift

	// Reverted holds the inverted operation's payload after an undo.
	Reverted *lending.OperationPayload
}

// =============================================================================
// DELTA APPLICATION
// =============================================================================

// application is one tier-level counter mutation.
type application struct {
	tier   lending.Tier
	day    time.Time
	group  lending.GroupID
	family lending.CounterFamily
	count  int64
	amount decimal.Decimal
}

// expand turns one logical delta into its tier applications: Global always,
// Grouped when a group is set, Daily when the family is daily-tracked and a
// day is supplied.
func expand(d lending.Delta) []application {
	apps := []application{{tier: lending.TierGlobal, family: d.Family, count: d.Count, amount: d.Amount}}
	if d.Group != "" {
		apps = append(apps, application{tier: lending.TierGrouped, group: d.Group, family: d.Family, count: d.Count, amount: d.Amount})
	}
	if d.Family.DailyTracked() && !d.Day.IsZero() {
		apps = append(apps, application{tier: lending.TierDaily, day: d.Day, family: d.Family, count: d.Count, amount: d.Amount})
	}
	return apps
}

func (e *Engine) applyDeltas(ctx context.Context, res *Result, deltas []lending.Delta) {
	var apps []application
	for _, d := range deltas {
		apps = append(apps, expand(d)...)
	}
	e.applyApplications(ctx, res, apps)
}

func (e *Engine) applyApplications(ctx context.Context, res *Result, apps []application) {
	stats := e.store.Stats()
	for _, a := range apps {
		var (
			err error
			key string
		)
		switch a.tier {
		case lending.TierGlobal:
			key = lending.GlobalKey
			err = stats.ApplyGlobal(ctx, a.family, a.count, a.amount)
		case lending.TierGrouped:
			key = string(a.group)
			err = stats.ApplyGrouped(ctx, a.group, a.family, a.count, a.amount)
		case lending.TierDaily:
			key = a.day.Format("2006-01-02")
			err = stats.ApplyDaily(ctx, a.day, a.family, a.count, a.amount)
		}
		if err != nil {
			// Ledger drift: the order of record already committed, so the
			// failed tier is flagged for reconciliation, not rolled back.
			e.log.Warn().
				Str("tier", string(a.tier)).
				Str("key", key).
				Str("family", string(a.family)).
				Err(err).
				Msg("statistics tier update failed; row needs reconciliation")
			res.Drift = append(res.Drift, Drift{Tier: a.tier, Key: key, Family: a.family, Err: err})
			continue
		}
		res.Touched = append(res.Touched, Applied{Tier: a.tier, Key: key, Family: a.family, Count: a.count, Amount: a.amount})
	}
}

// =============================================================================
// SHARED HELPERS
// =============================================================================

// businessDay maps the current wall-clock moment to its business day.
func (e *Engine) businessDay() time.Time {
	return lending.BusinessDayAt(e.clock.Now(), e.cutoverHour)
}

// recordHistory appends an operation entry and resets the actor's undo
// streak. Append failures are logged and swallowed: audit must never fail
// the business action it documents.
func (e *Engine) recordHistory(ctx context.Context, actor lending.ActorID, channel lending.ChannelID, typ lending.OperationType, payload lending.OperationPayload) {
	op := lending.Operation{
		ID:        uuid.NewString(),
		ActorID:   actor,
		ChannelID: channel,
		Type:      typ,
		Payload:   payload,
		CreatedAt: e.clock.Now(),
	}
	if err := e.store.History().Append(ctx, op); err != nil {
		e.log.Error().
			Str("actor", string(actor)).
			Str("channel", string(channel)).
			Str("op", string(typ)).
			Err(err).
			Msg("operation history append failed; action is not undoable")
	}
	e.resetStreak(actor, channel)
}

func (e *Engine) resetStreak(actor lending.ActorID, channel lending.ChannelID) {
	e.mu.Lock()
	delete(e.undoStreak, scopeKey{actor, channel})
	e.mu.Unlock()
}

func (e *Engine) newIncome(typ lending.IncomeType, amount decimal.Decimal, day time.Time, actor lending.ActorID) lending.IncomeRecord {
	return lending.IncomeRecord{
		ID:        uuid.NewString(),
		Date:      day,
		Type:      typ,
		Amount:    amount,
		CreatedBy: actor,
		CreatedAt: e.clock.Now(),
	}
}

// =============================================================================
// ORDER CREATION
// =============================================================================

// CreateOrder validates the intent, inserts the canonical order with its
// replica fan-out, seeds the statistics tiers, and appends history.
func (e *Engine) CreateOrder(ctx context.Context, in lending.Intent, actor lending.ActorID) (Result, error) {
	in, err := lending.ValidateIntent(in)
	if err != nil {
		return Result{}, err
	}

	o := lending.OrderFromIntent(in, e.clock.Now())
	res := Result{Op: lending.OpOrderCreated, OrderID: o.ID}

	if err := e.store.Orders().Insert(ctx, o); err != nil {
		return res, err
	}

	orderDay := lending.DateOf(o.Date)
	deltas := []lending.Delta{
		{Family: lending.StateFamily(o.State), Count: 1, Amount: o.Amount, Group: o.GroupID, Day: orderDay},
	}
	// Historical imports never touch the acquisition or liquidity meters;
	// only the outstanding-order counters see them.
	if !o.Historical {
		deltas = append(deltas,
			lending.Delta{Family: lending.ClassFamily(o.Class), Count: 1, Amount: o.Amount, Group: o.GroupID},
			lending.Delta{Family: lending.FamilyLiquidFunds, Amount: o.Amount.Neg()},
		)
	}
	e.applyDeltas(ctx, &res, deltas)

	e.recordHistory(ctx, actor, o.ChannelID, lending.OpOrderCreated, lending.OperationPayload{
		OrderID:    o.ID,
		NewState:   o.State,
		Amount:     o.Amount,
		GroupID:    o.GroupID,
		Class:      o.Class,
		Historical: o.Historical,
		ChannelID:  o.ChannelID,
		Day:        orderDay,
	})
	return res, nil
}

// =============================================================================
// COMPLETION PROCEDURES
// =============================================================================

// CompleteOrder settles a live (normal or overdue) order: state becomes end,
// the principal moves from the valid counters to the completed counters, the
// settlement is credited to liquid funds, and a completed income record is
// written. This is the only path into the end state.
func (e *Engine) CompleteOrder(ctx context.Context, id lending.OrderID, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	return e.settle(ctx, id, actor, channel, false)
}

// CompleteBreach settles a breached order: breach → breach_end. The only
// path into breach_end; the generic transition path never reaches it.
func (e *Engine) CompleteBreach(ctx context.Context, id lending.OrderID, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	return e.settle(ctx, id, actor, channel, true)
}

func (e *Engine) settle(ctx context.Context, id lending.OrderID, actor lending.ActorID, channel lending.ChannelID, fromBreach bool) (Result, error) {
	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}

	var (
		target     lending.OrderState
		fromFamily lending.CounterFamily
		toFamily   lending.CounterFamily
		incomeType lending.IncomeType
		opType     lending.OperationType
	)
	if fromBreach {
		target, fromFamily, toFamily = lending.StateBreachEnd, lending.FamilyBreach, lending.FamilyBreachEnd
		incomeType, opType = lending.IncomeBreachEnd, lending.OpOrderBreachEnd
		if o.State != lending.StateBreach {
			return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: target}
		}
	} else {
		target, fromFamily, toFamily = lending.StateEnd, lending.FamilyValid, lending.FamilyCompleted
		incomeType, opType = lending.IncomeCompleted, lending.OpOrderCompleted
		if !o.State.Live() {
			return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: target}
		}
	}

	prev := o
	o.State = target
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	res := Result{Op: opType, OrderID: o.ID}
	day := e.businessDay()

	rec := e.newIncome(incomeType, o.Amount, day, actor)
	rec.OrderID = o.ID
	rec.GroupID = o.GroupID
	rec.Class = o.Class
	if err := e.store.Income().Insert(ctx, rec); err != nil {
		return res, err
	}
	res.IncomeID = rec.ID

	e.applyDeltas(ctx, &res, []lending.Delta{
		{Family: fromFamily, Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID, Day: lending.DateOf(o.Date)},
		{Family: toFamily, Count: 1, Amount: o.Amount, Group: o.GroupID, Day: day},
		{Family: lending.FamilyLiquidFunds, Amount: o.Amount},
	})

	e.recordHistory(ctx, actor, channel, opType, lending.OperationPayload{
		OrderID:   o.ID,
		PrevState: prev.State,
		NewState:  target,
		Amount:    o.Amount,
		GroupID:   o.GroupID,
		Class:     o.Class,
		IncomeID:  rec.ID,
		ChannelID: channel,
		Day:       day,
	})
	return res, nil
}

// =============================================================================
// GENERIC STATE TRANSITIONS
// =============================================================================

// TransitionState moves an order along the generic transition set
// (normal↔overdue, one-way into breach). Terminal targets are rejected here:
// end and breach_end are reachable only through the completion procedures.
func (e *Engine) TransitionState(ctx context.Context, id lending.OrderID, newState lending.OrderState, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !newState.Known() || newState.Terminal() || !lending.CanTransition(o.State, newState) {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: newState}
	}

	prev := o
	o.State = newState
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	res := Result{Op: lending.OpStateChange, OrderID: o.ID}

	// normal↔overdue stays inside the valid family; only the breach
	// boundary moves principal between counter families.
	if newState == lending.StateBreach {
		orderDay := lending.DateOf(o.Date)
		e.applyDeltas(ctx, &res, []lending.Delta{
			{Family: lending.FamilyValid, Count: -1, Amount: o.Amount.Neg(), Group: o.GroupID, Day: orderDay},
			{Family: lending.FamilyBreach, Count: 1, Amount: o.Amount, Group: o.GroupID, Day: orderDay},
		})
	}

	e.recordHistory(ctx, actor, channel, lending.OpStateChange, lending.OperationPayload{
		OrderID:   o.ID,
		PrevState: prev.State,
		NewState:  newState,
		Amount:    o.Amount,
		GroupID:   o.GroupID,
		ChannelID: channel,
		Day:       e.businessDay(),
	})
	return res, nil
}

// =============================================================================
// INCOME ACTIONS
// =============================================================================

// InterestArgs describes an interest receipt. OrderID is optional: interest
// can be booked against a group without a specific order.
type InterestArgs struct {
	OrderID lending.OrderID
	GroupID lending.GroupID
	Class   lending.CustomerClass
	Amount  decimal.Decimal
	Note    string
}

// RecordInterest books received interest: income record, interest counters
// on all three tiers, liquid funds credit.
func (e *Engine) RecordInterest(ctx context.Context, args InterestArgs, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	if !args.Amount.IsPositive() {
		return Result{}, &lending.IntentError{Field: "amount", Reason: "must be positive"}
	}

	res := Result{Op: lending.OpInterest, OrderID: args.OrderID}
	day := e.businessDay()

	rec := e.newIncome(lending.IncomeInterest, args.Amount, day, actor)
	rec.OrderID = args.OrderID
	rec.GroupID = args.GroupID
	rec.Class = args.Class
	rec.Note = args.Note
	if err := e.store.Income().Insert(ctx, rec); err != nil {
		return res, err
	}
	res.IncomeID = rec.ID

	e.applyDeltas(ctx, &res, []lending.Delta{
		{Family: lending.FamilyInterest, Amount: args.Amount, Group: args.GroupID, Day: day},
		{Family: lending.FamilyLiquidFunds, Amount: args.Amount},
	})

	e.recordHistory(ctx, actor, channel, lending.OpInterest, lending.OperationPayload{
		OrderID:   args.OrderID,
		Amount:    args.Amount,
		GroupID:   args.GroupID,
		IncomeID:  rec.ID,
		ChannelID: channel,
		Day:       day,
	})
	return res, nil
}

// ReducePrincipal books a partial repayment: the order's amount shrinks, the
// repaid principal moves from the valid amount to the completed amount, and
// liquid funds are credited. The order must remain positive; full repayment
// goes through CompleteOrder instead.
func (e *Engine) ReducePrincipal(ctx context.Context, id lending.OrderID, amount decimal.Decimal, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, &lending.IntentError{Field: "amount", Reason: "must be positive"}
	}

	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o.State.Terminal() {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: o.State}
	}
	if amount.GreaterThanOrEqual(o.Amount) {
		return Result{}, &lending.IntentError{Field: "amount", Reason: "reduction must leave a positive principal"}
	}

	prev := o
	o.Amount = o.Amount.Sub(amount)
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	res := Result{Op: lending.OpPrincipalReduction, OrderID: o.ID}
	day := e.businessDay()

	rec := e.newIncome(lending.IncomePrincipalReduction, amount, day, actor)
	rec.OrderID = o.ID
	rec.GroupID = o.GroupID
	rec.Class = o.Class
	if err := e.store.Income().Insert(ctx, rec); err != nil {
		return res, err
	}
	res.IncomeID = rec.ID

	stateFamily := lending.StateFamily(o.State)
	e.applyDeltas(ctx, &res, []lending.Delta{
		{Family: stateFamily, Amount: amount.Neg(), Group: o.GroupID, Day: lending.DateOf(o.Date)},
		{Family: lending.FamilyCompleted, Amount: amount, Group: o.GroupID, Day: day},
		{Family: lending.FamilyLiquidFunds, Amount: amount},
	})

	e.recordHistory(ctx, actor, channel, lending.OpPrincipalReduction, lending.OperationPayload{
		OrderID:   o.ID,
		Amount:    amount,
		GroupID:   o.GroupID,
		IncomeID:  rec.ID,
		ChannelID: channel,
		Day:       day,
	})
	return res, nil
}

// RecordExpense books an outgoing payment (company or other): an expense
// record, the daily expense counter, and a liquid funds debit.
func (e *Engine) RecordExpense(ctx context.Context, kind lending.IncomeType, amount decimal.Decimal, note string, actor lending.ActorID, channel lending.ChannelID) (Result, error) {
	if !kind.IsExpense() {
		return Result{}, &lending.IntentError{Field: "type", Reason: "must be an expense type"}
	}
	if !amount.IsPositive() {
		return Result{}, &lending.IntentError{Field: "amount", Reason: "must be positive"}
	}

	res := Result{Op: lending.OpExpense}
	day := e.businessDay()

	rec := e.newIncome(kind, amount, day, actor)
	rec.Note = note
	if err := e.store.Income().Insert(ctx, rec); err != nil {
		return res, err
	}
	res.IncomeID = rec.ID

	e.applyDeltas(ctx, &res, []lending.Delta{
		{Family: lending.FamilyExpense, Amount: amount, Day: day},
		{Family: lending.FamilyLiquidFunds, Amount: amount.Neg()},
	})

	e.recordHistory(ctx, actor, channel, lending.OpExpense, lending.OperationPayload{
		Amount:    amount,
		IncomeID:  rec.ID,
		ChannelID: channel,
		Day:       day,
	})
	return res, nil
}

// =============================================================================
// CORRECTIONS (not covered by undo; kept consistent, not historized)
// =============================================================================

// ChangeAmount corrects an order's principal. Replicas and the state-family
// amounts follow; for non-historical orders the acquisition amounts and the
// liquidity meter follow too.
func (e *Engine) ChangeAmount(ctx context.Context, id lending.OrderID, newAmount decimal.Decimal, actor lending.ActorID) (Result, error) {
	if !newAmount.IsPositive() {
		return Result{}, &lending.IntentError{Field: "amount", Reason: "must be positive"}
	}

	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o.State.Terminal() {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: o.State}
	}

	diff := newAmount.Sub(o.Amount)
	res := Result{OrderID: o.ID}
	if diff.IsZero() {
		return res, nil
	}

	prev := o
	o.Amount = newAmount
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	deltas := []lending.Delta{
		{Family: lending.StateFamily(o.State), Amount: diff, Group: o.GroupID, Day: lending.DateOf(o.Date)},
	}
	if !o.Historical {
		deltas = append(deltas,
			lending.Delta{Family: lending.ClassFamily(o.Class), Amount: diff, Group: o.GroupID},
			lending.Delta{Family: lending.FamilyLiquidFunds, Amount: diff.Neg()},
		)
	}
	e.applyDeltas(ctx, &res, deltas)
	e.resetStreak(actor, o.ChannelID)
	return res, nil
}

// ChangeDate corrects an order's date, recomputing the weekday bucket and
// re-homing the weekday replica. The order's outstanding counters move from
// the old business day to the new one.
func (e *Engine) ChangeDate(ctx context.Context, id lending.OrderID, newDate time.Time, actor lending.ActorID) (Result, error) {
	if newDate.IsZero() {
		return Result{}, &lending.IntentError{Field: "order_date", Reason: "missing"}
	}

	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o.State.Terminal() {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: o.State}
	}

	newDate = lending.DateOf(newDate)
	res := Result{OrderID: o.ID}
	if newDate.Equal(o.Date) {
		return res, nil
	}

	prev := o
	oldDay := lending.DateOf(o.Date)
	o.Date = newDate
	o.Weekday = lending.WeekdayBucketOf(newDate)
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	// Daily tier only: global and grouped totals are date-independent.
	f := lending.StateFamily(o.State)
	e.applyApplications(ctx, &res, []application{
		{tier: lending.TierDaily, day: oldDay, family: f, count: -1, amount: o.Amount.Neg()},
		{tier: lending.TierDaily, day: newDate, family: f, count: 1, amount: o.Amount},
	})
	e.resetStreak(actor, o.ChannelID)
	return res, nil
}

// ChangeGroup corrects an order's attribution group, re-homing the group
// replica and moving the order's grouped counters between the two rows.
func (e *Engine) ChangeGroup(ctx context.Context, id lending.OrderID, newGroup lending.GroupID, actor lending.ActorID) (Result, error) {
	if newGroup == "" {
		return Result{}, &lending.IntentError{Field: "attribution_group_id", Reason: "empty"}
	}

	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o.State.Terminal() {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: o.State}
	}

	res := Result{OrderID: o.ID}
	if newGroup == o.GroupID {
		return res, nil
	}

	prev := o
	oldGroup := o.GroupID
	o.GroupID = newGroup
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}

	f := lending.StateFamily(o.State)
	apps := []application{
		{tier: lending.TierGrouped, group: oldGroup, family: f, count: -1, amount: o.Amount.Neg()},
		{tier: lending.TierGrouped, group: newGroup, family: f, count: 1, amount: o.Amount},
	}
	if !o.Historical {
		cf := lending.ClassFamily(o.Class)
		apps = append(apps,
			application{tier: lending.TierGrouped, group: oldGroup, family: cf, count: -1, amount: o.Amount.Neg()},
			application{tier: lending.TierGrouped, group: newGroup, family: cf, count: 1, amount: o.Amount},
		)
	}
	e.applyApplications(ctx, &res, apps)
	e.resetStreak(actor, o.ChannelID)
	return res, nil
}

// ReassignChannel moves an order to a new chat channel. Channel is not a
// partition dimension, so replicas update in place and no counters move.
func (e *Engine) ReassignChannel(ctx context.Context, id lending.OrderID, newChannel lending.ChannelID, actor lending.ActorID) (Result, error) {
	if newChannel == "" {
		return Result{}, &lending.IntentError{Field: "origin_channel_id", Reason: "empty"}
	}

	orders := e.store.Orders()
	o, err := orders.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if o.State.Terminal() {
		return Result{}, &lending.TransitionError{OrderID: id, From: o.State, To: o.State}
	}

	prev := o
	o.ChannelID = newChannel
	o.UpdatedAt = e.clock.Now()
	if err := orders.Update(ctx, prev, o); err != nil {
		return Result{}, err
	}
	e.resetStreak(actor, newChannel)
	return Result{OrderID: o.ID}, nil
}

// =============================================================================
// QUERIES (pass-throughs for the chat/report collaborators)
// =============================================================================

func (e *Engine) GetOrder(ctx context.Context, id lending.OrderID) (lending.Order, error) {
	return e.store.Orders().Get(ctx, id)
}

func (e *Engine) SearchOrdersByDimension(ctx context.Context, dim lending.ReplicaDimension, value string) ([]lending.Order, error) {
	return e.store.Orders().ByDimension(ctx, dim, value)
}

func (e *Engine) GetAggregate(ctx context.Context, tier lending.Tier, key string) (lending.AggregateSet, error) {
	switch tier {
	case lending.TierGlobal:
		return e.store.Stats().GetGlobal(ctx)
	case lending.TierDaily:
		day, err := time.Parse("2006-01-02", key)
		if err != nil {
			return lending.AggregateSet{}, &lending.IntentError{Field: "key", Reason: "daily key must be YYYY-MM-DD"}
		}
		return e.store.Stats().GetDaily(ctx, day)
	case lending.TierGrouped:
		return e.store.Stats().GetGrouped(ctx, lending.GroupID(key))
	}
	return lending.AggregateSet{}, &lending.IntentError{Field: "tier", Reason: "unknown tier"}
}

func (e *Engine) SumIncome(ctx context.Context, f lending.IncomeFilter) (decimal.Decimal, int64, error) {
	return e.store.Income().Sum(ctx, f)
}

func (e *Engine) GetLastUndoable(ctx context.Context, actor lending.ActorID, channel lending.ChannelID) (lending.Operation, error) {
	return e.store.History().LastUndoable(ctx, actor, channel)
}
