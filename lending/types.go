/*
Package lending provides the core domain model for the loan consistency engine.

PURPOSE:
  This package contains the types and pure logic shared by every other part of
  the system: the canonical Order record, its state machine, the classification
  replica keys, the aggregate counter families, income/expense records, and the
  operation-history entries that make single-step undo possible.

KEY CONCEPTS IN THIS FILE (types.go):
  - Order: The canonical, mutable unit of business (one loan)
  - OrderState: normal/overdue/breach/end/breach_end with a restricted
    transition set; end and breach_end are terminal
  - Intent: A validated order-creation request produced by the (external)
    intent parser
  - IncomeRecord: One money-movement event, soft-undone rather than deleted
  - Operation: One entry of the per (actor, channel) action history, carrying
    the structured payload needed to invert the action

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for every money amount, never float64
  2. The order table is the source of truth; aggregates are a maintained cache
  3. Corrections happen through compensating mutations, never by editing history

SEE ALSO:
  - counters.go: Aggregate counter families and the three-tier counter set
  - validate.go: Intent validation
  - store.go: Persistence interfaces
*/
package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type GroupID string
type ChannelID string
type ActorID string

// =============================================================================
// ORDER STATE MACHINE
// =============================================================================

type OrderState string

const (
	StateNormal    OrderState = "normal"
	StateOverdue   OrderState = "overdue"
	StateBreach    OrderState = "breach"
	StateEnd       OrderState = "end"
	StateBreachEnd OrderState = "breach_end"
)

// Terminal reports whether the state admits no further mutation except undo.
func (s OrderState) Terminal() bool {
	return s == StateEnd || s == StateBreachEnd
}

// Live reports whether the order still counts toward the "valid" counters.
// Both normal and overdue orders are valid outstanding loans.
func (s OrderState) Live() bool {
	return s == StateNormal || s == StateOverdue
}

// Known reports whether s is one of the five defined states.
func (s OrderState) Known() bool {
	switch s {
	case StateNormal, StateOverdue, StateBreach, StateEnd, StateBreachEnd:
		return true
	}
	return false
}

// CanTransition reports whether the GENERIC transition path allows from→to.
//
// Allowed set:
//
//	normal  <-> overdue
//	{normal,overdue} -> breach     (one-way)
//
// end and breach_end are reachable only through the completion procedures
// (CompleteOrder, CompleteBreach), never through the generic path. That
// asymmetry is a business rule: completion always moves money, so it must
// always create an income record, which the generic path does not do.
func CanTransition(from, to OrderState) bool {
	switch from {
	case StateNormal:
		return to == StateOverdue || to == StateBreach
	case StateOverdue:
		return to == StateNormal || to == StateBreach
	}
	return false
}

// =============================================================================
// CLASSIFICATION DIMENSIONS
// =============================================================================

// CustomerClass partitions orders by whether the borrower is a first-time
// or returning customer. It drives the lifetime client-acquisition counters.
type CustomerClass string

const (
	ClassNew CustomerClass = "new"
	ClassOld CustomerClass = "old"
)

func (c CustomerClass) Known() bool { return c == ClassNew || c == ClassOld }

// WeekdayBucket partitions orders by the weekday of their order date.
type WeekdayBucket string

const (
	BucketMonday    WeekdayBucket = "mon"
	BucketTuesday   WeekdayBucket = "tue"
	BucketWednesday WeekdayBucket = "wed"
	BucketThursday  WeekdayBucket = "thu"
	BucketFriday    WeekdayBucket = "fri"
	BucketSaturday  WeekdayBucket = "sat"
	BucketSunday    WeekdayBucket = "sun"
)

var weekdayBuckets = [...]WeekdayBucket{
	BucketSunday, BucketMonday, BucketTuesday, BucketWednesday,
	BucketThursday, BucketFriday, BucketSaturday,
}

// WeekdayBucketOf derives the weekday bucket from an order date.
func WeekdayBucketOf(date time.Time) WeekdayBucket {
	return weekdayBuckets[int(date.Weekday())]
}

// =============================================================================
// ORDER - Canonical loan record
// =============================================================================

// Order is the canonical record of one loan. Exactly one Order exists per
// OrderID. Once State is terminal no field may change again except through
// the explicit undo path.
type Order struct {
	ID        OrderID
	GroupID   GroupID // attribution group (per-team reporting)
	ChannelID ChannelID
	Date      time.Time // order date; Weekday and the Daily bucket derive from it
	Weekday   WeekdayBucket
	Class     CustomerClass
	Amount    decimal.Decimal
	State     OrderState

	// Historical marks an order imported from before the ledger went live.
	// Historical creations never touched the liquid-funds or customer-class
	// meters, so undo must not reverse those either.
	Historical bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// INTENT - Validated order-creation request
// =============================================================================

// Intent is what the external parser produces from free-form input. It is
// validated and normalized by ValidateIntent before anything is persisted.
type Intent struct {
	OrderID    OrderID
	GroupID    GroupID
	ChannelID  ChannelID
	Date       time.Time
	Class      CustomerClass
	Amount     decimal.Decimal
	State      OrderState // initial state: normal, overdue or breach
	Historical bool
}

// =============================================================================
// INCOME / EXPENSE RECORDS
// =============================================================================

type IncomeType string

const (
	IncomeInterest           IncomeType = "interest"
	IncomeCompleted          IncomeType = "completed"
	IncomeBreachEnd          IncomeType = "breach_end"
	IncomePrincipalReduction IncomeType = "principal_reduction"
	IncomeAdjustment         IncomeType = "adjustment"
	ExpenseCompany           IncomeType = "expense_company"
	ExpenseOther             IncomeType = "expense_other"
)

// IsExpense reports whether the record debits rather than credits liquid funds.
func (t IncomeType) IsExpense() bool {
	return t == ExpenseCompany || t == ExpenseOther
}

func (t IncomeType) Known() bool {
	switch t {
	case IncomeInterest, IncomeCompleted, IncomeBreachEnd,
		IncomePrincipalReduction, IncomeAdjustment,
		ExpenseCompany, ExpenseOther:
		return true
	}
	return false
}

// IncomeRecord is one money-movement event. Immutable once written except for
// Undone, which the undo coordinator may flip. Expense records are the one
// exception to "never deleted": undoing an expense hard-deletes the row.
type IncomeRecord struct {
	ID        string
	Date      time.Time // business day the movement belongs to
	Type      IncomeType
	Amount    decimal.Decimal
	GroupID   GroupID       // optional
	OrderID   OrderID       // optional
	Class     CustomerClass // optional
	Note      string
	CreatedBy ActorID
	CreatedAt time.Time
	Undone    bool
}

// =============================================================================
// OPERATION HISTORY
// =============================================================================

type OperationType string

const (
	OpOrderCreated       OperationType = "order_created"
	OpOrderCompleted     OperationType = "order_completed"
	OpOrderBreachEnd     OperationType = "order_breach_end"
	OpPrincipalReduction OperationType = "principal_reduction"
	OpInterest           OperationType = "interest"
	OpExpense            OperationType = "expense"
	OpStateChange        OperationType = "order_state_change"
)

// OperationPayload captures the "before" data an inverse procedure needs.
// The undo path reconstructs the opposite delta from these fields; it never
// negates a stored "after" value, because unrelated mutations for other
// groups and days may have landed in between.
type OperationPayload struct {
	OrderID    OrderID         `json:"order_id,omitempty"`
	PrevState  OrderState      `json:"prev_state,omitempty"`
	NewState   OrderState      `json:"new_state,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	GroupID    GroupID         `json:"group_id,omitempty"`
	Class      CustomerClass   `json:"class,omitempty"`
	Historical bool            `json:"historical,omitempty"`
	IncomeID   string          `json:"income_id,omitempty"`
	ChannelID  ChannelID       `json:"channel_id,omitempty"`
	Day        time.Time       `json:"day,omitempty"` // business day of the forward action
}

// Operation is one entry of the append-only action history, scoped by
// (ActorID, ChannelID). The newest entry with Undone=false for a given scope
// is the only one eligible for undo.
type Operation struct {
	ID        string
	ActorID   ActorID
	ChannelID ChannelID
	Type      OperationType
	Payload   OperationPayload
	CreatedAt time.Time
	Undone    bool
}
