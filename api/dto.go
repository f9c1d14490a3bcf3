/*
dto.go - Request/response data structures for the lending API

PURPOSE:
  JSON shapes for the HTTP surface. Money amounts travel as decimal strings
  ("1500.00"), never as floats; dates travel as YYYY-MM-DD.

SEE ALSO:
  - handlers.go: Handler implementations using these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/lending-engine/engine"
	"github.com/warp/lending-engine/lending"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUESTS
// =============================================================================

type CreateOrderRequest struct {
	OrderID    string `json:"order_id"`
	GroupID    string `json:"group_id"`
	ChannelID  string `json:"channel_id"`
	Date       string `json:"date"`  // YYYY-MM-DD
	Class      string `json:"class"` // new | old
	Amount     string `json:"amount"`
	State      string `json:"state,omitempty"` // normal | overdue | breach
	Historical bool   `json:"historical,omitempty"`
	Actor      string `json:"actor"`
}

type TransitionRequest struct {
	State   string `json:"state"`
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

type CompleteRequest struct {
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

type InterestRequest struct {
	OrderID string `json:"order_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Class   string `json:"class,omitempty"`
	Amount  string `json:"amount"`
	Note    string `json:"note,omitempty"`
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

type ReduceRequest struct {
	Amount  string `json:"amount"`
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

type ExpenseRequest struct {
	Type    string `json:"type"` // expense_company | expense_other
	Amount  string `json:"amount"`
	Note    string `json:"note,omitempty"`
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

type CorrectionRequest struct {
	Amount  string `json:"amount,omitempty"`
	Date    string `json:"date,omitempty"`
	GroupID string `json:"group_id,omitempty"`
	Channel string `json:"channel,omitempty"`
	Actor   string `json:"actor"`
}

type UndoRequest struct {
	Actor   string `json:"actor"`
	Channel string `json:"channel"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type OrderDTO struct {
	OrderID    string `json:"order_id"`
	GroupID    string `json:"group_id"`
	ChannelID  string `json:"channel_id"`
	Date       string `json:"date"`
	Weekday    string `json:"weekday"`
	Class      string `json:"class"`
	Amount     string `json:"amount"`
	State      string `json:"state"`
	Historical bool   `json:"historical,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func toOrderDTO(o lending.Order) OrderDTO {
	return OrderDTO{
		OrderID:    string(o.ID),
		GroupID:    string(o.GroupID),
		ChannelID:  string(o.ChannelID),
		Date:       o.Date.Format(dateLayout),
		Weekday:    string(o.Weekday),
		Class:      string(o.Class),
		Amount:     o.Amount.String(),
		State:      string(o.State),
		Historical: o.Historical,
		CreatedAt:  o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  o.UpdatedAt.Format(time.RFC3339),
	}
}

type AppliedDTO struct {
	Tier   string `json:"tier"`
	Key    string `json:"key"`
	Family string `json:"family"`
	Count  int64  `json:"count"`
	Amount string `json:"amount"`
}

type DriftDTO struct {
	Tier   string `json:"tier"`
	Key    string `json:"key"`
	Family string `json:"family"`
	Error  string `json:"error"`
}

type ActionResponse struct {
	OK       bool         `json:"ok"`
	Op       string       `json:"op,omitempty"`
	OrderID  string       `json:"order_id,omitempty"`
	IncomeID string       `json:"income_id,omitempty"`
	Touched  []AppliedDTO `json:"touched,omitempty"`
	Drift    []DriftDTO   `json:"drift,omitempty"`
}

func toActionResponse(res engine.Result) ActionResponse {
	out := ActionResponse{
		OK:       true,
		Op:       string(res.Op),
		OrderID:  string(res.OrderID),
		IncomeID: res.IncomeID,
	}
	for _, t := range res.Touched {
		out.Touched = append(out.Touched, AppliedDTO{
			Tier:   string(t.Tier),
			Key:    t.Key,
			Family: string(t.Family),
			Count:  t.Count,
			Amount: t.Amount.String(),
		})
	}
	for _, d := range res.Drift {
		out.Drift = append(out.Drift, DriftDTO{
			Tier:   string(d.Tier),
			Key:    d.Key,
			Family: string(d.Family),
			Error:  d.Err.Error(),
		})
	}
	return out
}

type AggregateDTO struct {
	Tier             string `json:"tier"`
	Key              string `json:"key"`
	ValidOrders      int64  `json:"valid_orders"`
	ValidAmount      string `json:"valid_amount"`
	BreachOrders     int64  `json:"breach_orders"`
	BreachAmount     string `json:"breach_amount"`
	CompletedOrders  int64  `json:"completed_orders"`
	CompletedAmount  string `json:"completed_amount"`
	BreachEndOrders  int64  `json:"breach_end_orders"`
	BreachEndAmount  string `json:"breach_end_amount"`
	Interest         string `json:"interest"`
	NewClients       int64  `json:"new_clients"`
	NewClientsAmount string `json:"new_clients_amount"`
	OldClients       int64  `json:"old_clients"`
	OldClientsAmount string `json:"old_clients_amount"`
	ExpenseAmount    string `json:"expense_amount"`
	LiquidFunds      string `json:"liquid_funds"`
}

func toAggregateDTO(tier lending.Tier, key string, a lending.AggregateSet) AggregateDTO {
	return AggregateDTO{
		Tier:             string(tier),
		Key:              key,
		ValidOrders:      a.ValidOrders,
		ValidAmount:      a.ValidAmount.String(),
		BreachOrders:     a.BreachOrders,
		BreachAmount:     a.BreachAmount.String(),
		CompletedOrders:  a.CompletedOrders,
		CompletedAmount:  a.CompletedAmount.String(),
		BreachEndOrders:  a.BreachEndOrders,
		BreachEndAmount:  a.BreachEndAmount.String(),
		Interest:         a.Interest.String(),
		NewClients:       a.NewClients,
		NewClientsAmount: a.NewClientsAmount.String(),
		OldClients:       a.OldClients,
		OldClientsAmount: a.OldClientsAmount.String(),
		ExpenseAmount:    a.ExpenseAmount.String(),
		LiquidFunds:      a.LiquidFunds.String(),
	}
}

type IncomeSumResponse struct {
	Total string `json:"total"`
	Count int64  `json:"count"`
}

type OperationDTO struct {
	ID        string                   `json:"id"`
	Actor     string                   `json:"actor"`
	Channel   string                   `json:"channel"`
	Type      string                   `json:"type"`
	Payload   lending.OperationPayload `json:"payload"`
	CreatedAt string                   `json:"created_at"`
}

func toOperationDTO(op lending.Operation) OperationDTO {
	return OperationDTO{
		ID:        op.ID,
		Actor:     string(op.ActorID),
		Channel:   string(op.ChannelID),
		Type:      string(op.Type),
		Payload:   op.Payload,
		CreatedAt: op.CreatedAt.Format(time.RFC3339),
	}
}

type ReconcileResponse struct {
	Tier     string       `json:"tier"`
	Key      string       `json:"key"`
	Repaired bool         `json:"repaired"`
	Stored   AggregateDTO `json:"stored"`
	Derived  AggregateDTO `json:"derived"`
}

// parseAmount parses a decimal money string, rejecting empty input.
func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, &lending.IntentError{Field: "amount", Reason: "missing"}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, &lending.IntentError{Field: "amount", Reason: "not a decimal number"}
	}
	return d, nil
}
