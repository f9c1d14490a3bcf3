/*
validate.go - Pure validation and normalization of order intents

PURPOSE:
  Everything here runs before any write. A rejected intent never reaches a
  store. Normalization fills the derived fields (weekday bucket, defaulted
  initial state) so downstream code never re-derives them.
*/
package lending

import (
	"strings"
	"time"
)

// ValidateIntent checks and normalizes an order intent. On success the
// returned intent has a known initial state, a trimmed order id and group id,
// and a UTC-normalized date. Failures wrap ErrValidation.
func ValidateIntent(in Intent) (Intent, error) {
	in.OrderID = OrderID(strings.TrimSpace(string(in.OrderID)))
	in.GroupID = GroupID(strings.TrimSpace(string(in.GroupID)))

	if in.OrderID == "" {
		return in, &IntentError{Field: "order_id", Reason: "empty"}
	}
	if in.GroupID == "" {
		return in, &IntentError{Field: "attribution_group_id", Reason: "empty"}
	}
	if in.ChannelID == "" {
		return in, &IntentError{Field: "origin_channel_id", Reason: "empty"}
	}
	if in.Date.IsZero() {
		return in, &IntentError{Field: "order_date", Reason: "missing"}
	}
	if !in.Amount.IsPositive() {
		return in, &IntentError{Field: "amount", Reason: "must be positive"}
	}
	if !in.Class.Known() {
		return in, &IntentError{Field: "customer_class", Reason: "must be new or old"}
	}

	if in.State == "" {
		in.State = StateNormal
	}
	switch in.State {
	case StateNormal, StateOverdue, StateBreach:
		// acceptable initial states
	default:
		return in, &IntentError{Field: "state", Reason: "initial state must be normal, overdue or breach"}
	}

	in.Date = DateOf(in.Date)
	return in, nil
}

// OrderFromIntent builds the canonical order record from a validated intent.
func OrderFromIntent(in Intent, now time.Time) Order {
	return Order{
		ID:         in.OrderID,
		GroupID:    in.GroupID,
		ChannelID:  in.ChannelID,
		Date:       in.Date,
		Weekday:    WeekdayBucketOf(in.Date),
		Class:      in.Class,
		Amount:     in.Amount,
		State:      in.State,
		Historical: in.Historical,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
