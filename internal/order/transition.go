// Package order owns the order lifecycle and the positions derived from
// fills. All mutation goes through Manager; Transition is the pure state
// transition function it applies.
package order

import (
	"fmt"

	"github.com/shopspring/decimal"

	"nifty-engine/internal/model"
)

// Outcome describes what Transition did with an event.
type Outcome int

const (
	OutcomeApplied   Outcome = iota // status and/or fills changed
	OutcomeClamped                  // fill exceeded the remaining quantity and was cut
	OutcomeAnnotated                // stale ack: only the broker id was recorded
	OutcomeIgnored                  // order already terminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeClamped:
		return "clamped"
	case OutcomeAnnotated:
		return "annotated"
	case OutcomeIgnored:
		return "ignored"
	}
	return "unknown"
}

// Transition applies ev to o and returns the new order. It never mutates
// its input. Any event for a terminal order is ignored, so whichever of
// fill and cancel lands first is authoritative.
func Transition(o model.Order, ev model.OrderEvent) (model.Order, Outcome, error) {
	if ev.OrderID != "" && ev.OrderID != o.ID {
		return o, OutcomeIgnored, fmt.Errorf("%w: event for %s applied to %s", ErrInvalidEvent, ev.OrderID, o.ID)
	}
	if o.IsTerminal() {
		return o, OutcomeIgnored, nil
	}

	next := o
	if !ev.At.IsZero() {
		next.UpdatedAt = ev.At
	}
	if next.BrokerOrderID == "" && ev.BrokerOrderID != "" {
		next.BrokerOrderID = ev.BrokerOrderID
	}

	switch ev.Kind {
	case model.EventSubmitted:
		if o.Status != model.StatusPending {
			return next, OutcomeAnnotated, nil
		}
		next.Status = model.StatusSubmitted
		return next, OutcomeApplied, nil

	case model.EventFill:
		if ev.Qty <= 0 || !ev.Price.IsPositive() {
			return o, OutcomeIgnored, fmt.Errorf("%w: fill qty=%d price=%s", ErrInvalidEvent, ev.Qty, ev.Price)
		}
		outcome := OutcomeApplied
		qty := ev.Qty
		if rem := o.Remaining(); qty > rem {
			qty = rem
			outcome = OutcomeClamped
		}
		filled := decimal.NewFromInt(o.FilledQty)
		total := o.FilledQty + qty
		next.AvgFillPrice = o.AvgFillPrice.Mul(filled).
			Add(ev.Price.Mul(decimal.NewFromInt(qty))).
			Div(decimal.NewFromInt(total))
		next.FilledQty = total
		if total == o.Quantity {
			next.Status = model.StatusFilled
		} else {
			next.Status = model.StatusPartiallyFilled
		}
		return next, outcome, nil

	case model.EventReject:
		next.Status = model.StatusRejected
		next.Reason = ev.Reason
		return next, OutcomeApplied, nil

	case model.EventCancelled:
		next.Status = model.StatusCancelled
		if ev.Reason != "" {
			next.Reason = ev.Reason
		}
		return next, OutcomeApplied, nil
	}
	return o, OutcomeIgnored, fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, ev.Kind)
}
