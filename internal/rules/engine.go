package rules

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
	"merchant-guard/internal/eventlog"
)

// EventSource is the read side of the event log.
type EventSource interface {
	Query(ctx context.Context, storeID uuid.UUID, types []domain.EventType, r eventlog.Range) ([]domain.Event, error)
}

// Result is the outcome of one rule evaluation.
type Result struct {
	Triggered bool
	Evidence  domain.Document
}

// Evaluate runs a rule's condition against the store's events as of now. It never writes;
// empty windows and missing payload fields evaluate to "not triggered".
func Evaluate(ctx context.Context, rule domain.Rule, src EventSource, now time.Time) (Result, error) {
	switch rule.Type {
	case domain.RuleRefundSpike:
		cond, err := DecodeRefundSpike(rule.Conditions)
		if err != nil {
			return Result{}, err
		}
		return evaluateRefundSpike(ctx, rule.StoreID, cond, src, now)
	case domain.RulePaymentFailureStreak:
		cond, err := DecodePaymentFailureStreak(rule.Conditions)
		if err != nil {
			return Result{}, err
		}
		return evaluatePaymentFailureStreak(ctx, rule.StoreID, cond, src, now)
	case domain.RuleUnfulfilled72h:
		cond, err := DecodeUnfulfilled(rule.Conditions)
		if err != nil {
			return Result{}, err
		}
		return evaluateUnfulfilled(ctx, rule.StoreID, cond, src, now)
	default:
		return Result{}, fmt.Errorf("evaluate rule %s: unsupported rule type %q", rule.ID, rule.Type)
	}
}

func evaluateRefundSpike(ctx context.Context, storeID uuid.UUID, cond RefundSpikeConditions, src EventSource, now time.Time) (Result, error) {
	window := eventlog.Since(now, cond.TimeWindow)
	refunds, err := src.Query(ctx, storeID, []domain.EventType{domain.EventRefundCreated}, window)
	if err != nil {
		return Result{}, err
	}

	evidence := domain.Document{
		"refund_count":    len(refunds),
		"minimum_refunds": cond.MinimumRefunds,
		"threshold":       cond.Threshold,
		"time_window":     cond.TimeWindow.String(),
	}
	if len(refunds) < cond.MinimumRefunds {
		return Result{Evidence: evidence}, nil
	}

	orders, err := src.Query(ctx, storeID, []domain.EventType{domain.EventOrderCreated}, window)
	if err != nil {
		return Result{}, err
	}
	evidence["order_count"] = len(orders)
	if len(orders) == 0 {
		return Result{Evidence: evidence}, nil
	}

	rate := float64(len(refunds)) / float64(len(orders))
	evidence["rate"] = rate
	if rate <= cond.Threshold {
		return Result{Evidence: evidence}, nil
	}

	total := decimal.Zero
	for _, refund := range refunds {
		if amount, ok := refund.Metadata.Decimal("amount"); ok {
			total = total.Add(amount)
		}
	}
	evidence["refund_amount"] = total.String()
	latest := refunds[len(refunds)-1]
	if orderID := latest.Metadata.String("order_id"); orderID != "" {
		evidence["order_id"] = orderID
	}
	return Result{Triggered: true, Evidence: evidence}, nil
}

// evaluatePaymentFailureStreak measures the longest run of failures whose adjacent gaps are at
// most ConsecutiveGap; it triggers when that run holds at least ConsecutiveFailures events.
func evaluatePaymentFailureStreak(ctx context.Context, storeID uuid.UUID, cond PaymentFailureStreakConditions, src EventSource, now time.Time) (Result, error) {
	failures, err := src.Query(ctx, storeID, []domain.EventType{domain.EventPaymentFailed}, eventlog.Since(now, cond.TimeWindow))
	if err != nil {
		return Result{}, err
	}

	start, length := longestRun(failures, ConsecutiveGap)
	evidence := domain.Document{
		"failure_count":        len(failures),
		"consecutive_run":      length,
		"consecutive_failures": cond.ConsecutiveFailures,
		"time_window":          cond.TimeWindow.String(),
	}
	if length < cond.ConsecutiveFailures {
		return Result{Evidence: evidence}, nil
	}

	run := failures[start : start+length]
	total := decimal.Zero
	for _, failure := range run {
		if amount, ok := failure.Metadata.Decimal("amount"); ok {
			total = total.Add(amount)
		}
	}
	evidence["failed_amount"] = total.String()
	for i := len(run) - 1; i >= 0; i-- {
		if _, ok := evidence["payment_intent_id"]; !ok {
			if id := run[i].Metadata.String("payment_intent_id"); id != "" {
				evidence["payment_intent_id"] = id
			}
		}
		if _, ok := evidence["customer_email"]; !ok {
			if email := run[i].Metadata.String("customer_email"); email != "" {
				evidence["customer_email"] = email
			}
		}
	}
	return Result{Triggered: true, Evidence: evidence}, nil
}

// longestRun returns the start index and length of the longest run of events whose
// adjacent gaps are at most gap. Events must be ordered by creation time.
func longestRun(events []domain.Event, gap time.Duration) (int, int) {
	if len(events) == 0 {
		return 0, 0
	}
	bestStart, bestLen := 0, 1
	start := 0
	for i := 1; i < len(events); i++ {
		if events[i].CreatedAt.Sub(events[i-1].CreatedAt) > gap {
			start = i
		}
		if n := i - start + 1; n > bestLen {
			bestStart, bestLen = start, n
		}
	}
	return bestStart, bestLen
}

func evaluateUnfulfilled(ctx context.Context, storeID uuid.UUID, cond UnfulfilledConditions, src EventSource, now time.Time) (Result, error) {
	cutoff := now.Add(-cond.Age())
	orders, err := src.Query(ctx, storeID, []domain.EventType{domain.EventOrderCreated}, eventlog.Range{Before: cutoff})
	if err != nil {
		return Result{}, err
	}
	evidence := domain.Document{
		"hours_threshold": cond.HoursThreshold,
		"minimum_value":   cond.MinimumValue.String(),
		"orders_checked":  len(orders),
	}
	if len(orders) == 0 {
		return Result{Evidence: evidence}, nil
	}

	fulfillments, err := src.Query(ctx, storeID, []domain.EventType{domain.EventFulfillmentCreated}, eventlog.Range{})
	if err != nil {
		return Result{}, err
	}
	fulfilled := make(map[string]struct{}, len(fulfillments))
	for _, f := range fulfillments {
		if id := eventOrderID(f, "order_id"); id != "" {
			fulfilled[id] = struct{}{}
		}
	}

	var (
		first     *domain.Event
		value     decimal.Decimal
		violating int
	)
	for i := range orders {
		order := orders[i]
		id := eventOrderID(order, "id")
		if id == "" {
			continue
		}
		if _, ok := fulfilled[id]; ok {
			continue
		}
		price, ok := order.Metadata.Decimal("total_price")
		if !ok {
			price, _ = order.Payload.Decimal("total_price")
		}
		if price.LessThan(cond.MinimumValue) {
			continue
		}
		violating++
		if first == nil {
			first = &orders[i]
			value = price
		}
	}
	evidence["violating_orders"] = violating
	if first == nil {
		return Result{Evidence: evidence}, nil
	}

	placed := orderPlacedAt(*first)
	evidence["order_id"] = eventOrderID(*first, "id")
	evidence["order_value"] = value.String()
	evidence["days_unfulfilled"] = int(math.Round(now.Sub(placed).Hours() / 24))
	evidence["order_created_at"] = placed.UTC().Format(time.RFC3339)
	if email := first.Metadata.String("customer_email"); email != "" {
		evidence["customer_email"] = email
	}
	return Result{Triggered: true, Evidence: evidence}, nil
}

// eventOrderID prefers the projected order id and falls back to the raw payload key.
func eventOrderID(e domain.Event, payloadKey string) string {
	if id := e.Metadata.String("order_id"); id != "" {
		return id
	}
	return e.Payload.String(payloadKey)
}

func orderPlacedAt(e domain.Event) time.Time {
	for _, doc := range []domain.Document{e.Metadata, e.Payload} {
		if raw := doc.String("created_at"); raw != "" {
			if t, err := time.Parse(time.RFC3339, raw); err == nil {
				return t
			}
		}
	}
	return e.CreatedAt
}
