package rules

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"merchant-guard/internal/domain"
)

// ConsecutiveGap is the largest gap between two payment failures that still counts as consecutive.
const ConsecutiveGap = 5 * time.Minute

// RefundSpikeConditions parameterises the refund-spike rule.
type RefundSpikeConditions struct {
	Threshold      float64       `mapstructure:"threshold"`
	TimeWindow     time.Duration `mapstructure:"time_window"`
	MinimumRefunds int           `mapstructure:"minimum_refunds"`
}

// PaymentFailureStreakConditions parameterises the payment-failure-streak rule.
type PaymentFailureStreakConditions struct {
	ConsecutiveFailures int           `mapstructure:"consecutive_failures"`
	TimeWindow          time.Duration `mapstructure:"time_window"`
}

// UnfulfilledConditions parameterises the unfulfilled-72h rule.
type UnfulfilledConditions struct {
	HoursThreshold float64         `mapstructure:"hours_threshold"`
	MinimumValue   decimal.Decimal `mapstructure:"minimum_value"`
}

// Age returns the hours threshold as a duration.
func (c UnfulfilledConditions) Age() time.Duration {
	return time.Duration(c.HoursThreshold * float64(time.Hour))
}

// DefaultRefundSpike returns the refund-spike bootstrap conditions.
func DefaultRefundSpike() RefundSpikeConditions {
	return RefundSpikeConditions{Threshold: 0.05, TimeWindow: 24 * time.Hour, MinimumRefunds: 3}
}

// DefaultPaymentFailureStreak returns the payment-failure-streak bootstrap conditions.
func DefaultPaymentFailureStreak() PaymentFailureStreakConditions {
	return PaymentFailureStreakConditions{ConsecutiveFailures: 3, TimeWindow: time.Hour}
}

// DefaultUnfulfilled returns the unfulfilled-72h bootstrap conditions.
func DefaultUnfulfilled() UnfulfilledConditions {
	return UnfulfilledConditions{HoursThreshold: 72, MinimumValue: decimal.NewFromInt(50)}
}

// DecodeRefundSpike decodes a condition document on top of the defaults.
func DecodeRefundSpike(doc domain.Document) (RefundSpikeConditions, error) {
	c := DefaultRefundSpike()
	if err := decodeConditions(doc, &c); err != nil {
		return c, err
	}
	if c.Threshold < 0 {
		return c, conditionError("threshold", "cannot be negative")
	}
	if c.TimeWindow <= 0 {
		return c, conditionError("time_window", "must be positive")
	}
	if c.MinimumRefunds < 0 {
		return c, conditionError("minimum_refunds", "cannot be negative")
	}
	return c, nil
}

// DecodePaymentFailureStreak decodes a condition document on top of the defaults.
func DecodePaymentFailureStreak(doc domain.Document) (PaymentFailureStreakConditions, error) {
	c := DefaultPaymentFailureStreak()
	if err := decodeConditions(doc, &c); err != nil {
		return c, err
	}
	if c.ConsecutiveFailures <= 0 {
		return c, conditionError("consecutive_failures", "must be positive")
	}
	if c.TimeWindow <= 0 {
		return c, conditionError("time_window", "must be positive")
	}
	return c, nil
}

// DecodeUnfulfilled decodes a condition document on top of the defaults.
func DecodeUnfulfilled(doc domain.Document) (UnfulfilledConditions, error) {
	c := DefaultUnfulfilled()
	if err := decodeConditions(doc, &c); err != nil {
		return c, err
	}
	if c.HoursThreshold <= 0 {
		return c, conditionError("hours_threshold", "must be positive")
	}
	return c, nil
}

// ValidateConditions checks that a rule's condition document decodes for its type.
func ValidateConditions(ruleType domain.RuleType, doc domain.Document) error {
	var err error
	switch ruleType {
	case domain.RuleRefundSpike:
		_, err = DecodeRefundSpike(doc)
	case domain.RulePaymentFailureStreak:
		_, err = DecodePaymentFailureStreak(doc)
	case domain.RuleUnfulfilled72h:
		_, err = DecodeUnfulfilled(doc)
	default:
		err = &domain.ValidationError{Entity: "rule", Field: "rule_type", Reason: fmt.Sprintf("%q is not supported", ruleType)}
	}
	return err
}

func decodeConditions(doc domain.Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			durationHook,
			decimalHook,
			numberHook,
		),
	})
	if err != nil {
		return fmt.Errorf("build condition decoder: %w", err)
	}
	if err := dec.Decode(map[string]any(doc)); err != nil {
		return &domain.ValidationError{Entity: "rule", Field: "conditions", Reason: err.Error()}
	}
	return nil
}

var (
	durationType = reflect.TypeOf(time.Duration(0))
	decimalType  = reflect.TypeOf(decimal.Decimal{})
)

// durationHook accepts Go duration strings or a number of seconds.
func durationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case string:
		s := strings.TrimSpace(v)
		if d, err := time.ParseDuration(s); err == nil {
			return d, nil
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", v)
		}
		return seconds(secs), nil
	case json.Number:
		secs, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q", v)
		}
		return seconds(secs), nil
	case float64:
		return seconds(v), nil
	case float32:
		return seconds(float64(v)), nil
	case int:
		return seconds(float64(v)), nil
	case int64:
		return seconds(float64(v)), nil
	}
	return data, nil
}

func decimalHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != decimalType {
		return data, nil
	}
	d, ok := domain.ScalarDecimal(data)
	if !ok {
		return nil, fmt.Errorf("invalid decimal %v", data)
	}
	return d, nil
}

// numberHook unwraps json.Number so weak decoding sees a plain string.
func numberHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if n, ok := data.(json.Number); ok {
		return n.String(), nil
	}
	return data, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func conditionError(field, reason string) error {
	return &domain.ValidationError{Entity: "rule", Field: "conditions." + field, Reason: reason}
}
