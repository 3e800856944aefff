package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Validation sentinels.
var (
	ErrEmptyTopic    = errors.New("topic is required")
	ErrInvalidWindow = errors.New("invalid date window")
	ErrInvalidWeight = errors.New("precision weight out of range")
	ErrInvalidRegion = errors.New("invalid region code")
)

// ValidationError wraps a sentinel with the offending field and value.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// ValidateRequest checks a SearchRequest before it enters the pipeline.
func ValidateRequest(r SearchRequest) error {
	if strings.TrimSpace(r.Topic) == "" {
		return &ValidationError{Field: "topic", Value: r.Topic, Wrapped: ErrEmptyTopic}
	}
	if !r.Window().Valid() {
		return &ValidationError{
			Field:   "date_from/date_to",
			Value:   fmt.Sprintf("%s..%s", r.DateFrom.Format("2006-01-02"), r.DateTo.Format("2006-01-02")),
			Wrapped: ErrInvalidWindow,
		}
	}
	if r.Region != "" && len(r.Region) != 2 {
		return &ValidationError{Field: "region", Value: r.Region, Wrapped: ErrInvalidRegion}
	}
	for _, w := range []struct {
		name string
		val  int
	}{
		{"industry", r.Weights.Industry},
		{"cross_topic", r.Weights.CrossTopic},
		{"geography", r.Weights.Geography},
		{"quality", r.Weights.Quality},
		{"event_type", r.Weights.EventType},
	} {
		if w.val < 0 || w.val > 10 {
			return &ValidationError{Field: "weights." + w.name, Value: fmt.Sprint(w.val), Wrapped: ErrInvalidWeight}
		}
	}
	return nil
}
