package domain

import (
	"errors"
	"testing"
	"time"
)

func validRequest() SearchRequest {
	return SearchRequest{
		Topic:    "compliance",
		Region:   "DE",
		DateFrom: time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
		Locale:   "de",
		Weights:  PrecisionWeights{Industry: 5, CrossTopic: 5, Geography: 5, Quality: 5, EventType: 5},
	}
}

func TestValidateRequestOK(t *testing.T) {
	if err := ValidateRequest(validRequest()); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}

func TestValidateRequestEmptyTopic(t *testing.T) {
	r := validRequest()
	r.Topic = "   "
	err := ValidateRequest(r)
	if !errors.Is(err, ErrEmptyTopic) {
		t.Fatalf("expected ErrEmptyTopic, got %v", err)
	}
}

func TestValidateRequestInvertedWindow(t *testing.T) {
	r := validRequest()
	r.DateFrom, r.DateTo = r.DateTo, r.DateFrom
	if err := ValidateRequest(r); !errors.Is(err, ErrInvalidWindow) {
		t.Fatalf("expected ErrInvalidWindow, got %v", err)
	}
}

func TestValidateRequestWeightOutOfRange(t *testing.T) {
	r := validRequest()
	r.Weights.Geography = 11
	err := ValidateRequest(r)
	if !errors.Is(err, ErrInvalidWeight) {
		t.Fatalf("expected ErrInvalidWeight, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "weights.geography" {
		t.Fatalf("expected field weights.geography, got %+v", verr)
	}
}

func TestValidateRequestRegionCode(t *testing.T) {
	r := validRequest()
	r.Region = "GER"
	if err := ValidateRequest(r); !errors.Is(err, ErrInvalidRegion) {
		t.Fatalf("expected ErrInvalidRegion, got %v", err)
	}
	r.Region = "" // region is optional
	if err := ValidateRequest(r); err != nil {
		t.Fatalf("empty region should be allowed, got %v", err)
	}
}

func TestWindowExtendCapped(t *testing.T) {
	w := Window{
		From: time.Date(2025, 11, 17, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
	}
	out := w.Extend(7*24*time.Hour, 90*24*time.Hour)
	if got := out.To; !got.Equal(w.To.Add(7 * 24 * time.Hour)) {
		t.Fatalf("expected +7d, got %v", got)
	}
	if !w.To.Equal(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("receiver window must not be mutated")
	}

	capped := w.Extend(365*24*time.Hour, 30*24*time.Hour)
	if capped.Span() != 30*24*time.Hour {
		t.Fatalf("expected span capped at 30d, got %v", capped.Span())
	}
}

func TestClassifyProviderError(t *testing.T) {
	cases := []struct {
		err  error
		want ProviderErrorClass
	}{
		{nil, ProviderErrNone},
		{ErrProviderTimeout, ProviderErrTimeout},
		{ErrQuotaExceeded, ProviderErrRateLimited},
		{ErrProviderMalformed, ProviderErrMalformed},
		{errors.New("status 502"), ProviderErrHTTP},
	}
	for _, c := range cases {
		if got := ClassifyProviderError(c.err); got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
