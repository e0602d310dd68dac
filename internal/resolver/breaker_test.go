package resolver

import (
	"context"
	"errors"
	"testing"
	"time"
)

func infraFailure() error {
	return NewResolveError(KindExtractionFailed, "loc", "unable to extract", nil)
}

func TestBreakerState_String(t *testing.T) {
	tests := []struct {
		state    BreakerState
		expected string
	}{
		{BreakerClosed, "closed"},
		{BreakerOpen, "open"},
		{BreakerHalfOpen, "half_open"},
		{BreakerState(999), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("BreakerState.String() = %v, want %v", got, tt.expected)
		}
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		b.Record(infraFailure())
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow() after %d failures = %v, want nil", i+1, err)
		}
	}

	b.Record(infraFailure())
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow() = %v, want ErrBreakerOpen", err)
	}
	if b.State() != BreakerOpen {
		t.Errorf("State() = %v, want open", b.State())
	}
}

func TestBreaker_IgnoresContentFailures(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	contentErrs := []error{
		NewResolveError(KindPrivate, "loc", "private", nil),
		NewResolveError(KindGeoRestricted, "loc", "geo", nil),
		NewResolveError(KindAgeRestricted, "loc", "age", nil),
		ErrNoResults,
		context.Canceled,
	}
	for _, err := range contentErrs {
		b.Record(err)
	}

	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	b := NewBreaker(2, time.Minute)

	b.Record(infraFailure())
	b.Record(nil)
	b.Record(infraFailure())

	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenAfterReset(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, 10*time.Second)
	b.now = func() time.Time { return now }

	b.Record(infraFailure())
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("Allow() = %v, want ErrBreakerOpen", err)
	}

	now = now.Add(11 * time.Second)
	if b.State() != BreakerHalfOpen {
		t.Errorf("State() = %v, want half_open", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() in half-open = %v, want nil", err)
	}

	// a failed trial reopens immediately
	b.Record(infraFailure())
	if err := b.Allow(); !errors.Is(err, ErrBreakerOpen) {
		t.Errorf("Allow() after failed trial = %v, want ErrBreakerOpen", err)
	}

	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
	b.Record(nil)
	if b.State() != BreakerClosed {
		t.Errorf("State() = %v, want closed", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := NewBreaker(1, time.Hour)
	b.Record(infraFailure())
	b.Reset()

	if err := b.Allow(); err != nil {
		t.Errorf("Allow() after Reset = %v, want nil", err)
	}
}
