package resilience

import (
	"errors"
	"testing"
	"time"
)

var errDial = errors.New("dial failed")

func TestBreaker_AdmitsWhileClosed(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{MaxFailures: 3})
	for i := 0; i < 10; i++ {
		if !b.allow() {
			t.Fatal("closed breaker must admit every attempt")
		}
		b.record(nil)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		if !b.allow() {
			t.Fatal("breaker opened too early")
		}
		b.record(errDial)
	}
	if b.allow() {
		t.Error("breaker must reject after reaching the failure limit")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	b.allow()
	b.record(errDial)
	b.allow()
	b.record(nil) // resets the streak
	b.allow()
	b.record(errDial)

	if !b.allow() {
		t.Error("one failure after a success must not open the breaker")
	}
}

func TestBreaker_ProbesAfterResetTimeout(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{
		MaxFailures:    1,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 2,
	})

	b.allow()
	b.record(errDial)
	if b.allow() {
		t.Fatal("breaker must reject immediately after opening")
	}

	time.Sleep(20 * time.Millisecond)

	// Two successful probes close the breaker again.
	for i := 0; i < 2; i++ {
		if !b.allow() {
			t.Fatal("breaker must admit a probe after the reset timeout")
		}
		b.record(nil)
	}
	for i := 0; i < 5; i++ {
		if !b.allow() {
			t.Fatal("breaker must be fully closed after successful probes")
		}
		b.record(nil)
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{
		MaxFailures:    1,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 2,
	})

	b.allow()
	b.record(errDial)
	time.Sleep(20 * time.Millisecond)

	if !b.allow() {
		t.Fatal("breaker must admit a probe after the reset timeout")
	}
	b.record(errDial)

	if b.allow() {
		t.Error("breaker must re-open on a failed probe")
	}
}

func TestBreaker_ProbeBudgetIsBounded(t *testing.T) {
	t.Parallel()

	b := newBreaker("m", FallbackConfig{
		MaxFailures:    1,
		ResetTimeout:   10 * time.Millisecond,
		HalfOpenProbes: 2,
	})

	b.allow()
	b.record(errDial)
	time.Sleep(20 * time.Millisecond)

	// Admit the probe budget without recording outcomes, as if the probe
	// dials were still in flight.
	for i := 0; i < 2; i++ {
		if !b.allow() {
			t.Fatal("breaker must admit probes up to the budget")
		}
	}
	if b.allow() {
		t.Error("breaker must reject once the probe budget is spent")
	}
}
