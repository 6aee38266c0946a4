package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		FailureThreshold:    3,
		SuccessThreshold:    2,
		Timeout:             50 * time.Millisecond,
		HalfOpenMaxRequests: 2,
	}
}

var errDown = errors.New("downstream down")

func TestBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())

	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return errDown }); !errors.Is(err, errDown) {
			t.Fatalf("call %d: err = %v, want downstream error while closed", i, err)
		}
	}

	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v, want open breaker to short-circuit", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open", cb.GetState())
	}
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errDown })
	}
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 2; i++ {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("half-open probe %d failed: %v", i, err)
		}
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("err = %v, want closed breaker to pass calls through", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed after success threshold", cb.GetState())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())

	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errDown })
	}
	time.Sleep(60 * time.Millisecond)

	cb.Execute(func() error { return errDown })

	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitBreakerOpen) {
		t.Fatalf("err = %v, want reopened breaker to short-circuit", err)
	}
}

func TestReset(t *testing.T) {
	cb := NewCircuitBreaker(testConfig())
	for i := 0; i < 3; i++ {
		cb.Execute(func() error { return errDown })
	}
	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Fatalf("state after reset = %v, want closed", cb.GetState())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("err = %v, want call to pass after reset", err)
	}
}
