package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	cb := New(Config{Name: "email", MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	for i := 0; i < 3; i++ {
		if !cb.Allow() {
			t.Fatalf("request %d should be allowed while closed", i)
		}
		cb.RecordFailure()
	}

	if got := cb.GetState(); got != StateOpen {
		t.Fatalf("state = %v, want open", got)
	}
	if cb.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestCircuitBreaker_SuccessResetsStreak(t *testing.T) {
	cb := New(Config{Name: "email", MaxFailures: 3, RecoveryTimeout: time.Minute}, zap.NewNop())

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if got := cb.GetState(); got != StateClosed {
		t.Fatalf("state = %v, want closed after streak reset", got)
	}
}

func TestCircuitBreaker_ProbeAfterRecoveryTimeout(t *testing.T) {
	cb := New(Config{Name: "sms", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe request should be allowed after recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open", cb.GetState())
	}

	// Probe success closes the circuit.
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", cb.GetState())
	}
}

func TestCircuitBreaker_ProbeFailureReopens(t *testing.T) {
	cb := New(Config{Name: "push", MaxFailures: 1, RecoveryTimeout: 10 * time.Millisecond}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("probe should be allowed")
	}
	cb.RecordFailure()

	if cb.GetState() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", cb.GetState())
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := New(Config{Name: "email", MaxFailures: 1, RecoveryTimeout: time.Hour}, zap.NewNop())

	cb.Allow()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatal("breaker should be open")
	}

	cb.Reset()

	if cb.GetState() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("reset breaker should allow requests")
	}
}
