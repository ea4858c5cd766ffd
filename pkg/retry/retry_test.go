package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errTransient = errors.New("transient failure")

func TestDelay_ExponentialSchedule(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 2.0}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
	}

	for _, tt := range tests {
		if got := cfg.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_CappedAtMax(t *testing.T) {
	cfg := Config{InitialDelay: time.Second, Multiplier: 2.0, MaxDelay: 3 * time.Second}
	if got := cfg.Delay(4); got != 3*time.Second {
		t.Errorf("Delay(4) = %v, want cap of 3s", got)
	}
}

func TestDo_SucceedsAfterFailures(t *testing.T) {
	cfg := Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	cfg := Config{Enabled: true, MaxAttempts: 2, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Do(context.Background(), cfg, func() error {
		calls++
		return errTransient
	})

	if err == nil {
		t.Fatal("Do() error = nil, want exhaustion error")
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("error chain lost the last failure: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestDo_Disabled(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{Enabled: false}, func() error {
		calls++
		return errTransient
	})
	if err != errTransient {
		t.Errorf("Do() error = %v, want the raw error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDo_ContextCancelled(t *testing.T) {
	cfg := Config{Enabled: true, MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error { return errTransient })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Do() error = %v, want context.Canceled in chain", err)
	}
}

func TestDoWithResult(t *testing.T) {
	cfg := Config{Enabled: true, MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	got, err := DoWithResult(context.Background(), cfg, func() (string, error) {
		calls++
		if calls < 2 {
			return "", errTransient
		}
		return "ok", nil
	})

	if err != nil {
		t.Fatalf("DoWithResult() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("result = %q, want %q", got, "ok")
	}
}
