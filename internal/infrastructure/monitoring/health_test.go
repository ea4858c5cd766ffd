package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestHealthCheckerAggregates(t *testing.T) {
	h := NewHealthChecker()
	h.Add("up", time.Second, func(context.Context) error { return nil })

	status := h.CheckAll(context.Background())
	if status.Status != "healthy" {
		t.Fatalf("status = %q, want healthy", status.Status)
	}
	if status.Checks["up"] != "healthy" {
		t.Fatalf("checks = %v", status.Checks)
	}

	h.Add("down", time.Second, func(context.Context) error {
		return errors.New("connection refused")
	})
	status = h.CheckAll(context.Background())
	if status.Status != "unhealthy" {
		t.Fatalf("status = %q, want unhealthy", status.Status)
	}
	if status.Checks["down"] != "connection refused" {
		t.Fatalf("checks = %v", status.Checks)
	}
	if status.Checks["up"] != "healthy" {
		t.Fatalf("healthy probe should stay reported, got %v", status.Checks)
	}
}

func TestHealthProbeTimeout(t *testing.T) {
	h := NewHealthChecker()
	h.Add("slow", 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	status := h.CheckAll(context.Background())
	if status.Status != "unhealthy" {
		t.Fatalf("status = %q, want unhealthy", status.Status)
	}
}
