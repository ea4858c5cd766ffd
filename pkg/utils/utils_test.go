package utils

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateViewerID(t *testing.T) {
	id := GenerateViewerID()
	if !strings.HasPrefix(id, "viewer_") {
		t.Errorf("GenerateViewerID() = %q, want viewer_ prefix", id)
	}
	if id == GenerateViewerID() {
		t.Error("two generated ids collided")
	}
}

func TestGenerateSellerID(t *testing.T) {
	if got := GenerateSellerID("42"); got != "seller-42" {
		t.Errorf("GenerateSellerID(42) = %q, want seller-42", got)
	}
	// Already-prefixed keys pass through unchanged.
	if got := GenerateSellerID("seller-42"); got != "seller-42" {
		t.Errorf("GenerateSellerID(seller-42) = %q, want seller-42", got)
	}
}

func TestGenerateParticipantID(t *testing.T) {
	id := GenerateParticipantID("publisher")
	if !strings.HasPrefix(id, "publisher_") {
		t.Errorf("GenerateParticipantID() = %q, want publisher_ prefix", id)
	}
}

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
	if got := FormatTimestamp(ts); got != "2025-06-01T12:30:00Z" {
		t.Errorf("FormatTimestamp() = %q", got)
	}
}

func TestParseDurationSafe(t *testing.T) {
	if got := ParseDurationSafe("5s", time.Second); got != 5*time.Second {
		t.Errorf("ParseDurationSafe(5s) = %v", got)
	}
	if got := ParseDurationSafe("bogus", time.Second); got != time.Second {
		t.Errorf("ParseDurationSafe(bogus) = %v, want fallback", got)
	}
}
