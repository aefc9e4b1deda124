package globaltime

import (
	"testing"
	"time"
)

func TestMockClock(t *testing.T) {
	frozen := time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	SetMockTime(frozen)
	defer ResetTime()

	if got := UTC(); !got.Equal(frozen) {
		t.Fatalf("UTC() = %v, want %v", got, frozen)
	}
	if got := Since(frozen.Add(-time.Hour)); got != time.Hour {
		t.Fatalf("Since = %v, want 1h", got)
	}

	ResetTime()
	if got := UTC(); got.Equal(frozen) {
		t.Fatalf("ResetTime must restore the wall clock")
	}
}
