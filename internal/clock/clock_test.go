package clock

import (
	"testing"
	"time"
)

func TestSystemNowIsUTC(t *testing.T) {
	if zone, _ := (System{}).Now().Zone(); zone != "UTC" {
		t.Fatalf("zone = %s", zone)
	}
}

func TestManualAdvanceAndSet(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewManual(start)

	if !c.Now().Equal(start) {
		t.Fatalf("now = %v", c.Now())
	}
	if got := c.Advance(90 * time.Minute); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("advance = %v", got)
	}
	if !c.Now().Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("now after advance = %v", c.Now())
	}

	later := start.Add(48 * time.Hour)
	c.Set(later)
	if !c.Now().Equal(later) {
		t.Fatalf("now after set = %v", c.Now())
	}
}
