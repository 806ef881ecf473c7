package timeseries

import (
	"testing"
	"time"
)

func TestSample(t *testing.T) {
	now := time.Now()

	s := NewSample(now, 42.5)
	if !s.Timestamp.Equal(now) {
		t.Errorf("Expected timestamp %v, got %v", now, s.Timestamp)
	}
	if s.Value != 42.5 {
		t.Errorf("Expected value 42.5, got %v", s.Value)
	}
}

func TestDateOf(t *testing.T) {
	seoul, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2024-05-01 20:00 UTC is already 2024-05-02 in Seoul
	instant := time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC)

	if got := DateOf(instant, time.UTC); got != "2024-05-01" {
		t.Errorf("DateOf(UTC) = %s", got)
	}
	if got := DateOf(instant, seoul); got != "2024-05-02" {
		t.Errorf("DateOf(Seoul) = %s", got)
	}
	if got := DateOf(instant, nil); got != "2024-05-01" {
		t.Errorf("DateOf(nil) = %s", got)
	}

	midnight, err := DateOf(instant, seoul).Time(seoul)
	if err != nil {
		t.Fatalf("Time() error = %v", err)
	}
	if midnight.Hour() != 0 || midnight.Day() != 2 {
		t.Errorf("Unexpected midnight %v", midnight)
	}
}
