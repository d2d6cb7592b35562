package app

import (
	"math"
	"testing"
	"time"
)

func TestUntilNextUTCHour(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		hour int
		want time.Duration
	}{
		{
			name: "later today",
			now:  time.Date(2025, 3, 10, 2, 30, 0, 0, time.UTC),
			hour: 4,
			want: 90 * time.Minute,
		},
		{
			name: "already passed, tomorrow",
			now:  time.Date(2025, 3, 10, 5, 0, 0, 0, time.UTC),
			hour: 4,
			want: 23 * time.Hour,
		},
		{
			name: "exactly at the hour waits a full day",
			now:  time.Date(2025, 3, 10, 4, 0, 0, 0, time.UTC),
			hour: 4,
			want: 24 * time.Hour,
		},
		{
			name: "month boundary",
			now:  time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC),
			hour: 4,
			want: 18 * time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := untilNextUTCHour(tt.now, tt.hour); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSafeMean(t *testing.T) {
	if safeMean(nil) != nil {
		t.Error("empty series should yield nil")
	}
	m := safeMean([]float64{1, 2, 3})
	if m == nil || *m != 2 {
		t.Errorf("expected mean 2, got %v", m)
	}
}

func TestSafeStdev(t *testing.T) {
	if safeStdev([]float64{5}) != nil {
		t.Error("a single point has no sample deviation")
	}
	sd := safeStdev([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if sd == nil {
		t.Fatal("expected a value")
	}
	// Sample stdev of the classic sequence
	want := math.Sqrt(32.0 / 7.0)
	if math.Abs(*sd-want) > 1e-9 {
		t.Errorf("expected %v, got %v", want, *sd)
	}
}
