package store

import (
	"testing"
	"time"
)

func TestNormalizeParameters(t *testing.T) {
	in := []Parameter{{"A", "1"}, {"B", "2"}, {"A", "3"}, {"C", "4"}, {"B", "5"}}
	want := []Parameter{{"A", "3"}, {"B", "5"}, {"C", "4"}}

	got := NormalizeParameters(in)
	if len(got) != len(want) {
		t.Fatalf("NormalizeParameters() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if in[0].Value != "1" {
		t.Error("NormalizeParameters() mutated its input")
	}
}

func TestParseStatus(t *testing.T) {
	if s, err := ParseStatus(" failure "); err != nil || s != StatusFailure {
		t.Errorf("ParseStatus() = %v, %v", s, err)
	}
	if _, err := ParseStatus("broken"); err == nil {
		t.Error("ParseStatus() accepted an unknown status")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusSuccess, StatusFailure, StatusUnstable, StatusAborted} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []Status{StatusInProgress, StatusUnknown} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPageBounds(t *testing.T) {
	tests := []struct {
		total, page, size int
		start, end        int
	}{
		{10, 1, 3, 0, 3},
		{10, 4, 3, 9, 10},
		{10, 5, 3, 10, 10},
		{10, 0, 3, 0, 3},
		{10, 2, 0, 0, 10},
	}
	for _, tt := range tests {
		start, end := pageBounds(tt.total, tt.page, tt.size)
		if start != tt.start || end != tt.end {
			t.Errorf("pageBounds(%d, %d, %d) = %d, %d; want %d, %d",
				tt.total, tt.page, tt.size, start, end, tt.start, tt.end)
		}
	}
}

func TestDayKey(t *testing.T) {
	ts := time.Date(2024, 3, 11, 1, 0, 0, 0, time.FixedZone("X", 2*60*60))
	if got := DayKey(ts); got != "2024-03-10" {
		t.Errorf("DayKey() = %s, want 2024-03-10", got)
	}
}
