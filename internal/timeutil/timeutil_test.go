package timeutil

import (
	"testing"
	"time"
)

func TestDayWindow(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	now := time.Date(2026, time.March, 7, 12, 30, 0, 0, time.UTC)
	win := DayWindow(now, loc)
	if win.Duration() != 24*time.Hour {
		t.Fatalf("unexpected duration %v", win.Duration())
	}
	if !win.Contains(now) {
		t.Fatal("window must contain its anchor")
	}
	local := now.In(loc)
	if win.Start().Hour() != 0 || win.Start().Day() != local.Day() {
		t.Fatalf("unexpected start %v", win.Start())
	}
}

func TestMonthWindow(t *testing.T) {
	now := time.Date(2026, time.February, 15, 8, 0, 0, 0, time.UTC)
	win := MonthWindow(now, time.UTC)
	if win.Start().Day() != 1 || win.Start().Month() != time.February {
		t.Fatalf("unexpected start %v", win.Start())
	}
	if win.End().Month() != time.March {
		t.Fatalf("unexpected end %v", win.End())
	}
	if win.Contains(win.End()) {
		t.Fatal("end must be exclusive")
	}
}

func TestTruncateToDayNilLocation(t *testing.T) {
	now := time.Date(2026, time.June, 3, 23, 59, 0, 0, time.UTC)
	got := TruncateToDay(now, nil)
	want := time.Date(2026, time.June, 3, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
