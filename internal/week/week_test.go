package week

import (
	"testing"
	"time"
)

func TestParseAndString(t *testing.T) {
	tok, err := Parse("2025-W05")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tok.Year != 2025 || tok.Week != 5 {
		t.Fatalf("unexpected token %+v", tok)
	}
	if got := tok.String(); got != "2025-W05" {
		t.Fatalf("round trip: %s", got)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "2025", "2025-05", "2025-W5", "2025-W00", "2025-W54", "2025-Wxx", "2025-W051"} {
		if _, err := Parse(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestRangeWeekOne(t *testing.T) {
	start, end, err := RangeOf("2025-W01")
	if err != nil {
		t.Fatal(err)
	}
	wantStart := time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) || !end.Equal(wantEnd) {
		t.Fatalf("got [%v, %v)", start, end)
	}
}

func TestRangesDisjointAndContiguous(t *testing.T) {
	prevEnd := time.Time{}
	for w := 1; w <= 53; w++ {
		start, end := Range(Token{Year: 2025, Week: w})
		if !end.Equal(start.AddDate(0, 0, 7)) {
			t.Fatalf("week %d is not a 7-day span", w)
		}
		if w > 1 && !start.Equal(prevEnd) {
			t.Fatalf("week %d does not start where week %d ended", w, w-1)
		}
		prevEnd = end
	}
}

func TestCurrentContainsNow(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 5, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 15, 8, 30, 0, 0, time.UTC),
		time.Date(2025, 12, 29, 23, 59, 59, 0, time.UTC),
		time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 10, 0, 0, 0, time.UTC),
	}
	for _, d := range dates {
		tok := Current(d)
		start, end := Range(tok)
		if d.Before(start) || !d.Before(end) {
			t.Errorf("%v: token %s range [%v, %v) does not contain it", d, tok, start, end)
		}
	}
}

func TestCurrentSeasonRollover(t *testing.T) {
	// Dec 30 belongs to the next season's week 1.
	tok := Current(time.Date(2025, 12, 30, 0, 0, 0, 0, time.UTC))
	if tok.Year != 2026 || tok.Week != 1 {
		t.Fatalf("expected 2026-W01, got %s", tok)
	}
	// Dec 29 still belongs to the old season.
	tok = Current(time.Date(2025, 12, 29, 12, 0, 0, 0, time.UTC))
	if tok.Year != 2025 {
		t.Fatalf("expected 2025 season, got %s", tok)
	}
}

func TestCurrentWeekOne(t *testing.T) {
	tok := Current(time.Date(2025, 1, 3, 9, 0, 0, 0, time.UTC))
	if tok.String() != "2025-W01" {
		t.Fatalf("expected 2025-W01, got %s", tok)
	}
}
