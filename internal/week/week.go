// Package week implements the calendar bucketing used by every list filter.
//
// A season's week 1 starts on Dec 30 of the preceding year (a Monday in the
// season the anchor was chosen for, and treated as one regardless). Every
// later week is a fixed 7-day span. Ranges are half-open so a timestamp
// belongs to exactly one week.
package week

import (
	"fmt"
	"time"
)

// Token identifies one week bucket, rendered as "YYYY-WNN".
type Token struct {
	Year int
	Week int
}

func (t Token) String() string {
	return fmt.Sprintf("%04d-W%02d", t.Year, t.Week)
}

// Parse reads a "YYYY-WNN" token. Weeks 1..53 are accepted; a season that
// rolls over late needs the 53rd bucket to stay gap-free.
func Parse(s string) (Token, error) {
	var t Token
	if _, err := fmt.Sscanf(s, "%4d-W%2d", &t.Year, &t.Week); err != nil {
		return Token{}, fmt.Errorf("invalid week token %q: want YYYY-WNN", s)
	}
	if len(s) != 8 {
		return Token{}, fmt.Errorf("invalid week token %q: want YYYY-WNN", s)
	}
	if t.Week < 1 || t.Week > 53 {
		return Token{}, fmt.Errorf("invalid week token %q: week out of range", s)
	}
	if t.Year < 1 {
		return Token{}, fmt.Errorf("invalid week token %q: year out of range", s)
	}
	return t, nil
}

// Anchor returns the start of week 1 for a season: Dec 30 of the prior year,
// midnight UTC.
func Anchor(year int) time.Time {
	return time.Date(year-1, time.December, 30, 0, 0, 0, 0, time.UTC)
}

// Range returns the half-open interval [start, start+7d) covered by the
// token's week. Distinct tokens of the same season yield disjoint, contiguous
// ranges.
func Range(t Token) (start, end time.Time) {
	start = Anchor(t.Year).AddDate(0, 0, (t.Week-1)*7)
	end = start.AddDate(0, 0, 7)
	return start, end
}

// RangeOf parses a token and returns its range.
func RangeOf(s string) (start, end time.Time, err error) {
	t, err := Parse(s)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	start, end = Range(t)
	return start, end, nil
}

// Current returns the token of the week bucket containing now. Times before
// the earliest representable anchor clamp to week 1 rather than producing a
// negative week number. The season rolls over at the next season's anchor, so
// Dec 30 and 31 belong to the new season's week 1.
func Current(now time.Time) Token {
	now = now.UTC()
	season := now.Year()
	if !now.Before(Anchor(season + 1)) {
		season++
	}
	anchor := Anchor(season)
	if now.Before(anchor) {
		return Token{Year: season, Week: 1}
	}
	days := int(now.Sub(anchor) / (24 * time.Hour))
	return Token{Year: season, Week: days/7 + 1}
}
