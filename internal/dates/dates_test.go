package dates

import (
	"sort"
	"testing"
	"time"
)

func TestDateOf(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"2025-07-25T10:00:00Z":             "2025-07-25",
		"2025-07-25T23:30:00-05:00":        "2025-07-25",
		"2025-07-25T10:00:00.123456":       "2025-07-25",
		"2025-07-25 08:00:00":              "2025-07-25",
		"2025-07-25":                       "2025-07-25",
		"2025-07-25Tgarbage":               "2025-07-25",
		"bad":                              "bad",
		"2025-07-26T01:00:00.000000+09:00": "2025-07-26",
	}
	for in, want := range cases {
		if got := DateOf(in); got != want {
			t.Fatalf("DateOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDaysInclusiveAndEmpty(t *testing.T) {
	t.Parallel()

	start, _ := ParseDay("2025-02-27")
	end, _ := ParseDay("2025-03-02")
	got := Days(start, end)
	want := []string{"2025-02-27", "2025-02-28", "2025-03-01", "2025-03-02"}
	if len(got) != len(want) {
		t.Fatalf("len(Days) = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Days[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if n := len(Days(end, start)); n != 0 {
		t.Fatalf("reversed range produced %d days", n)
	}
	if n := len(Days(start, start)); n != 1 {
		t.Fatalf("single-day range produced %d days", n)
	}
}

func TestWindowAndNextDay(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 7, 25, 15, 0, 0, 0, time.UTC)
	start, end := Window(now, 7)
	if start != "2025-07-18" || end != "2025-07-25" {
		t.Fatalf("Window = %s..%s, want 2025-07-18..2025-07-25", start, end)
	}
	if got := NextDay("2025-12-31"); got != "2026-01-01" {
		t.Fatalf("NextDay = %q, want 2026-01-01", got)
	}
}

func TestCompareFallsBackToLexical(t *testing.T) {
	t.Parallel()

	if Compare("2025-07-25T10:00:00+02:00", "2025-07-25T09:00:00Z") >= 0 {
		t.Fatalf("offset-aware comparison should order 08:00Z before 09:00Z")
	}
	if Compare("2025-07-25T10:00:00.5Z", "2025-07-25T10:00:00Z") <= 0 {
		t.Fatalf("fractional seconds should sort after the whole second")
	}
	if Compare("abc", "abd") >= 0 {
		t.Fatalf("lexical fallback expected")
	}
}

func TestCompareIsTotalOverMixedInput(t *testing.T) {
	t.Parallel()

	// Lexically "0-bad" < "2025-..." < "3-bad" while chronologically the
	// parseable pair is reversed, which used to make the order cyclic.
	in := []string{"3-bad", "2025-07-25T11:00:00Z", "0-bad", "2025-07-25T10:00:00+02:00", "2025-07-25T09:00:00Z"}
	want := []string{"2025-07-25T10:00:00+02:00", "2025-07-25T09:00:00Z", "2025-07-25T11:00:00Z", "0-bad", "3-bad"}

	got := append([]string(nil), in...)
	sort.SliceStable(got, func(i, j int) bool { return Compare(got[i], got[j]) < 0 })
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sorted = %v, want %v", got, want)
		}
	}

	for _, a := range in {
		for _, b := range in {
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare(%q, %q) not antisymmetric", a, b)
			}
		}
	}
	if Compare("2025-07-25T10:00:00Z", "2025-07-25T10:00:00.000Z") == 0 {
		t.Fatalf("equal instants with different text should still be ordered")
	}
}
