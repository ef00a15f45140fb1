package domain

import (
	"fmt"
	"time"
)

// DefaultPeriodMonths is the slice width used when callers pass a non-positive width.
const DefaultPeriodMonths = 3

// Period is an inclusive calendar-date range queried against the upstream API.
// Start and End are midnight in the civil time zone; Start never exceeds End.
type Period struct {
	Start time.Time
	End   time.Time
	Label string // "2025Q1" for quarter periods, empty for fixed-width slices
}

func (p Period) String() string {
	if p.Label != "" {
		return fmt.Sprintf("%s (%s..%s)", p.Label, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
	}
	return p.Start.Format(time.DateOnly) + ".." + p.End.Format(time.DateOnly)
}

// FixedWidthPeriods slices [start, end] into consecutive periods of widthMonths
// calendar months. The final period is clipped to end. An empty slice is
// returned when start is after end.
func FixedWidthPeriods(start, end time.Time, widthMonths int) []Period {
	if widthMonths <= 0 {
		widthMonths = DefaultPeriodMonths
	}
	start = truncateDay(start)
	end = truncateDay(end)

	var periods []Period
	for cur := start; !cur.After(end); cur = cur.AddDate(0, widthMonths, 0) {
		pEnd := cur.AddDate(0, widthMonths, -1)
		if pEnd.After(end) {
			pEnd = end
		}
		periods = append(periods, Period{Start: cur, End: pEnd})
	}
	return periods
}

// CurrentQuarter returns the calendar quarter (1..4) containing t.
func CurrentQuarter(t time.Time) int {
	return (int(t.Month())-1)/3 + 1
}

// QuarterPeriod returns the period covering the given calendar quarter.
func QuarterPeriod(year, quarter int, loc *time.Location) Period {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, loc)
	return Period{
		Start: start,
		End:   start.AddDate(0, 3, -1),
		Label: fmt.Sprintf("%dQ%d", year, quarter),
	}
}

// QuarterWalker yields calendar quarters walking backward in time. It never
// runs out; the caller decides when to stop.
type QuarterWalker struct {
	year    int
	quarter int
	loc     *time.Location
}

// QuarterWalkBackward starts a walk at (year, quarter).
func QuarterWalkBackward(year, quarter int, loc *time.Location) *QuarterWalker {
	if quarter < 1 || quarter > 4 {
		quarter = 4
	}
	return &QuarterWalker{year: year, quarter: quarter, loc: loc}
}

// Next returns the current quarter and steps the walker one quarter back.
func (w *QuarterWalker) Next() Period {
	p := QuarterPeriod(w.year, w.quarter, w.loc)
	w.quarter--
	if w.quarter == 0 {
		w.quarter = 4
		w.year--
	}
	return p
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
