package views

import "time"

// WeekStart is the first day of the week, 0=Sunday through 6=Saturday.
type WeekStart int

// Day is one calendar cell.
type Day struct {
	Date    time.Time
	InMonth bool
}

// Week is one row of seven cells.
type Week struct {
	Days [7]Day
}

// MonthGrid is the visible month padded to full weeks, nested
// year → month → weeks → days the way the calendar layout consumes it.
type MonthGrid struct {
	Year      int
	Month     time.Month
	WeekStart WeekStart
	Weeks     []Week
}

// BuildMonthGrid produces the calendar index for the month containing
// the anchor date. The grid is derived wholesale from the anchor and
// the week-start convention; a convention change shifts every date's
// week bucket, so callers regenerate rather than patch.
func BuildMonthGrid(anchor time.Time, weekStart WeekStart) MonthGrid {
	weekStart = ((weekStart % 7) + 7) % 7
	year, month, _ := anchor.Date()
	loc := anchor.Location()
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)

	// Walk back from the 1st to the nearest week-start day.
	lead := (int(first.Weekday()) - int(weekStart) + 7) % 7
	cursor := first.AddDate(0, 0, -lead)

	grid := MonthGrid{Year: year, Month: month, WeekStart: weekStart}
	for {
		var week Week
		for i := 0; i < 7; i++ {
			week.Days[i] = Day{Date: cursor, InMonth: cursor.Month() == month && cursor.Year() == year}
			cursor = cursor.AddDate(0, 0, 1)
		}
		grid.Weeks = append(grid.Weeks, week)
		if cursor.Month() != month || cursor.Year() != year {
			break
		}
	}
	return grid
}

// DateBuckets projects item due dates onto grid days: a map from
// yyyy-mm-dd to the ids due that day, restricted to the visible grid.
func DateBuckets(grid MonthGrid, due map[string]time.Time) map[string][]string {
	visible := map[string]bool{}
	for _, w := range grid.Weeks {
		for _, d := range w.Days {
			visible[d.Date.Format("2006-01-02")] = true
		}
	}
	out := map[string][]string{}
	for id, t := range due {
		key := t.Format("2006-01-02")
		if visible[key] {
			out[key] = append(out[key], id)
		}
	}
	return out
}
