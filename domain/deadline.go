package domain

import (
	"fmt"
	"time"
)

// LocalDateKey renders the instant's calendar date in loc as YYYY-MM-DD.
// Bucketing is always done on local calendar components: an instant stored as
// UTC midnight can belong to the previous or next local day depending on the
// zone offset, and must bucket with that local day.
func LocalDateKey(t time.Time, loc *time.Location) string {
	lt := t.In(loc)
	return fmt.Sprintf("%04d-%02d-%02d", lt.Year(), int(lt.Month()), lt.Day())
}

// CountByHorizon counts notes whose deadline falls exactly daysFromToday local
// calendar days after today. Notes without a deadline never count. The caller
// supplies today so the classifier stays free of ambient clock reads.
func CountByHorizon(notes []Note, today time.Time, daysFromToday int) int {
	loc := today.Location()
	target := LocalDateKey(today.AddDate(0, 0, daysFromToday), loc)
	count := 0
	for _, n := range notes {
		if n.Deadline == nil {
			continue
		}
		if LocalDateKey(*n.Deadline, loc) == target {
			count++
		}
	}
	return count
}

// NextWorkdays collects the next count workdays starting at today, inclusive
// of today when it is not a Saturday or Sunday. The walk advances one calendar
// day per step and therefore always terminates.
func NextWorkdays(today time.Time, count int) []time.Time {
	days := make([]time.Time, 0, count)
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	for len(days) < count {
		if wd := day.Weekday(); wd != time.Saturday && wd != time.Sunday {
			days = append(days, day)
		}
		day = day.AddDate(0, 0, 1)
	}
	return days
}

// DayBucket groups the notes due on one workday.
type DayBucket struct {
	Date  time.Time `json:"date"`
	Key   string    `json:"key"`
	Notes []Note    `json:"notes"`
}

// WeekView buckets notes over the next count workdays. Membership is an exact
// LocalDateKey match and every bucket is sorted by customer name.
func WeekView(notes []Note, today time.Time, count int) []DayBucket {
	loc := today.Location()
	workdays := NextWorkdays(today, count)
	buckets := make([]DayBucket, 0, len(workdays))
	for _, day := range workdays {
		b := DayBucket{Date: day, Key: LocalDateKey(day, loc)}
		for _, n := range notes {
			if n.Deadline == nil {
				continue
			}
			if LocalDateKey(*n.Deadline, loc) == b.Key {
				b.Notes = append(b.Notes, n)
			}
		}
		SortByCustomer(b.Notes)
		buckets = append(buckets, b)
	}
	return buckets
}

// MonthCell is one slot in a Monday-first month grid. Day is zero for the
// leading placeholders before the first of the month.
type MonthCell struct {
	Day        int  `json:"day"`
	HasMust    bool `json:"hasMust,omitempty"`
	HasApprox  bool `json:"hasApprox,omitempty"`
	HasUntyped bool `json:"hasUntyped,omitempty"`
}

// MonthGrid lays the month out as a flat cell sequence: the weekday offset of
// the first (Monday-first, so Sunday maps to 6) as empty cells, then one cell
// per day annotated with the deadline-type flags aggregated over all notes due
// that local day.
func MonthGrid(year int, month time.Month, loc *time.Location, notes []Note) []MonthCell {
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	offset := (int(first.Weekday()) + 6) % 7
	daysInMonth := first.AddDate(0, 1, -1).Day()

	cells := make([]MonthCell, 0, offset+daysInMonth)
	for i := 0; i < offset; i++ {
		cells = append(cells, MonthCell{})
	}
	for d := 1; d <= daysInMonth; d++ {
		key := LocalDateKey(time.Date(year, month, d, 0, 0, 0, 0, loc), loc)
		cell := MonthCell{Day: d}
		for _, n := range notes {
			if n.Deadline == nil || LocalDateKey(*n.Deadline, loc) != key {
				continue
			}
			switch n.DeadlineType {
			case DeadlineMust:
				cell.HasMust = true
			case DeadlineApprox:
				cell.HasApprox = true
			default:
				cell.HasUntyped = true
			}
		}
		cells = append(cells, cell)
	}
	return cells
}
