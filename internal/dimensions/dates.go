// Package dimensions builds the warehouse dimension tables: the calendar
// date spine and the per-channel aggregate dimension. Both are pure
// functions of their input set plus the processing clock, fully recomputed
// each run.
package dimensions

import (
	"time"

	"medwarehouse/internal/keys"
	"medwarehouse/pkg/models"
)

// holidays maps month*100+day to a fixed holiday label. The list covers the
// Ethiopian market the channels serve and is configuration, not contract.
var holidays = map[int]string{
	101: "New Year",
	107: "Ethiopian Christmas",
	119: "Timkat",
	302: "Adwa Victory Day",
	501: "Labour Day",
	911: "Ethiopian New Year",
	927: "Meskel",
}

// BuildDateSpine generates one row per calendar day from minDate through one
// year past the processing date, inclusive, with all derived calendar
// attributes. Rerunning with the same minDate on the same calendar day
// produces identical output.
func BuildDateSpine(minDate, now time.Time) []models.DateDimension {
	start := truncateDay(minDate)
	end := truncateDay(now).AddDate(1, 0, 0)
	today := truncateDay(now)

	nowYear, nowWeek := now.ISOWeek()

	spine := make([]models.DateDimension, 0, int(end.Sub(start).Hours()/24)+1)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		isoYear, isoWeek := d.ISOWeek()
		weekday := isoWeekday(d.Weekday())

		spine = append(spine, models.DateDimension{
			DateKey:     keys.Date(d),
			FullDate:    d,
			Year:        d.Year(),
			Quarter:     (int(d.Month())-1)/3 + 1,
			Month:       int(d.Month()),
			MonthName:   d.Month().String(),
			WeekOfYear:  isoWeek,
			DayOfMonth:  d.Day(),
			DayOfWeek:   weekday,
			DayName:     d.Weekday().String(),
			IsWeekend:   weekday >= 6,
			IsToday:     d.Equal(today),
			IsThisWeek:  isoYear == nowYear && isoWeek == nowWeek,
			IsThisMonth: d.Year() == now.Year() && d.Month() == now.Month(),
			IsThisYear:  d.Year() == now.Year(),
			HolidayName: holidays[int(d.Month())*100+d.Day()],
		})
	}

	return spine
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// isoWeekday maps Go's Sunday-first weekday to ISO numbering, Monday=1.
func isoWeekday(w time.Weekday) int {
	if w == time.Sunday {
		return 7
	}
	return int(w)
}
