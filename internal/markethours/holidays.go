package markethours

import "time"

// NSE equity segment holidays.
// Source: NSE India holiday circulars; dates marked tentative are lunar-calendar estimates.
var nseHolidays = map[int][]struct {
	month time.Month
	day   int
}{
	2024: {
		{time.January, 22}, {time.January, 26}, {time.March, 8}, {time.March, 25},
		{time.March, 29}, {time.April, 11}, {time.April, 17}, {time.May, 1},
		{time.May, 20}, {time.June, 17}, {time.July, 17}, {time.August, 15},
		{time.October, 2}, {time.November, 1}, {time.November, 15}, {time.November, 20},
		{time.December, 25},
	},
	2025: {
		{time.February, 26}, {time.March, 14}, {time.March, 31}, {time.April, 10},
		{time.April, 14}, {time.April, 18}, {time.May, 1}, {time.August, 15},
		{time.August, 27}, {time.October, 2}, {time.October, 21}, {time.October, 22},
		{time.November, 5}, {time.December, 25},
	},
	2026: {
		{time.January, 26},  // Republic Day
		{time.February, 17}, // Mahashivratri (tentative)
		{time.March, 14},    // Holi
		{time.March, 31},    // Id-ul-Fitr (tentative)
		{time.April, 2},     // Ram Navami (tentative)
		{time.April, 6},     // Mahavir Jayanti
		{time.April, 10},    // Good Friday
		{time.April, 14},    // Dr. Ambedkar Jayanti
		{time.May, 1},       // Maharashtra Day
		{time.June, 7},      // Bakrid (tentative)
		{time.July, 6},      // Muharram (tentative)
		{time.August, 15},   // Independence Day
		{time.August, 16},   // Janmashtami (tentative)
		{time.September, 5}, // Milad-un-Nabi (tentative)
		{time.October, 2},   // Mahatma Gandhi Jayanti
		{time.October, 20},  // Dussehra
		{time.October, 21},  // Dussehra (tentative)
		{time.November, 5},  // Diwali (tentative)
		{time.November, 6},  // Diwali Balipratipada (tentative)
		{time.November, 7},  // Bhai Dooj (tentative)
		{time.November, 19}, // Guru Nanak Jayanti
		{time.December, 25}, // Christmas
	},
}

// pre-compute for fast lookup
var holidaySet map[string]bool

func init() {
	holidaySet = make(map[string]bool)
	for year, days := range nseHolidays {
		for _, h := range days {
			holidaySet[dateKey(year, h.month, h.day)] = true
		}
	}
}

// IsHoliday returns true if the date (in IST) is a known NSE holiday.
// Years without a list have no holidays besides weekends.
func IsHoliday(t time.Time) bool {
	ist := t.In(IST)
	return holidaySet[dateKey(ist.Year(), ist.Month(), ist.Day())]
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, IST).Format("2006-01-02")
}
