package options

import (
	"fmt"
	"strings"
	"time"

	"nifty-engine/internal/markethours"
)

// ParseWeekday accepts "tuesday", "Tue" and similar.
func ParseWeekday(s string) (time.Weekday, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) >= 3 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			name := strings.ToLower(d.String())
			if strings.HasPrefix(name, s) {
				return d, nil
			}
		}
	}
	return 0, fmt.Errorf("options: unknown weekday %q", s)
}

// NearestExpiry returns the session date of the nearest weekly expiry that
// is still tradeable at now. An expiry falling on a holiday moves to the
// previous trading day; once the expiry session has closed the next week's
// expiry is used.
func NearestExpiry(now time.Time, weekday time.Weekday) time.Time {
	today := markethours.SessionDate(now)
	d := today.AddDate(0, 0, (int(weekday)-int(today.Weekday())+7)%7)
	for i := 0; i < 3; i++ {
		exp := d
		for !markethours.IsTradingDay(exp) {
			exp = exp.AddDate(0, 0, -1)
		}
		switch {
		case exp.After(today):
			return exp
		case exp.Equal(today) && now.Before(markethours.TodayClose(now)):
			return exp
		}
		d = d.AddDate(0, 0, 7)
	}
	return d
}
