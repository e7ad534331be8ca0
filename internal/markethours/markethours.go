// Package markethours knows the trading calendar: weekends, exchange
// holidays, and the daily settlement cutoff after which the current
// day's bar counts as final.
package markethours

import "time"

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// SettlementHour is the local hour after which today's end-of-day bar is
// treated as settled. Before it, the bar is still forming and is
// excluded from analysis input.
const SettlementHour = 18

// IsWeekday returns true if t is Mon–Fri.
func IsWeekday(t time.Time) bool {
	wd := t.In(IST).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay returns true if t is a weekday and not a holiday.
func IsTradingDay(t time.Time) bool {
	ist := t.In(IST)
	return IsWeekday(ist) && !IsHoliday(ist)
}

// NextTradingDay returns the first trading day strictly after t.
func NextTradingDay(t time.Time) time.Time {
	d := t.In(IST).AddDate(0, 0, 1)
	for i := 0; i < 10; i++ { // max 10 days ahead (holidays + weekends)
		if IsTradingDay(d) {
			return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
		}
		d = d.AddDate(0, 0, 1)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IST)
}

// Settled reports whether the bar dated barDate counts as final at
// instant now. Bars from earlier days are always settled; today's bar
// settles at SettlementHour local time.
func Settled(barDate, now time.Time) bool {
	n := now.In(IST)
	b := barDate.In(IST)
	if b.Year() != n.Year() || b.Month() != n.Month() || b.Day() != n.Day() {
		return b.Before(n)
	}
	return n.Hour() >= SettlementHour
}

// barDateFormats covers the datetime shapes seen in provider payloads
// and uploaded sheets.
var barDateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-01-2006",
}

// ParseBarDate parses a bar datetime in any supported format.
func ParseBarDate(s string) (time.Time, bool) {
	for _, layout := range barDateFormats {
		if t, err := time.ParseInLocation(layout, s, IST); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Forming reports whether a bar with the given datetime string is still
// forming at instant now and should be dropped from analysis input.
// Unparseable dates are treated as settled.
func Forming(datetime string, now time.Time) bool {
	d, ok := ParseBarDate(datetime)
	if !ok {
		return false
	}
	return !Settled(d, now)
}
