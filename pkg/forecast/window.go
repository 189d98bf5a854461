package forecast

import "time"

// SeasonalProductionHour reports whether hour falls inside the conservative
// production window for the month of date. Winter is 7-16, summer 5-20 and
// the shoulder months 6-18, all inclusive.
func SeasonalProductionHour(date time.Time, hour int) bool {
	start, end := seasonalWindow(date.Month())
	return hour >= start && hour <= end
}

func seasonalWindow(m time.Month) (int, int) {
	switch m {
	case time.November, time.December, time.January:
		return 7, 16
	case time.May, time.June, time.July, time.August:
		return 5, 20
	default:
		return 6, 18
	}
}
