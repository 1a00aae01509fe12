package executor

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// ExpiryWeekday returns the weekly expiry day for an index family.
// BANKNIFTY settles Wednesday, FINNIFTY Tuesday, everything else
// Thursday.
func ExpiryWeekday(index string) time.Weekday {
	name := strings.ToUpper(index)
	switch {
	case strings.Contains(name, "BANK"):
		return time.Wednesday
	case strings.Contains(name, "FIN"):
		return time.Tuesday
	default:
		return time.Thursday
	}
}

// NextWeeklyExpiry returns the next expiry date on or after from.
// When from already falls on the expiry weekday it is the expiry.
func NextWeeklyExpiry(index string, from time.Time) time.Time {
	target := ExpiryWeekday(index)
	daysAhead := (int(target) - int(from.Weekday()) + 7) % 7
	return from.AddDate(0, 0, daysAhead)
}

// StrikeStep returns the strike interval for an index family.
func StrikeStep(index string) int {
	if strings.Contains(strings.ToUpper(index), "BANK") {
		return 100
	}
	return 50
}

// RoundStrike rounds an index price to the nearest strike.
func RoundStrike(price float64, step int) int {
	if step <= 0 {
		return int(math.Round(price))
	}
	return int(math.Round(price/float64(step))) * step
}

// BuildOptionSymbol formats the app-side option symbol, e.g.
// NIFTY25NOV2722550CE for the 22550 call expiring 2025-11-27.
func BuildOptionSymbol(index string, expiry time.Time, strike int, optionType string) string {
	return fmt.Sprintf("%s%s%s%s%d%s",
		strings.ToUpper(index),
		expiry.Format("06"),
		strings.ToUpper(expiry.Format("Jan")),
		expiry.Format("02"),
		strike,
		strings.ToUpper(optionType))
}

// ATMOptionSymbol builds the at-the-money weekly option symbol for an
// index price. offset shifts the strike by whole steps away from ATM.
func ATMOptionSymbol(index string, indexPrice float64, optionType string, offset int, now time.Time) string {
	step := StrikeStep(index)
	strike := RoundStrike(indexPrice, step) + offset*step
	expiry := NextWeeklyExpiry(index, now)
	return BuildOptionSymbol(index, expiry, strike, optionType)
}
