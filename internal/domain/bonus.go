/**
 * @description
 * Daily login bonus policy. Eligibility is a pure function over the account's
 * last bonus timestamp so it can be evaluated both outside a transaction (to
 * short-circuit) and again from locked state inside the granting transaction.
 */

package domain

import "time"

// BonusWindow is the rolling window between daily bonus grants. It is not
// calendar-day-aligned: a grant at 23:50 blocks the next one until 23:50 the
// following day.
const BonusWindow = 24 * time.Hour

// BonusEligible reports whether an account with the given last bonus timestamp
// may receive the daily bonus at time now. A nil lastBonusAt means the account
// has never been credited a bonus and is always eligible.
func BonusEligible(lastBonusAt *time.Time, now time.Time) bool {
	if lastBonusAt == nil {
		return true
	}
	return now.Sub(*lastBonusAt) >= BonusWindow
}

// BonusRetryAfter returns how long the account must wait before the next
// bonus. It returns zero when the account is already eligible.
func BonusRetryAfter(lastBonusAt *time.Time, now time.Time) time.Duration {
	if BonusEligible(lastBonusAt, now) {
		return 0
	}
	return lastBonusAt.Add(BonusWindow).Sub(now)
}
