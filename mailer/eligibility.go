package mailer

import "time"

// reminderStartHour is the earliest hour of the day reminders go out.
const reminderStartHour = 7

// ShouldSendReminderNow decides whether the daily reminder batch runs.
// Reminders go out on weekdays from 07:00 on, at most once per day of the
// year.  A zero lastSent means no reminder was ever sent.
//
// Only the day of the year is compared, so a reminder sent on the same
// day number of a previous year suppresses today's batch.
func ShouldSendReminderNow(now, lastSent time.Time) bool {
	if now.Hour() < reminderStartHour {
		return false
	}
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if lastSent.IsZero() {
		return true
	}
	return now.YearDay() != lastSent.In(now.Location()).YearDay()
}
