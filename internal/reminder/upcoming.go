package reminder

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/birthdayd/internal/model"
)

// UpcomingBirthday is a birthday projected onto its next occurrence.
type UpcomingBirthday struct {
	model.Birthday
	DaysUntil  int    `json:"days_until"`
	TargetDate string `json:"target_date"`
}

// Weekdays in the order the grouped view presents them.
var Weekdays = []string{
	"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
}

// Upcoming filters birthdays down to those whose next occurrence falls
// within days from now, sorted soonest first. A birthday today counts with
// days_until 0. Unparsable dates are skipped.
func Upcoming(birthdays []model.Birthday, now time.Time, days int) []UpcomingBirthday {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := today.AddDate(0, 0, days)

	upcoming := []UpcomingBirthday{}
	for _, b := range birthdays {
		born, err := time.Parse(model.DateLayout, b.Birthday)
		if err != nil {
			continue
		}
		target := time.Date(today.Year(), born.Month(), born.Day(), 0, 0, 0, 0, time.UTC)
		if target.Before(today) {
			target = time.Date(today.Year()+1, born.Month(), born.Day(), 0, 0, 0, 0, time.UTC)
		}
		if target.After(end) {
			continue
		}
		upcoming = append(upcoming, UpcomingBirthday{
			Birthday:   b,
			DaysUntil:  int(target.Sub(today).Hours() / 24),
			TargetDate: target.Format(model.DateLayout),
		})
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].DaysUntil < upcoming[j].DaysUntil
	})
	return upcoming
}

// GroupByWeekday buckets upcoming birthdays by the weekday of their next
// occurrence. Every weekday key is present even when empty, sorted soonest
// first within each bucket.
func GroupByWeekday(upcoming []UpcomingBirthday) map[string][]UpcomingBirthday {
	grouped := make(map[string][]UpcomingBirthday, len(Weekdays))
	for _, day := range Weekdays {
		grouped[day] = []UpcomingBirthday{}
	}
	for _, u := range upcoming {
		target, err := time.Parse(model.DateLayout, u.TargetDate)
		if err != nil {
			continue
		}
		day := target.Weekday().String()
		grouped[day] = append(grouped[day], u)
	}
	return grouped
}

// DigestSubject is the subject line for a digest covering the next n days.
func DigestSubject(days int) string {
	return fmt.Sprintf("Birthday Digest - Next %d Days", days)
}

// DigestBody renders the digest HTML: one list item per upcoming birthday.
func DigestBody(upcoming []UpcomingBirthday) string {
	var sb strings.Builder
	sb.WriteString("<h2>Upcoming Birthdays</h2><ul>")
	for _, u := range upcoming {
		daysText := fmt.Sprintf("in %d days", u.DaysUntil)
		if u.DaysUntil == 0 {
			daysText = "Today!"
		}
		fmt.Fprintf(&sb, "<li><strong>%s</strong> - %s (%s)</li>",
			html.EscapeString(u.Name), u.TargetDate, daysText)
	}
	sb.WriteString("</ul>")
	return sb.String()
}
