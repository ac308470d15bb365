package model

import "time"

// DateLayout is the storage format for birthday dates.
const DateLayout = "2006-01-02"

// Birthday is one tracked person.
type Birthday struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Birthday string  `json:"birthday"` // YYYY-MM-DD
	Photo    *string `json:"photo"`
	Gender   *string `json:"gender"`
	Age      int     `json:"age"`
}

// HasPhoto reports whether a photo path is stored.
func (b Birthday) HasPhoto() bool {
	return b.Photo != nil && *b.Photo != ""
}

// AgeOn returns the calendar age on the given day, or 0 if the stored date
// is unparsable.
func AgeOn(birthday string, now time.Time) int {
	born, err := time.Parse(DateLayout, birthday)
	if err != nil {
		return 0
	}
	age := now.Year() - born.Year()
	if now.Month() < born.Month() || (now.Month() == born.Month() && now.Day() < born.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}
