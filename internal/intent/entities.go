package intent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Entities are values pulled from the request text that help the model
// produce a precise structured input.
type Entities struct {
	// Date is an ISO date (YYYY-MM-DD), either literal or resolved from a
	// relative day such as "tomorrow" or "friday".
	Date string `json:"date,omitempty"`
	// Time is a 24-hour HH:MM clock time.
	Time            string   `json:"time,omitempty"`
	DurationMinutes int      `json:"duration_minutes,omitempty"`
	Attendees       []string `json:"attendees,omitempty"`
}

var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	clockPattern    = regexp.MustCompile(`\b(\d{1,2}):(\d{2})\s*(am|pm)?\b`)
	meridiemPattern = regexp.MustCompile(`\b(\d{1,2})\s*(am|pm)\b`)
	durationPattern = regexp.MustCompile(`\b(\d+)\s*(hours?|hrs?|h|minutes?|mins?|m)\b`)
	emailPattern    = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ExtractEntities finds dates, times, durations and attendee addresses in
// text. Relative days resolve against now in now's location; a weekday name
// means its next occurrence after today.
func ExtractEntities(text string, now time.Time) Entities {
	var e Entities
	lower := strings.ToLower(text)

	if m := isoDatePattern.FindStringSubmatch(lower); m != nil {
		e.Date = m[1]
	} else {
		e.Date = relativeDate(tokenize(lower), now)
	}

	if m := clockPattern.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		mins, _ := strconv.Atoi(m[2])
		if t, ok := clock(h, mins, m[3]); ok {
			e.Time = t
		}
	} else if m := meridiemPattern.FindStringSubmatch(lower); m != nil {
		h, _ := strconv.Atoi(m[1])
		if t, ok := clock(h, 0, m[2]); ok {
			e.Time = t
		}
	}

	if strings.Contains(lower, "half an hour") || strings.Contains(lower, "half hour") {
		e.DurationMinutes = 30
	} else if m := durationPattern.FindStringSubmatch(lower); m != nil {
		v, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(m[2], "h") {
			v *= 60
		}
		e.DurationMinutes = v
	} else if strings.Contains(lower, "an hour") {
		e.DurationMinutes = 60
	}

	seen := make(map[string]bool)
	for _, addr := range emailPattern.FindAllString(text, -1) {
		addr = strings.ToLower(addr)
		if !seen[addr] {
			seen[addr] = true
			e.Attendees = append(e.Attendees, addr)
		}
	}
	return e
}

func clock(hour, minute int, meridiem string) (string, bool) {
	switch meridiem {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

func relativeDate(tokens []string, now time.Time) string {
	for _, t := range tokens {
		switch t {
		case "today", "tonight":
			return now.Format(time.DateOnly)
		case "tomorrow":
			return now.AddDate(0, 0, 1).Format(time.DateOnly)
		}
		wd, ok := weekdays[t]
		if !ok {
			continue
		}
		days := (int(wd) - int(now.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return now.AddDate(0, 0, days).Format(time.DateOnly)
	}
	return ""
}

// Hints renders the entities as prompt lines. It returns "" when nothing
// was found.
func (e Entities) Hints() string {
	var b strings.Builder
	if e.Date != "" {
		fmt.Fprintf(&b, "- date: %s\n", e.Date)
	}
	if e.Time != "" {
		fmt.Fprintf(&b, "- time: %s\n", e.Time)
	}
	if e.DurationMinutes > 0 {
		fmt.Fprintf(&b, "- duration_minutes: %d\n", e.DurationMinutes)
	}
	if len(e.Attendees) > 0 {
		fmt.Fprintf(&b, "- attendees: %s\n", strings.Join(e.Attendees, ", "))
	}
	return b.String()
}
