package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/teemow/calagent/internal/calendar"
)

type ListEventsOutput struct {
	Events []calendar.Event `json:"events"`
	Count  int              `json:"count"`
}

type FindFreeSlotsOutput struct {
	Slots           []calendar.TimeRange `json:"slots"`
	DurationMinutes int                  `json:"duration_minutes"`
}

type CreateEventOutput struct {
	Event *calendar.Event `json:"event"`
}

type RescheduleEventOutput struct {
	Event *calendar.Event `json:"event"`
	// Previous is the event as it was before the move, when it was looked
	// up by query.
	Previous *calendar.Event `json:"previous,omitempty"`
}

type CancelEventOutput struct {
	EventID   string          `json:"event_id"`
	Cancelled bool            `json:"cancelled"`
	Event     *calendar.Event `json:"event,omitempty"`
}

const summaryTimeLayout = "Mon Jan 2 15:04 MST"

func formatWhen(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(summaryTimeLayout)
}

// summarize renders a short human-readable account of a tool result.
func summarize(out any, loc *time.Location) string {
	switch o := out.(type) {
	case ListEventsOutput:
		if o.Count == 0 {
			return "No events found in that period."
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Found %d event(s):", o.Count)
		for _, ev := range o.Events {
			fmt.Fprintf(&b, " %s at %s;", titleOf(&ev), formatWhen(ev.Start, loc))
		}
		return strings.TrimSuffix(b.String(), ";") + "."
	case FindFreeSlotsOutput:
		if len(o.Slots) == 0 {
			return fmt.Sprintf("No free %d-minute slots found.", o.DurationMinutes)
		}
		first := o.Slots[0]
		return fmt.Sprintf("Found %d free slot(s) of at least %d minutes; the earliest starts %s.",
			len(o.Slots), o.DurationMinutes, formatWhen(first.Start, loc))
	case CreateEventOutput:
		return fmt.Sprintf("Created %q for %s.", titleOf(o.Event), formatWhen(o.Event.Start, loc))
	case RescheduleEventOutput:
		return fmt.Sprintf("Rescheduled %q to %s.", titleOf(o.Event), formatWhen(o.Event.Start, loc))
	case CancelEventOutput:
		if o.Event != nil {
			return fmt.Sprintf("Event %q on %s was cancelled.", titleOf(o.Event), formatWhen(o.Event.Start, loc))
		}
		return fmt.Sprintf("Event %s was cancelled.", o.EventID)
	}
	return "Done."
}

func titleOf(ev *calendar.Event) string {
	if ev == nil || ev.Summary == "" {
		return "(untitled)"
	}
	return ev.Summary
}
