package tools

import (
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/intent"
)

const (
	// MinDurationMinutes and MaxDurationMinutes bound slot and event lengths.
	MinDurationMinutes = 5
	MaxDurationMinutes = 480

	defaultMaxResults = 25
	maxMaxResults     = 250

	// MaxSlotSearchDays bounds the range of a free slot search.
	MaxSlotSearchDays = 31
	// defaultLookupWindow is searched for events named by query when the
	// model gives no window.
	defaultLookupWindow = 14 * 24 * time.Hour
)

// Input is a validated tool input.
type Input interface {
	Intent() intent.Intent
}

type ListEventsInput struct {
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	MaxResults int       `json:"max_results"`
}

func (ListEventsInput) Intent() intent.Intent { return intent.ListEvents }

type FindFreeSlotsInput struct {
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"duration_minutes"`
	Attendees       []string  `json:"attendees,omitempty"`
	// WorkingHours is the "HH:MM-HH:MM" window applied to the search.
	WorkingHours string `json:"working_hours"`

	hours calendar.WorkingHours
}

func (FindFreeSlotsInput) Intent() intent.Intent { return intent.FindFreeSlots }

type CreateEventInput struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Attendees   []string  `json:"attendees,omitempty"`
}

func (CreateEventInput) Intent() intent.Intent { return intent.CreateEvent }

// EventRef names an existing event either by id or by a title query
// searched for inside a window.
type EventRef struct {
	EventID     string    `json:"event_id,omitempty"`
	Query       string    `json:"query,omitempty"`
	SearchStart time.Time `json:"search_start,omitzero"`
	SearchEnd   time.Time `json:"search_end,omitzero"`
}

type RescheduleEventInput struct {
	EventRef
	NewStart time.Time `json:"new_start"`
	NewEnd   time.Time `json:"new_end"`
}

func (RescheduleEventInput) Intent() intent.Intent { return intent.RescheduleEvent }

type CancelEventInput struct {
	EventRef
}

func (CancelEventInput) Intent() intent.Intent { return intent.CancelEvent }

// parseInput decodes and validates the model's JSON for in.
func parseInput(in intent.Intent, text string, loc *time.Location, hours calendar.WorkingHours) (Input, error) {
	p, err := decodePayload(string(in), text, loc)
	if err != nil {
		return nil, err
	}
	switch in {
	case intent.ListEvents:
		return parseListEvents(p)
	case intent.FindFreeSlots:
		return parseFindFreeSlots(p, hours)
	case intent.CreateEvent:
		return parseCreateEvent(p)
	case intent.RescheduleEvent:
		return parseRescheduleEvent(p)
	case intent.CancelEvent:
		return parseCancelEvent(p)
	}
	return nil, ErrIntentUnrecognized
}

func (p *payload) interval(startField, endField string) (time.Time, time.Time, error) {
	start, err := p.requiredTimestamp(startField)
	if err != nil {
		return start, start, err
	}
	end, err := p.requiredTimestamp(endField)
	if err != nil {
		return start, end, err
	}
	if !end.After(start) {
		return start, end, p.invalid(endField, "must be after %s", startField)
	}
	return start, end, nil
}

func (p *payload) boundedLength(start, end time.Time, field string) error {
	d := end.Sub(start)
	if d < MinDurationMinutes*time.Minute || d > MaxDurationMinutes*time.Minute {
		return p.invalid(field, "gives a length of %s, outside %d to %d minutes", d, MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}

func parseListEvents(p *payload) (Input, error) {
	start, end, err := p.interval("start", "end")
	if err != nil {
		return nil, err
	}
	n, ok, err := p.integer("max_results")
	if err != nil {
		return nil, err
	}
	switch {
	case !ok || n == 0:
		n = defaultMaxResults
	case n < 0:
		return nil, p.invalid("max_results", "must be positive")
	case n > maxMaxResults:
		n = maxMaxResults
	}
	return ListEventsInput{Start: start, End: end, MaxResults: n}, nil
}

func parseFindFreeSlots(p *payload, hours calendar.WorkingHours) (Input, error) {
	start, end, err := p.interval("start", "end")
	if err != nil {
		return nil, err
	}
	if end.Sub(start) > MaxSlotSearchDays*24*time.Hour {
		return nil, p.invalid("end", "must be within %d days of start", MaxSlotSearchDays)
	}
	d, ok, err := p.integer("duration_minutes")
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, p.invalid("duration_minutes", "is required")
	}
	if d < MinDurationMinutes || d > MaxDurationMinutes {
		return nil, p.invalid("duration_minutes", "must be between %d and %d, got %d", MinDurationMinutes, MaxDurationMinutes, d)
	}
	attendees, err := p.emails("attendees")
	if err != nil {
		return nil, err
	}

	whStart, whEnd := p.str("working_hours_start"), p.str("working_hours_end")
	if whStart != "" || whEnd != "" {
		if whStart == "" || whEnd == "" {
			return nil, p.invalid("working_hours_start", "and working_hours_end must be given together")
		}
		custom, err := calendar.ParseWorkingHours(whStart, whEnd, p.loc)
		if err != nil {
			return nil, &InputError{Tool: p.tool, Field: "working_hours_start", Reason: err.Error(), Err: err}
		}
		hours = custom
	}

	return FindFreeSlotsInput{
		Start:           start,
		End:             end,
		DurationMinutes: d,
		Attendees:       attendees,
		WorkingHours:    hours.String(),
		hours:           hours,
	}, nil
}

func parseCreateEvent(p *payload) (Input, error) {
	summary, err := p.requiredStr("summary")
	if err != nil {
		return nil, err
	}
	start, end, err := p.interval("start", "end")
	if err != nil {
		return nil, err
	}
	if err := p.boundedLength(start, end, "end"); err != nil {
		return nil, err
	}
	attendees, err := p.emails("attendees")
	if err != nil {
		return nil, err
	}
	return CreateEventInput{
		Summary:     summary,
		Description: p.str("description"),
		Location:    p.str("location"),
		Start:       start,
		End:         end,
		Attendees:   attendees,
	}, nil
}

func (p *payload) eventRef() (EventRef, error) {
	ref := EventRef{EventID: p.str("event_id"), Query: p.str("query")}
	if ref.EventID == "" && ref.Query == "" {
		return ref, p.invalid("event_id", "is required when no query identifies the event")
	}
	var err error
	if ref.SearchStart, err = p.timestamp("search_start"); err != nil {
		return ref, err
	}
	if ref.SearchEnd, err = p.timestamp("search_end"); err != nil {
		return ref, err
	}
	if !ref.SearchStart.IsZero() && !ref.SearchEnd.IsZero() && !ref.SearchEnd.After(ref.SearchStart) {
		return ref, p.invalid("search_end", "must be after search_start")
	}
	return ref, nil
}

func parseRescheduleEvent(p *payload) (Input, error) {
	ref, err := p.eventRef()
	if err != nil {
		return nil, err
	}
	start, end, err := p.interval("new_start", "new_end")
	if err != nil {
		return nil, err
	}
	if err := p.boundedLength(start, end, "new_end"); err != nil {
		return nil, err
	}
	return RescheduleEventInput{EventRef: ref, NewStart: start, NewEnd: end}, nil
}

func parseCancelEvent(p *payload) (Input, error) {
	ref, err := p.eventRef()
	if err != nil {
		return nil, err
	}
	return CancelEventInput{EventRef: ref}, nil
}
