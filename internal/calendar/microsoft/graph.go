package microsoft

import (
	"strings"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
)

// graphTimeLayout is Graph's dateTimeTimeZone format (no offset, 7 digit
// fraction).
const graphTimeLayout = "2006-01-02T15:04:05.9999999"

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func toGraphTime(t time.Time) dateTimeTimeZone {
	return dateTimeTimeZone{DateTime: t.UTC().Format(graphTimeLayout), TimeZone: "UTC"}
}

func (d *dateTimeTimeZone) time() time.Time {
	if d == nil || d.DateTime == "" {
		return time.Time{}
	}
	loc := time.UTC
	if d.TimeZone != "" && !strings.EqualFold(d.TimeZone, "UTC") {
		if l, err := time.LoadLocation(d.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphTimeLayout, d.DateTime, loc)
	if err != nil {
		return time.Time{}
	}
	return t
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type attendee struct {
	EmailAddress emailAddress `json:"emailAddress"`
	Type         string       `json:"type,omitempty"`
}

type itemBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type location struct {
	DisplayName string `json:"displayName"`
}

type graphEvent struct {
	ID          string            `json:"id,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        *itemBody         `json:"body,omitempty"`
	BodyPreview string            `json:"bodyPreview,omitempty"`
	Location    *location         `json:"location,omitempty"`
	Start       *dateTimeTimeZone `json:"start,omitempty"`
	End         *dateTimeTimeZone `json:"end,omitempty"`
	Attendees   []attendee        `json:"attendees,omitempty"`
	ShowAs      string            `json:"showAs,omitempty"`
	IsCancelled bool              `json:"isCancelled,omitempty"`
	WebLink     string            `json:"webLink,omitempty"`
}

type eventList struct {
	Value    []graphEvent `json:"value"`
	NextLink string       `json:"@odata.nextLink,omitempty"`
}

type scheduleRequest struct {
	Schedules                []string         `json:"schedules"`
	StartTime                dateTimeTimeZone `json:"startTime"`
	EndTime                  dateTimeTimeZone `json:"endTime"`
	AvailabilityViewInterval int              `json:"availabilityViewInterval"`
}

type scheduleItem struct {
	Status string           `json:"status"`
	Start  dateTimeTimeZone `json:"start"`
	End    dateTimeTimeZone `json:"end"`
}

type freeBusyError struct {
	Message      string `json:"message"`
	ResponseCode string `json:"responseCode"`
}

type scheduleInformation struct {
	ScheduleID    string         `json:"scheduleId"`
	ScheduleItems []scheduleItem `json:"scheduleItems"`
	Error         *freeBusyError `json:"error,omitempty"`
}

type scheduleResponse struct {
	Value []scheduleInformation `json:"value"`
}

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func toEvent(e graphEvent) calendar.Event {
	ev := calendar.Event{
		ID:              calendar.EventID(credentials.ProviderMicrosoft, e.ID),
		Summary:         e.Subject,
		Start:           e.Start.time(),
		End:             e.End.time(),
		Attendees:       []string{},
		Provider:        credentials.ProviderMicrosoft,
		ProviderEventID: e.ID,
		Status:          calendar.StatusConfirmed,
		HTMLLink:        e.WebLink,
	}
	if e.Body != nil && e.Body.ContentType == "text" {
		ev.Description = e.Body.Content
	} else {
		ev.Description = e.BodyPreview
	}
	if e.Location != nil {
		ev.Location = e.Location.DisplayName
	}
	switch {
	case e.IsCancelled:
		ev.Status = calendar.StatusCancelled
	case strings.EqualFold(e.ShowAs, "tentative"):
		ev.Status = calendar.StatusTentative
	}
	for _, a := range e.Attendees {
		if a.EmailAddress.Address != "" {
			ev.Attendees = append(ev.Attendees, a.EmailAddress.Address)
		}
	}
	return ev
}

// busyFromEvents keeps events that block time.
func busyFromEvents(events []graphEvent) []calendar.TimeRange {
	var busy []calendar.TimeRange
	for _, e := range events {
		if e.IsCancelled || strings.EqualFold(e.ShowAs, "free") {
			continue
		}
		r := calendar.TimeRange{Start: e.Start.time(), End: e.End.time()}
		if r.Valid() {
			busy = append(busy, r)
		}
	}
	return busy
}
