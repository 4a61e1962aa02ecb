package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
)

// Config configures the Google adapter.
type Config struct {
	// CalendarID is the calendar operated on (default "primary").
	CalendarID string
	// Endpoint overrides the API base URL.
	Endpoint string
	// Transport is the base round tripper (default http.DefaultTransport).
	Transport http.RoundTripper
	Timeout   time.Duration
}

// Adapter talks to Google Calendar on behalf of connected users.
type Adapter struct {
	caller *calendar.Caller
	cfg    Config
}

var _ calendar.Adapter = (*Adapter)(nil)

// New creates a Google adapter. caller.Provider must be google.
func New(caller *calendar.Caller, cfg Config) *Adapter {
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Adapter{caller: caller, cfg: cfg}
}

func (a *Adapter) Provider() credentials.Provider { return credentials.ProviderGoogle }

// service builds a Calendar service authorized with token.
func (a *Adapter) service(ctx context.Context, token string) (*gcal.Service, error) {
	base := a.cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client := &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base,
		},
		Timeout: a.cfg.Timeout,
	}
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if a.cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.Endpoint))
	}
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents lists single (expanded) events in r ordered by start time.
func (a *Adapter) ListEvents(ctx context.Context, userID string, r calendar.TimeRange, maxResults int) ([]calendar.Event, error) {
	return calendar.Do(ctx, a.caller, userID, "list", func(ctx context.Context, token string) ([]calendar.Event, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		call := svc.Events.List(a.cfg.CalendarID).
			TimeMin(r.Start.Format(time.RFC3339)).
			TimeMax(r.End.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime")
		if maxResults > 0 {
			call = call.MaxResults(int64(maxResults))
		}
		res, err := call.Context(ctx).Do()
		if err != nil {
			return nil, toProviderError(ctx, err)
		}
		events := make([]calendar.Event, 0, len(res.Items))
		for _, item := range res.Items {
			events = append(events, toEvent(item))
		}
		return events, nil
	})
}

// FindFreeSlots queries free/busy for the user's calendar and attendees and
// returns the shared gaps.
func (a *Adapter) FindFreeSlots(ctx context.Context, userID string, q calendar.SlotQuery) ([]calendar.TimeRange, error) {
	busy, err := calendar.Do(ctx, a.caller, userID, "freebusy", func(ctx context.Context, token string) ([]calendar.TimeRange, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		items := []*gcal.FreeBusyRequestItem{{Id: a.cfg.CalendarID}}
		for _, email := range q.Attendees {
			items = append(items, &gcal.FreeBusyRequestItem{Id: email})
		}
		res, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
			TimeMin: q.Range.Start.Format(time.RFC3339),
			TimeMax: q.Range.End.Format(time.RFC3339),
			Items:   items,
		}).Context(ctx).Do()
		if err != nil {
			return nil, toProviderError(ctx, err)
		}
		if err := freeBusyErrors(res); err != nil {
			return nil, err
		}

		var busy []calendar.TimeRange
		for _, cal := range res.Calendars {
			for _, period := range cal.Busy {
				start, err1 := time.Parse(time.RFC3339, period.Start)
				end, err2 := time.Parse(time.RFC3339, period.End)
				if err1 != nil || err2 != nil {
					continue
				}
				busy = append(busy, calendar.TimeRange{Start: start, End: end})
			}
		}
		return busy, nil
	})
	if err != nil {
		return nil, err
	}
	return calendar.FreeSlots(busy, q), nil
}

// freeBusyErrors reports calendars whose availability could not be read.
// An unreadable calendar is never counted as free.
func freeBusyErrors(res *gcal.FreeBusyResponse) error {
	var unresolved []string
	transient := false
	for id, cal := range res.Calendars {
		for _, e := range cal.Errors {
			unresolved = append(unresolved, fmt.Sprintf("%s (%s)", id, e.Reason))
			if e.Reason == "backendError" {
				transient = true
			}
		}
	}
	if len(unresolved) == 0 {
		return nil
	}
	slices.Sort(unresolved)
	pErr := &calendar.ProviderError{Message: "free/busy unavailable for " + strings.Join(unresolved, ", ")}
	if transient {
		pErr.StatusCode = http.StatusServiceUnavailable
	}
	return pErr
}

// CreateEvent inserts an event and notifies attendees.
func (a *Adapter) CreateEvent(ctx context.Context, userID string, fields calendar.EventFields) (*calendar.Event, error) {
	tz := fields.TimeZone
	if tz == "" {
		tz = "UTC"
	}
	event := &gcal.Event{
		Summary:     fields.Summary,
		Description: fields.Description,
		Location:    fields.Location,
		Start:       &gcal.EventDateTime{DateTime: fields.Start.Format(time.RFC3339), TimeZone: tz},
		End:         &gcal.EventDateTime{DateTime: fields.End.Format(time.RFC3339), TimeZone: tz},
	}
	for _, email := range fields.Attendees {
		event.Attendees = append(event.Attendees, &gcal.EventAttendee{Email: email})
	}

	return calendar.Do(ctx, a.caller, userID, "create", func(ctx context.Context, token string) (*calendar.Event, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		created, err := svc.Events.Insert(a.cfg.CalendarID, event).SendUpdates("all").Context(ctx).Do()
		if err != nil {
			return nil, toProviderError(ctx, err)
		}
		ev := toEvent(created)
		return &ev, nil
	})
}

// RescheduleEvent moves an event to [start, end).
func (a *Adapter) RescheduleEvent(ctx context.Context, userID, eventID string, start, end time.Time) (*calendar.Event, error) {
	id := calendar.ProviderEventID(credentials.ProviderGoogle, eventID)
	patch := &gcal.Event{
		Start: &gcal.EventDateTime{DateTime: start.Format(time.RFC3339)},
		End:   &gcal.EventDateTime{DateTime: end.Format(time.RFC3339)},
	}
	return calendar.Do(ctx, a.caller, userID, "update", func(ctx context.Context, token string) (*calendar.Event, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return nil, err
		}
		updated, err := svc.Events.Patch(a.cfg.CalendarID, id, patch).SendUpdates("all").Context(ctx).Do()
		if err != nil {
			return nil, toProviderError(ctx, err)
		}
		ev := toEvent(updated)
		return &ev, nil
	})
}

// CancelEvent deletes an event and notifies attendees.
func (a *Adapter) CancelEvent(ctx context.Context, userID, eventID string) error {
	id := calendar.ProviderEventID(credentials.ProviderGoogle, eventID)
	_, err := calendar.Do(ctx, a.caller, userID, "delete", func(ctx context.Context, token string) (struct{}, error) {
		svc, err := a.service(ctx, token)
		if err != nil {
			return struct{}{}, err
		}
		if err := svc.Events.Delete(a.cfg.CalendarID, id).SendUpdates("all").Context(ctx).Do(); err != nil {
			return struct{}{}, toProviderError(ctx, err)
		}
		return struct{}{}, nil
	})
	return err
}

// toProviderError classifies API and transport failures.
func toProviderError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &calendar.ProviderError{
			StatusCode: gErr.Code,
			Message:    gErr.Message,
			RetryAfter: calendar.ParseRetryAfter(gErr.Header.Get("Retry-After"), time.Now()),
			Err:        err,
		}
	}
	return &calendar.ProviderError{Err: err}
}

func parseEventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		loc := time.UTC
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		if t, err := time.ParseInLocation("2006-01-02", dt.Date, loc); err == nil {
			return t
		}
	}
	return time.Time{}
}

func toEvent(e *gcal.Event) calendar.Event {
	if e == nil {
		return calendar.Event{Provider: credentials.ProviderGoogle}
	}
	ev := calendar.Event{
		ID:              calendar.EventID(credentials.ProviderGoogle, e.Id),
		Summary:         e.Summary,
		Description:     e.Description,
		Location:        e.Location,
		Start:           parseEventTime(e.Start),
		End:             parseEventTime(e.End),
		Attendees:       []string{},
		Provider:        credentials.ProviderGoogle,
		ProviderEventID: e.Id,
		Status:          calendar.StatusConfirmed,
		HTMLLink:        e.HtmlLink,
	}
	switch e.Status {
	case "tentative":
		ev.Status = calendar.StatusTentative
	case "cancelled":
		ev.Status = calendar.StatusCancelled
	}
	for _, att := range e.Attendees {
		if att != nil && att.Email != "" {
			ev.Attendees = append(ev.Attendees, att.Email)
		}
	}
	return ev
}
