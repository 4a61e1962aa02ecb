package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
)

// DefaultBaseURL is the Graph v1.0 root.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// maxPages bounds how many @odata.nextLink pages one calendar view follows.
const maxPages = 50

// Config configures the Microsoft adapter.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
}

// Adapter talks to Outlook calendars through Microsoft Graph.
type Adapter struct {
	caller  *calendar.Caller
	baseURL string
	client  *http.Client
}

var _ calendar.Adapter = (*Adapter)(nil)

// New creates a Microsoft adapter.
func New(caller *calendar.Caller, cfg Config) *Adapter {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Adapter{caller: caller, baseURL: base, client: client}
}

func (a *Adapter) Provider() credentials.Provider { return credentials.ProviderMicrosoft }

// send issues one Graph request and decodes a JSON response into out.
func (a *Adapter) send(ctx context.Context, token, method, path string, query url.Values, body, out any) error {
	u := a.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return a.sendURL(ctx, token, method, u, body, out)
}

func (a *Adapter) sendURL(ctx context.Context, token, method, u string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &calendar.ProviderError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return responseError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &calendar.ProviderError{StatusCode: resp.StatusCode, Message: "malformed response body", Err: err}
	}
	return nil
}

func responseError(resp *http.Response) error {
	pErr := &calendar.ProviderError{
		StatusCode: resp.StatusCode,
		RetryAfter: calendar.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var gErr graphError
	if json.Unmarshal(data, &gErr) == nil && gErr.Error.Message != "" {
		pErr.Message = gErr.Error.Code + ": " + gErr.Error.Message
	} else {
		pErr.Message = http.StatusText(resp.StatusCode)
	}
	return pErr
}

func (a *Adapter) calendarView(ctx context.Context, token string, r calendar.TimeRange, top int) ([]graphEvent, error) {
	q := url.Values{}
	q.Set("startDateTime", r.Start.UTC().Format(time.RFC3339))
	q.Set("endDateTime", r.End.UTC().Format(time.RFC3339))
	q.Set("$orderby", "start/dateTime")
	if top > 0 {
		q.Set("$top", strconv.Itoa(top))
	}
	var events []graphEvent
	var list eventList
	if err := a.send(ctx, token, http.MethodGet, "/me/calendarView", q, nil, &list); err != nil {
		return nil, err
	}
	for page := 1; ; page++ {
		events = append(events, list.Value...)
		if top > 0 && len(events) >= top {
			return events[:top], nil
		}
		if list.NextLink == "" {
			return events, nil
		}
		if page >= maxPages {
			return nil, &calendar.ProviderError{Message: fmt.Sprintf("calendar view exceeds %d pages", maxPages)}
		}
		if !strings.HasPrefix(list.NextLink, a.baseURL+"/") {
			return nil, &calendar.ProviderError{Message: "unexpected next page link " + list.NextLink}
		}
		next := list.NextLink
		list = eventList{}
		if err := a.sendURL(ctx, token, http.MethodGet, next, nil, &list); err != nil {
			return nil, err
		}
	}
}

// ListEvents lists occurrences in r ordered by start time.
func (a *Adapter) ListEvents(ctx context.Context, userID string, r calendar.TimeRange, maxResults int) ([]calendar.Event, error) {
	return calendar.Do(ctx, a.caller, userID, "list", func(ctx context.Context, token string) ([]calendar.Event, error) {
		raw, err := a.calendarView(ctx, token, r, maxResults)
		if err != nil {
			return nil, err
		}
		events := make([]calendar.Event, 0, len(raw))
		for _, e := range raw {
			events = append(events, toEvent(e))
		}
		return events, nil
	})
}

// FindFreeSlots combines the user's own calendar view with attendee
// schedules from getSchedule.
func (a *Adapter) FindFreeSlots(ctx context.Context, userID string, q calendar.SlotQuery) ([]calendar.TimeRange, error) {
	busy, err := calendar.Do(ctx, a.caller, userID, "freebusy", func(ctx context.Context, token string) ([]calendar.TimeRange, error) {
		own, err := a.calendarView(ctx, token, q.Range, 0)
		if err != nil {
			return nil, err
		}
		busy := busyFromEvents(own)
		if len(q.Attendees) == 0 {
			return busy, nil
		}

		var sched scheduleResponse
		err = a.send(ctx, token, http.MethodPost, "/me/calendar/getSchedule", nil, scheduleRequest{
			Schedules:                q.Attendees,
			StartTime:                toGraphTime(q.Range.Start),
			EndTime:                  toGraphTime(q.Range.End),
			AvailabilityViewInterval: 15,
		}, &sched)
		if err != nil {
			return nil, err
		}
		var unresolved []string
		for _, info := range sched.Value {
			if info.Error != nil {
				unresolved = append(unresolved, fmt.Sprintf("%s (%s)", info.ScheduleID, info.Error.ResponseCode))
				continue
			}
			for _, item := range info.ScheduleItems {
				if strings.EqualFold(item.Status, "free") {
					continue
				}
				r := calendar.TimeRange{Start: item.Start.time(), End: item.End.time()}
				if r.Valid() {
					busy = append(busy, r)
				}
			}
		}
		// An unreadable schedule is not a free one.
		if len(unresolved) > 0 {
			return nil, &calendar.ProviderError{Message: "free/busy unavailable for " + strings.Join(unresolved, ", ")}
		}
		return busy, nil
	})
	if err != nil {
		return nil, err
	}
	return calendar.FreeSlots(busy, q), nil
}

// CreateEvent creates an event; Graph sends invitations to attendees.
func (a *Adapter) CreateEvent(ctx context.Context, userID string, fields calendar.EventFields) (*calendar.Event, error) {
	start, end := toGraphTime(fields.Start), toGraphTime(fields.End)
	body := graphEvent{
		Subject: fields.Summary,
		Start:   &start,
		End:     &end,
	}
	if fields.Description != "" {
		body.Body = &itemBody{ContentType: "text", Content: fields.Description}
	}
	if fields.Location != "" {
		body.Location = &location{DisplayName: fields.Location}
	}
	for _, email := range fields.Attendees {
		body.Attendees = append(body.Attendees, attendee{EmailAddress: emailAddress{Address: email}, Type: "required"})
	}

	return calendar.Do(ctx, a.caller, userID, "create", func(ctx context.Context, token string) (*calendar.Event, error) {
		var created graphEvent
		if err := a.send(ctx, token, http.MethodPost, "/me/events", nil, body, &created); err != nil {
			return nil, err
		}
		ev := toEvent(created)
		return &ev, nil
	})
}

// RescheduleEvent moves an event to [start, end).
func (a *Adapter) RescheduleEvent(ctx context.Context, userID, eventID string, start, end time.Time) (*calendar.Event, error) {
	id := calendar.ProviderEventID(credentials.ProviderMicrosoft, eventID)
	s, e := toGraphTime(start), toGraphTime(end)
	patch := graphEvent{Start: &s, End: &e}

	return calendar.Do(ctx, a.caller, userID, "update", func(ctx context.Context, token string) (*calendar.Event, error) {
		var updated graphEvent
		if err := a.send(ctx, token, http.MethodPatch, "/me/events/"+url.PathEscape(id), nil, patch, &updated); err != nil {
			return nil, err
		}
		ev := toEvent(updated)
		return &ev, nil
	})
}

// CancelEvent deletes an event.
func (a *Adapter) CancelEvent(ctx context.Context, userID, eventID string) error {
	id := calendar.ProviderEventID(credentials.ProviderMicrosoft, eventID)
	_, err := calendar.Do(ctx, a.caller, userID, "delete", func(ctx context.Context, token string) (struct{}, error) {
		return struct{}{}, a.send(ctx, token, http.MethodDelete, "/me/events/"+url.PathEscape(id), nil, nil, nil)
	})
	return err
}
