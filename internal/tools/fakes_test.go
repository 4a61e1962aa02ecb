package tools

import (
	"context"
	"sync"
	"time"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/llm"
)

type fakeGenerator struct {
	text  string
	err   error
	calls int
	last  string
}

func (g *fakeGenerator) Generate(_ context.Context, _ string, prompt string) (llm.Completion, error) {
	g.calls++
	g.last = prompt
	if g.err != nil {
		return llm.Completion{}, g.err
	}
	return llm.Completion{Text: g.text, Tier: "primary", Model: "test-model"}, nil
}

type fakeAdapter struct {
	mu sync.Mutex

	events []calendar.Event
	slots  []calendar.TimeRange
	err    error

	calls       []string
	lastRange   calendar.TimeRange
	lastMax     int
	lastQuery   calendar.SlotQuery
	lastFields  calendar.EventFields
	lastEventID string
}

func (a *fakeAdapter) Provider() credentials.Provider { return credentials.ProviderGoogle }

func (a *fakeAdapter) record(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, op)
}

func (a *fakeAdapter) ListEvents(_ context.Context, _ string, r calendar.TimeRange, maxResults int) ([]calendar.Event, error) {
	a.record("list")
	a.lastRange, a.lastMax = r, maxResults
	return a.events, a.err
}

func (a *fakeAdapter) FindFreeSlots(_ context.Context, _ string, q calendar.SlotQuery) ([]calendar.TimeRange, error) {
	a.record("free")
	a.lastQuery = q
	return a.slots, a.err
}

func (a *fakeAdapter) CreateEvent(_ context.Context, _ string, f calendar.EventFields) (*calendar.Event, error) {
	a.record("create")
	a.lastFields = f
	if a.err != nil {
		return nil, a.err
	}
	return &calendar.Event{
		ID:              calendar.EventID(credentials.ProviderGoogle, "new1"),
		ProviderEventID: "new1",
		Summary:         f.Summary,
		Start:           f.Start,
		End:             f.End,
		Provider:        credentials.ProviderGoogle,
		Status:          calendar.StatusConfirmed,
	}, nil
}

func (a *fakeAdapter) RescheduleEvent(_ context.Context, _ string, eventID string, start, end time.Time) (*calendar.Event, error) {
	a.record("reschedule")
	a.lastEventID = eventID
	if a.err != nil {
		return nil, a.err
	}
	return &calendar.Event{
		ID:              calendar.EventID(credentials.ProviderGoogle, eventID),
		ProviderEventID: eventID,
		Summary:         "Standup",
		Start:           start,
		End:             end,
		Provider:        credentials.ProviderGoogle,
		Status:          calendar.StatusConfirmed,
	}, nil
}

func (a *fakeAdapter) CancelEvent(_ context.Context, _ string, eventID string) error {
	a.record("cancel")
	a.lastEventID = eventID
	return a.err
}

// Monday 2025-01-06 08:00 UTC.
var testNow = time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

func newTestDispatcher(gen Generator, adapter *fakeAdapter, opts ...Option) *Dispatcher {
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	return NewDispatcher(
		calendar.Registry{credentials.ProviderGoogle: adapter},
		gen,
		Config{Location: time.UTC, WorkingHours: calendar.DefaultWorkingHours(time.UTC)},
		opts...,
	)
}

func googleRequest(in string, text string) Request {
	return Request{RunID: "run-1", UserID: "alice", Provider: credentials.ProviderGoogle, Text: text, Intent: intentOf(in)}
}
