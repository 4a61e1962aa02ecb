package tools

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/instrumentation"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/llm"
	"github.com/teemow/calagent/internal/oauth"
)

func intentOf(s string) intent.Intent { return intent.Intent(s) }

func TestDispatch_CancelByQuery(t *testing.T) {
	gen := &fakeGenerator{text: `{"event_id":"","query":"team meeting","search_start":"2025-01-07T00:00:00Z","search_end":"2025-01-08T00:00:00Z"}`}
	adapter := &fakeAdapter{events: []calendar.Event{
		{Summary: "Lunch", ProviderEventID: "evt0", Start: time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC)},
		{Summary: "Team meeting", ProviderEventID: "evt1", Start: time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)},
		{Summary: "Team sync", ProviderEventID: "evt2", Start: time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)},
	}}
	d := newTestDispatcher(gen, adapter)

	res, err := d.Dispatch(context.Background(), googleRequest("cancel_event", "Cancel my team meeting tomorrow"))
	require.NoError(t, err)

	assert.Equal(t, []string{"list", "cancel"}, adapter.calls)
	assert.Equal(t, "evt1", adapter.lastEventID)
	assert.True(t, adapter.lastRange.Start.Equal(time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)))

	out, ok := res.Output.(CancelEventOutput)
	require.True(t, ok)
	assert.True(t, out.Cancelled)
	assert.Equal(t, "google:evt1", out.EventID)
	assert.Equal(t, "cancel_event", res.Tool)
	assert.Contains(t, res.Summary, "cancel")
	assert.Contains(t, res.Summary, "Team meeting")

	assert.Contains(t, gen.last, "Cancel my team meeting tomorrow")
	assert.Contains(t, gen.last, "- date: 2025-01-07")
}

func TestDispatch_CancelByID(t *testing.T) {
	gen := &fakeGenerator{text: `{"event_id":"google:abc"}`}
	adapter := &fakeAdapter{}
	d := newTestDispatcher(gen, adapter)

	res, err := d.Dispatch(context.Background(), googleRequest("cancel_event", "Delete event google:abc"))
	require.NoError(t, err)
	assert.Equal(t, []string{"cancel"}, adapter.calls)
	assert.Equal(t, "abc", adapter.lastEventID)
	assert.Equal(t, "Event google:abc was cancelled.", res.Summary)
}

func TestDispatch_LookupNotFound(t *testing.T) {
	gen := &fakeGenerator{text: `{"query":"board review"}`}
	adapter := &fakeAdapter{events: []calendar.Event{{Summary: "Lunch", ProviderEventID: "e"}}}
	d := newTestDispatcher(gen, adapter)

	_, err := d.Dispatch(context.Background(), googleRequest("cancel_event", "cancel the board review"))
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.True(t, ee.NotFound())
	assert.Equal(t, http.StatusNotFound, ee.Status)
	assert.Contains(t, ee.Message, "board review")
	assert.Equal(t, []string{"list"}, adapter.calls)
	// Without a window the lookup searches from a day ago.
	assert.True(t, adapter.lastRange.Start.Equal(testNow.Add(-24*time.Hour)))
	assert.True(t, adapter.lastRange.End.Equal(testNow.Add(-24*time.Hour).Add(defaultLookupWindow)))
}

func TestDispatch_Create(t *testing.T) {
	gen := &fakeGenerator{text: `{"summary":"Design review","start":"2025-01-07T14:00:00","end":"2025-01-07T14:45:00","attendees":["Bo@Corp.io"]}`}
	adapter := &fakeAdapter{}
	d := newTestDispatcher(gen, adapter)

	res, err := d.Dispatch(context.Background(), googleRequest("create_event", "Schedule a design review"))
	require.NoError(t, err)
	assert.Equal(t, []string{"create"}, adapter.calls)
	assert.Equal(t, "Design review", adapter.lastFields.Summary)
	assert.Equal(t, []string{"bo@corp.io"}, adapter.lastFields.Attendees)
	assert.True(t, adapter.lastFields.Start.Equal(time.Date(2025, 1, 7, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, "UTC", adapter.lastFields.TimeZone)
	assert.Equal(t, `Created "Design review" for Tue Jan 7 14:00 UTC.`, res.Summary)
}

func TestDispatch_Reschedule(t *testing.T) {
	gen := &fakeGenerator{text: `{"query":"standup","new_start":"2025-01-07T10:00:00Z","new_end":"2025-01-07T10:15:00Z"}`}
	adapter := &fakeAdapter{events: []calendar.Event{{Summary: "Daily standup", ProviderEventID: "s1", Start: testNow.Add(time.Hour)}}}
	d := newTestDispatcher(gen, adapter)

	res, err := d.Dispatch(context.Background(), googleRequest("reschedule_event", "move my standup to 10am tomorrow"))
	require.NoError(t, err)
	assert.Equal(t, []string{"list", "reschedule"}, adapter.calls)
	assert.Equal(t, "s1", adapter.lastEventID)
	out := res.Output.(RescheduleEventOutput)
	require.NotNil(t, out.Previous)
	assert.Equal(t, "Daily standup", out.Previous.Summary)
	assert.Contains(t, res.Summary, "Rescheduled")
}

func TestDispatch_ListAndFreeSlots(t *testing.T) {
	t.Run("list defaults max results", func(t *testing.T) {
		gen := &fakeGenerator{text: `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z"}`}
		adapter := &fakeAdapter{}
		res, err := newTestDispatcher(gen, adapter).Dispatch(context.Background(), googleRequest("list_events", "what's on tomorrow"))
		require.NoError(t, err)
		assert.Equal(t, defaultMaxResults, adapter.lastMax)
		out := res.Output.(ListEventsOutput)
		assert.NotNil(t, out.Events)
		assert.Equal(t, "No events found in that period.", res.Summary)
	})

	t.Run("free slots with default working hours", func(t *testing.T) {
		gen := &fakeGenerator{text: `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":"30","attendees":"ann@example.com"}`}
		adapter := &fakeAdapter{slots: []calendar.TimeRange{{
			Start: time.Date(2025, 1, 7, 10, 30, 0, 0, time.UTC),
			End:   time.Date(2025, 1, 7, 12, 0, 0, 0, time.UTC),
		}}}
		res, err := newTestDispatcher(gen, adapter).Dispatch(context.Background(), googleRequest("find_free_slots", "find 30 minutes tomorrow"))
		require.NoError(t, err)
		assert.Equal(t, 30*time.Minute, adapter.lastQuery.Duration)
		assert.Equal(t, []string{"ann@example.com"}, adapter.lastQuery.Attendees)
		assert.Equal(t, 9*time.Hour, adapter.lastQuery.WorkingHours.Start)
		assert.Equal(t, "09:00-17:00", res.Input.(FindFreeSlotsInput).WorkingHours)
		assert.Contains(t, res.Summary, "Tue Jan 7 10:30 UTC")
	})

	t.Run("free slots never start in the past", func(t *testing.T) {
		gen := &fakeGenerator{text: `{"start":"2025-01-06T00:00:00Z","end":"2025-01-07T00:00:00Z","duration_minutes":30}`}
		adapter := &fakeAdapter{}
		_, err := newTestDispatcher(gen, adapter).Dispatch(context.Background(), googleRequest("find_free_slots", "am I free today"))
		require.NoError(t, err)
		assert.Equal(t, testNow, adapter.lastQuery.NotBefore)
	})

	t.Run("free slots with working hours override", func(t *testing.T) {
		gen := &fakeGenerator{text: `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":60,"working_hours_start":"07:00","working_hours_end":"11:00"}`}
		adapter := &fakeAdapter{}
		res, err := newTestDispatcher(gen, adapter).Dispatch(context.Background(), googleRequest("find_free_slots", "free early tomorrow?"))
		require.NoError(t, err)
		assert.Equal(t, 7*time.Hour, adapter.lastQuery.WorkingHours.Start)
		assert.Equal(t, "No free 60-minute slots found.", res.Summary)
	})
}

func TestPrepare_InputErrorsMakeNoProviderCalls(t *testing.T) {
	tests := []struct {
		name   string
		intent string
		output string
		field  string
	}{
		{"malformed json", "create_event", `{"summary": `, ""},
		{"not an object", "create_event", `["a"]`, ""},
		{"missing summary", "create_event", `{"start":"2025-01-07T10:00:00Z","end":"2025-01-07T11:00:00Z"}`, "summary"},
		{"end before start", "create_event", `{"summary":"x","start":"2025-01-07T10:00:00Z","end":"2025-01-07T09:00:00Z"}`, "end"},
		{"end equals start", "list_events", `{"start":"2025-01-07T10:00:00Z","end":"2025-01-07T10:00:00Z"}`, "end"},
		{"event too long", "create_event", `{"summary":"x","start":"2025-01-07T08:00:00Z","end":"2025-01-07T17:00:00Z"}`, "end"},
		{"bad timestamp", "list_events", `{"start":"tomorrow","end":"2025-01-07T10:00:00Z"}`, "start"},
		{"duration too short", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":4}`, "duration_minutes"},
		{"duration too long", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":481}`, "duration_minutes"},
		{"duration missing", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z"}`, "duration_minutes"},
		{"fractional duration", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":30.5}`, "duration_minutes"},
		{"slot range too wide", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2027-01-07T00:00:00Z","duration_minutes":30}`, "end"},
		{"half working hours", "find_free_slots", `{"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","duration_minutes":30,"working_hours_start":"08:00"}`, "working_hours_start"},
		{"bad attendee", "create_event", `{"summary":"x","start":"2025-01-07T10:00:00Z","end":"2025-01-07T11:00:00Z","attendees":["not-an-email"]}`, "attendees"},
		{"reschedule without target", "reschedule_event", `{"new_start":"2025-01-07T10:00:00Z","new_end":"2025-01-07T11:00:00Z"}`, "event_id"},
		{"reschedule new end before start", "reschedule_event", `{"event_id":"a","new_start":"2025-01-07T10:00:00Z","new_end":"2025-01-07T09:00:00Z"}`, "new_end"},
		{"cancel without target", "cancel_event", `{"event_id":"","query":""}`, "event_id"},
		{"cancel inverted window", "cancel_event", `{"query":"x","search_start":"2025-01-08T00:00:00Z","search_end":"2025-01-07T00:00:00Z"}`, "search_end"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{text: tt.output}
			adapter := &fakeAdapter{}
			d := newTestDispatcher(gen, adapter)

			_, err := d.Dispatch(context.Background(), googleRequest(tt.intent, "text"))
			var inErr *InputError
			require.ErrorAs(t, err, &inErr)
			assert.Equal(t, tt.field, inErr.Field)
			assert.Equal(t, tt.intent, inErr.Tool)
			assert.Empty(t, adapter.calls, "provider must not be called")
			assert.Equal(t, 1, gen.calls, "input errors are not retried")
		})
	}
}

func TestDispatch_UnknownIntentShortCircuits(t *testing.T) {
	gen := &fakeGenerator{text: `{}`}
	adapter := &fakeAdapter{}
	d := newTestDispatcher(gen, adapter)

	_, err := d.Dispatch(context.Background(), googleRequest("unknown", "tell me a joke"))
	require.ErrorIs(t, err, ErrIntentUnrecognized)
	assert.Zero(t, gen.calls)
	assert.Empty(t, adapter.calls)
}

func TestDispatch_UnconfiguredProvider(t *testing.T) {
	gen := &fakeGenerator{text: `{}`}
	d := newTestDispatcher(gen, &fakeAdapter{})

	req := googleRequest("list_events", "show my calendar")
	req.Provider = credentials.ProviderMicrosoft
	_, err := d.Dispatch(context.Background(), req)
	var ee *ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Zero(t, gen.calls)
}

func TestDispatch_ModelErrorPropagates(t *testing.T) {
	llmErr := &llm.Error{Attempts: []llm.Attempt{{Tier: "primary", Err: errors.New("x")}, {Tier: "fallback", Err: errors.New("y")}}}
	gen := &fakeGenerator{err: llmErr}
	adapter := &fakeAdapter{}

	_, err := newTestDispatcher(gen, adapter).Dispatch(context.Background(), googleRequest("list_events", "show"))
	var got *llm.Error
	require.ErrorAs(t, err, &got)
	assert.Empty(t, adapter.calls)
}

func TestExecute_ProviderErrors(t *testing.T) {
	create := `{"summary":"x","start":"2025-01-07T10:00:00Z","end":"2025-01-07T11:00:00Z"}`

	t.Run("provider status is carried", func(t *testing.T) {
		adapter := &fakeAdapter{err: &calendar.ProviderError{
			Provider: credentials.ProviderGoogle, Operation: "create", StatusCode: http.StatusServiceUnavailable, Message: "backend unavailable",
		}}
		_, err := newTestDispatcher(&fakeGenerator{text: create}, adapter).Dispatch(context.Background(), googleRequest("create_event", "book x"))
		var ee *ExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, http.StatusServiceUnavailable, ee.Status)
		assert.Equal(t, "backend unavailable", ee.Message)
		assert.Equal(t, credentials.ProviderGoogle, ee.Provider)
		assert.False(t, ee.NotFound())
	})

	t.Run("oauth errors pass through", func(t *testing.T) {
		adapter := &fakeAdapter{err: &oauth.Error{Code: oauth.ErrCodeRevoked, Provider: credentials.ProviderGoogle}}
		_, err := newTestDispatcher(&fakeGenerator{text: create}, adapter).Dispatch(context.Background(), googleRequest("create_event", "book x"))
		var oErr *oauth.Error
		require.ErrorAs(t, err, &oErr)
		var ee *ExecutionError
		assert.False(t, errors.As(err, &ee))
	})

	t.Run("cancellation passes through", func(t *testing.T) {
		adapter := &fakeAdapter{err: context.Canceled}
		_, err := newTestDispatcher(&fakeGenerator{text: create}, adapter).Dispatch(context.Background(), googleRequest("create_event", "book x"))
		require.ErrorIs(t, err, context.Canceled)
		var ee *ExecutionError
		assert.False(t, errors.As(err, &ee))
	})
}

func TestExecute_AuditRecord(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	audit := instrumentation.NewAuditLogger(logger, instrumentation.AuditLoggingConfig{Enabled: true})

	gen := &fakeGenerator{text: `{"event_id":"abc"}`}
	d := newTestDispatcher(gen, &fakeAdapter{}, WithAuditLogger(audit), WithLogger(logger))

	_, err := d.Dispatch(context.Background(), googleRequest("cancel_event", "cancel abc"))
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"log_type":"audit"`)
	assert.Contains(t, out, `"tool":"cancel_event"`)
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.NotContains(t, out, `"alice"`)
}

func TestPayload_LenientTimestamps(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	in, err := parseInput(intent.ListEvents, `{"start":"2025-01-07 09:00","end":"2025-01-07T18:00:00+01:00","max_results":"500"}`, berlin, calendar.WorkingHours{})
	require.NoError(t, err)
	list := in.(ListEventsInput)
	assert.True(t, list.Start.Equal(time.Date(2025, 1, 7, 9, 0, 0, 0, berlin)))
	assert.Equal(t, "Europe/Berlin", list.Start.Location().String())
	assert.True(t, list.End.Equal(time.Date(2025, 1, 7, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, maxMaxResults, list.MaxResults)
}
