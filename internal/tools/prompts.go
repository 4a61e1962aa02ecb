package tools

import (
	"fmt"
	"strings"

	"github.com/teemow/calagent/internal/intent"
)

// PromptData fills a template's substitution points.
type PromptData struct {
	UserInput string
	// Now is the current time in the user's zone, RFC 3339.
	Now      string
	Today    string
	TimeZone string
	Hints    string
}

const promptHeader = `You convert calendar requests into a single JSON object for the %s operation.
Now is {now} ({today}). The user's time zone is {timezone}. Resolve relative dates
("tomorrow", "next friday", "at 3pm") against that and write every timestamp as
RFC 3339 with an offset. Respond with the JSON object only, no prose.
`

const promptFooter = `
Details already recognized in the request:
{hints}
Input: {user_input}
Output:`

var templates = map[intent.Intent]string{
	intent.ListEvents: fmt.Sprintf(promptHeader, "list_events") + `
Fields:
  "start": beginning of the period to list (required)
  "end": end of the period to list (required, after start)
  "max_results": maximum number of events, default 25

Examples (assuming now is 2025-01-06T08:00:00Z, a Monday):
Input: What's on my calendar tomorrow?
Output: {"start":"2025-01-07T00:00:00Z","end":"2025-01-08T00:00:00Z","max_results":25}
Input: Show my meetings this week
Output: {"start":"2025-01-06T08:00:00Z","end":"2025-01-11T00:00:00Z","max_results":50}
` + promptFooter,

	intent.FindFreeSlots: fmt.Sprintf(promptHeader, "find_free_slots") + `
Fields:
  "start": beginning of the search window (required)
  "end": end of the search window (required, after start)
  "duration_minutes": length of the slot, between 5 and 480 (required)
  "attendees": e-mail addresses whose availability must also be free
  "working_hours_start", "working_hours_end": "HH:MM", only if the user asked

Examples (assuming now is 2025-01-06T08:00:00Z, a Monday):
Input: Find me 30 minutes tomorrow afternoon
Output: {"start":"2025-01-07T12:00:00Z","end":"2025-01-07T17:00:00Z","duration_minutes":30,"attendees":[]}
Input: When can I meet ann@example.com for an hour this week?
Output: {"start":"2025-01-06T08:00:00Z","end":"2025-01-11T00:00:00Z","duration_minutes":60,"attendees":["ann@example.com"]}
` + promptFooter,

	intent.CreateEvent: fmt.Sprintf(promptHeader, "create_event") + `
Fields:
  "summary": event title (required)
  "start": event start (required)
  "end": event end (required, after start; default one hour after start)
  "description", "location": optional text
  "attendees": e-mail addresses to invite

Examples (assuming now is 2025-01-06T08:00:00Z, a Monday):
Input: Schedule a design review with bo@corp.io tomorrow at 2pm for 45 minutes
Output: {"summary":"Design review","start":"2025-01-07T14:00:00Z","end":"2025-01-07T14:45:00Z","attendees":["bo@corp.io"]}
Input: Book lunch at Luigi's on Friday at noon
Output: {"summary":"Lunch","location":"Luigi's","start":"2025-01-10T12:00:00Z","end":"2025-01-10T13:00:00Z","attendees":[]}
` + promptFooter,

	intent.RescheduleEvent: fmt.Sprintf(promptHeader, "reschedule_event") + `
Fields:
  "event_id": the event id if the user gave one, otherwise ""
  "query": words from the event title identifying it, if no event_id
  "search_start", "search_end": window that contains the event today, if known
  "new_start": new start (required)
  "new_end": new end (required, after new_start; keep the original length if unknown)

Examples (assuming now is 2025-01-06T08:00:00Z, a Monday):
Input: Move my standup to 10am tomorrow
Output: {"event_id":"","query":"standup","search_start":"2025-01-06T00:00:00Z","search_end":"2025-01-08T00:00:00Z","new_start":"2025-01-07T10:00:00Z","new_end":"2025-01-07T10:15:00Z"}
Input: Reschedule event abc123 to Wednesday 3pm to 4pm
Output: {"event_id":"abc123","query":"","new_start":"2025-01-08T15:00:00Z","new_end":"2025-01-08T16:00:00Z"}
` + promptFooter,

	intent.CancelEvent: fmt.Sprintf(promptHeader, "cancel_event") + `
Fields:
  "event_id": the event id if the user gave one, otherwise ""
  "query": words from the event title identifying it, if no event_id
  "search_start", "search_end": window that contains the event, if known

Examples (assuming now is 2025-01-06T08:00:00Z, a Monday):
Input: Cancel my team meeting tomorrow
Output: {"event_id":"","query":"team meeting","search_start":"2025-01-07T00:00:00Z","search_end":"2025-01-08T00:00:00Z"}
Input: Delete event 7f3k2
Output: {"event_id":"7f3k2","query":""}
` + promptFooter,
}

// BuildPrompt renders the template for in. Substitution is a single pass,
// so placeholders inside the user's text are left alone.
func BuildPrompt(in intent.Intent, data PromptData) (string, error) {
	tmpl, ok := templates[in]
	if !ok {
		return "", fmt.Errorf("no prompt template for intent %q", in)
	}
	hints := data.Hints
	if hints == "" {
		hints = "- none\n"
	}
	r := strings.NewReplacer(
		"{user_input}", data.UserInput,
		"{now}", data.Now,
		"{today}", data.Today,
		"{timezone}", data.TimeZone,
		"{hints}", hints,
	)
	return r.Replace(tmpl), nil
}
