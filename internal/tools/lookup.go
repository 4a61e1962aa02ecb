package tools

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/teemow/calagent/internal/calendar"
)

// resolveEvent returns the provider event id ref points at. An explicit id
// is used as given; a query is matched against event titles in the search
// window, preferring the most matched words and then the earliest start.
func resolveEvent(ctx context.Context, adapter calendar.Adapter, userID string, ref EventRef, now time.Time) (string, *calendar.Event, error) {
	if ref.EventID != "" {
		return calendar.ProviderEventID(adapter.Provider(), ref.EventID), nil, nil
	}

	window := calendar.TimeRange{Start: ref.SearchStart, End: ref.SearchEnd}
	if window.Start.IsZero() {
		window.Start = now.Add(-24 * time.Hour)
	}
	if window.End.IsZero() || !window.Valid() {
		window.End = window.Start.Add(defaultLookupWindow)
	}

	events, err := adapter.ListEvents(ctx, userID, window, maxMaxResults)
	if err != nil {
		return "", nil, err
	}

	words := strings.Fields(strings.ToLower(ref.Query))
	var best *calendar.Event
	bestScore := 0
	for i := range events {
		ev := &events[i]
		if ev.Status == calendar.StatusCancelled {
			continue
		}
		score := matchScore(strings.ToLower(ev.Summary), words)
		if score > bestScore || (score == bestScore && score > 0 && ev.Start.Before(best.Start)) {
			best, bestScore = ev, score
		}
	}
	if best == nil {
		return "", nil, &calendar.ProviderError{
			Provider:   adapter.Provider(),
			Operation:  "lookup",
			StatusCode: http.StatusNotFound,
			Message:    fmt.Sprintf("no event matching %q between %s and %s", ref.Query, window.Start.Format(time.RFC3339), window.End.Format(time.RFC3339)),
			Err:        calendar.ErrNotFound,
		}
	}
	return best.ProviderEventID, best, nil
}

var queryStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "my": true, "our": true,
	"with": true, "to": true, "on": true, "at": true, "for": true, "of": true,
}

func matchScore(title string, words []string) int {
	score := 0
	for _, w := range words {
		if queryStopWords[w] {
			continue
		}
		if strings.Contains(title, w) {
			score++
		}
	}
	return score
}
