// Package intent maps free-text calendar requests to operation intents with
// a deterministic keyword classifier.
package intent

import (
	"strings"
	"unicode"
)

// Intent is a classified user goal.
type Intent string

const (
	ListEvents      Intent = "list_events"
	FindFreeSlots   Intent = "find_free_slots"
	CreateEvent     Intent = "create_event"
	RescheduleEvent Intent = "reschedule_event"
	CancelEvent     Intent = "cancel_event"
	Unknown         Intent = "unknown"
)

// All lists the recognized intents, excluding Unknown.
var All = []Intent{ListEvents, FindFreeSlots, CreateEvent, RescheduleEvent, CancelEvent}

// Valid reports whether i is a recognized intent other than Unknown.
func (i Intent) Valid() bool {
	for _, known := range All {
		if i == known {
			return true
		}
	}
	return false
}

const (
	phraseConfidence  = 0.95
	keywordConfidence = 0.8
)

// Result is the outcome of classifying one input.
type Result struct {
	Intent     Intent  `json:"intent"`
	Confidence float64 `json:"confidence"`
	// Keyword is the phrase or token that decided the result.
	Keyword string `json:"keyword,omitempty"`
}

var phrases = map[string]Intent{
	"show my calendar":              ListEvents,
	"show my schedule":              ListEvents,
	"what's on my calendar":         ListEvents,
	"what is on my calendar":        ListEvents,
	"what's my schedule":            ListEvents,
	"what's my schedule today":      ListEvents,
	"what's my schedule tomorrow":   ListEvents,
	"list my events":                ListEvents,
	"what meetings do i have today": ListEvents,
	"check my schedule":             ListEvents,
	"when am i free":                FindFreeSlots,
	"when am i free today":          FindFreeSlots,
	"when am i free tomorrow":       FindFreeSlots,
	"find a free slot":              FindFreeSlots,
	"find time for a meeting":       FindFreeSlots,
	"find a time to meet":           FindFreeSlots,
	"schedule a meeting":            CreateEvent,
	"book a meeting":                CreateEvent,
	"set up a meeting":              CreateEvent,
	"reschedule my meeting":         RescheduleEvent,
	"move my meeting":               RescheduleEvent,
	"push my meeting back":          RescheduleEvent,
	"cancel my meeting":             CancelEvent,
	"cancel my next meeting":        CancelEvent,
	"clear my calendar":             CancelEvent,
}

type keywordSet map[string]struct{}

func newKeywordSet(words ...string) keywordSet {
	s := make(keywordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

var (
	createWords = newKeywordSet("create", "book", "add", "setup", "arrange", "organize", "organise", "invite")
	// "schedule" is only a create verb when it is not a noun ("my schedule").
	scheduleWord    = "schedule"
	rescheduleWords = newKeywordSet("reschedule", "move", "postpone", "push", "shift", "delay", "change", "update", "rearrange", "prepone")
	cancelWords     = newKeywordSet("cancel", "cancels", "cancelled", "canceled", "delete", "remove", "drop", "scrap", "call-off")
	freeWords       = newKeywordSet("free", "available", "availability", "slot", "slots", "gap", "gaps", "opening", "openings")
	listWords       = newKeywordSet("show", "list", "what", "what's", "whats", "events", "calendar", "agenda", "upcoming", "view", "display", "see")

	determiners = newKeywordSet("my", "the", "your", "our", "his", "her", "their", "today's", "tomorrow's", "weekly", "daily")
)

type rule struct {
	intent Intent
	match  func(tokens []string) (string, bool)
}

// rules are evaluated in order and the first match wins. The order is the
// tie-break for inputs that contain keywords of several intents.
var rules = []rule{
	{CreateEvent, matchCreate},
	{RescheduleEvent, matchAny(rescheduleWords)},
	{CancelEvent, matchAny(cancelWords)},
	{FindFreeSlots, matchAny(freeWords)},
	{ListEvents, matchAny(listWords)},
}

func matchAny(set keywordSet) func([]string) (string, bool) {
	return func(tokens []string) (string, bool) {
		for _, t := range tokens {
			if _, ok := set[t]; ok {
				return t, true
			}
		}
		return "", false
	}
}

func matchCreate(tokens []string) (string, bool) {
	if kw, ok := matchAny(createWords)(tokens); ok {
		return kw, true
	}
	for i, t := range tokens {
		if t != scheduleWord {
			continue
		}
		if i > 0 {
			if _, isDeterminer := determiners[tokens[i-1]]; isDeterminer {
				continue
			}
		}
		return t, true
	}
	return "", false
}

// Classify returns the intent of text. It is a pure function of its input.
func Classify(text string) Result {
	normalized := normalize(text)
	if normalized == "" {
		return Result{Intent: Unknown}
	}
	if in, ok := phrases[normalized]; ok {
		return Result{Intent: in, Confidence: phraseConfidence, Keyword: normalized}
	}

	tokens := tokenize(normalized)
	for _, r := range rules {
		if kw, ok := r.match(tokens); ok {
			return Result{Intent: r.intent, Confidence: keywordConfidence, Keyword: kw}
		}
	}
	return Result{Intent: Unknown}
}

// normalize lower-cases text, collapses whitespace and strips trailing
// punctuation.
func normalize(text string) string {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	s = strings.ReplaceAll(s, "’", "'")
	return strings.TrimRight(s, ".!?, ")
}

func tokenize(s string) []string {
	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	// "set up" and "call off" are treated as single verbs.
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		if i+1 < len(tokens) {
			switch tokens[i] + " " + tokens[i+1] {
			case "set up":
				out = append(out, "setup")
				i++
				continue
			case "call off":
				out = append(out, "call-off")
				i++
				continue
			}
		}
		out = append(out, tokens[i])
	}
	return out
}
