package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Cancel my team meeting tomorrow", CancelEvent},
		{"Schedule a sync with bob@example.com on Friday at 3pm", CreateEvent},
		{"Book a room for the offsite", CreateEvent},
		{"Set up a call with Dana next week", CreateEvent},
		{"Reschedule my 1:1 to Thursday", RescheduleEvent},
		{"Move my 2pm to tomorrow", RescheduleEvent},
		{"Push the standup back an hour", RescheduleEvent},
		{"Delete the dentist appointment", CancelEvent},
		{"Am I available on Friday afternoon?", FindFreeSlots},
		{"Find me a 30 minute slot tomorrow", FindFreeSlots},
		{"Show me next week", ListEvents},
		{"What do I have on Monday", ListEvents},
		{"What's on my schedule tomorrow?", ListEvents},
		{"Call off Friday's review", CancelEvent},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := Classify(tt.text)
			assert.Equal(t, tt.want, got.Intent)
			assert.InDelta(t, keywordConfidence, got.Confidence, 1e-9)
			assert.NotEmpty(t, got.Keyword)
		})
	}
}

func TestClassify_Phrases(t *testing.T) {
	for phrase, want := range phrases {
		got := Classify("  " + phrase + "?")
		assert.Equal(t, want, got.Intent, phrase)
		assert.InDelta(t, phraseConfidence, got.Confidence, 1e-9, phrase)
	}

	got := Classify("What’s on my calendar")
	assert.Equal(t, ListEvents, got.Intent)
	assert.InDelta(t, phraseConfidence, got.Confidence, 1e-9)
}

func TestClassify_PriorityOrder(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"show me what to cancel", CancelEvent},
		{"schedule a meeting and cancel the old one", CreateEvent},
		{"move the meeting that I want to cancel", RescheduleEvent},
		{"cancel whatever is in my free slot", CancelEvent},
		{"list my free slots", FindFreeSlots},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.text).Intent, tt.text)
	}
}

func TestClassify_Unknown(t *testing.T) {
	for _, text := range []string{"", "   ", "hello there", "tell me a joke", "scheduler", "rescheduling"} {
		got := Classify(text)
		assert.Equal(t, Unknown, got.Intent, text)
		assert.Zero(t, got.Confidence)
		assert.Empty(t, got.Keyword)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	text := "Please reschedule and cancel and show"
	first := Classify(text)
	for range 20 {
		assert.Equal(t, first, Classify(text))
	}
}

func TestIntentValid(t *testing.T) {
	for _, in := range All {
		assert.True(t, in.Valid())
	}
	assert.False(t, Unknown.Valid())
	assert.False(t, Intent("update_event").Valid())
}
