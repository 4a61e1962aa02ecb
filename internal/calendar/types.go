package calendar

import (
	"context"
	"strings"
	"time"

	"github.com/teemow/calagent/internal/credentials"
)

// EventStatus is the normalized event state.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// Event is a provider-normalized calendar event.
type Event struct {
	ID              string               `json:"id"`
	Summary         string               `json:"summary"`
	Description     string               `json:"description,omitempty"`
	Location        string               `json:"location,omitempty"`
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	Attendees       []string             `json:"attendees"`
	Provider        credentials.Provider `json:"provider"`
	ProviderEventID string               `json:"provider_event_id"`
	Status          EventStatus          `json:"status"`
	HTMLLink        string               `json:"html_link,omitempty"`
}

// EventID builds the normalized id for a provider event.
func EventID(provider credentials.Provider, providerEventID string) string {
	return string(provider) + ":" + providerEventID
}

// ProviderEventID accepts either a normalized or a raw provider id and
// returns the raw provider id.
func ProviderEventID(provider credentials.Provider, id string) string {
	return strings.TrimPrefix(id, string(provider)+":")
}

// TimeRange is a half-open interval [Start, End).
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Valid reports whether End is after Start.
func (r TimeRange) Valid() bool {
	return r.End.After(r.Start)
}

// EventFields are the user-supplied fields of a new event.
type EventFields struct {
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Attendees   []string
	TimeZone    string
}

// SlotQuery describes a free slot search.
type SlotQuery struct {
	Range        TimeRange
	Duration     time.Duration
	Attendees    []string
	WorkingHours WorkingHours
	// NotBefore excludes slots that start earlier, normally "now".
	NotBefore time.Time
}

// Adapter is the uniform operation set every provider implements.
type Adapter interface {
	Provider() credentials.Provider
	ListEvents(ctx context.Context, userID string, r TimeRange, maxResults int) ([]Event, error)
	FindFreeSlots(ctx context.Context, userID string, q SlotQuery) ([]TimeRange, error)
	CreateEvent(ctx context.Context, userID string, fields EventFields) (*Event, error)
	RescheduleEvent(ctx context.Context, userID, eventID string, start, end time.Time) (*Event, error)
	CancelEvent(ctx context.Context, userID, eventID string) error
}

// TokenSource supplies access tokens. oauth.Manager implements it.
type TokenSource interface {
	ValidToken(ctx context.Context, userID string, provider credentials.Provider) (string, error)
	ForceRefresh(ctx context.Context, userID string, provider credentials.Provider, rejected string) (string, error)
}

// Registry looks up adapters by provider.
type Registry map[credentials.Provider]Adapter

// Get returns the adapter for provider.
func (r Registry) Get(provider credentials.Provider) (Adapter, bool) {
	a, ok := r[provider]
	return a, ok
}
