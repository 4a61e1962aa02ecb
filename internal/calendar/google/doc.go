// Package google implements calendar.Adapter on the Google Calendar v3 API.
package google
