// Package calendar defines the provider-neutral calendar model and the
// Adapter contract implemented by the google and microsoft subpackages.
//
// Adapters normalize provider events into Event, compute free slots with
// FreeSlots, and issue every provider request through Do, which supplies
// the access token, retries throttled or failing requests with jittered
// exponential backoff, and refreshes the token once on a 401.
package calendar
