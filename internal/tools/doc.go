// Package tools turns a classified request into a validated calendar
// operation and runs it against a provider adapter.
//
// Dispatch happens in two phases so callers can report progress between
// them: Prepare renders the intent's prompt, asks the model selector for a
// JSON tool input and validates it; Execute invokes the adapter and
// normalizes the result. Validation failures never reach a provider.
package tools
