package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"net/mail"
	"strconv"
	"strings"
	"time"
)

// payload reads model output leniently: numbers may arrive as strings and
// timestamps may lack an offset, in which case the user's zone applies.
type payload struct {
	tool   string
	fields map[string]any
	loc    *time.Location
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func decodePayload(tool, text string, loc *time.Location) (*payload, error) {
	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, &InputError{Tool: tool, Reason: "model output is not a JSON object", Err: err}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &payload{tool: tool, fields: fields, loc: loc}, nil
}

func (p *payload) invalid(field, format string, args ...any) *InputError {
	return &InputError{Tool: p.tool, Field: field, Reason: fmt.Sprintf(format, args...)}
}

func (p *payload) str(field string) string {
	switch v := p.fields[field].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (p *payload) requiredStr(field string) (string, error) {
	s := p.str(field)
	if s == "" {
		return "", p.invalid(field, "is required")
	}
	return s, nil
}

// timestamp parses an optional timestamp. The zero time means absent.
func (p *payload) timestamp(field string) (time.Time, error) {
	s := p.str(field)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, p.loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, p.invalid(field, "is not a valid timestamp: %q", s)
}

func (p *payload) requiredTimestamp(field string) (time.Time, error) {
	t, err := p.timestamp(field)
	if err != nil {
		return t, err
	}
	if t.IsZero() {
		return t, p.invalid(field, "is required")
	}
	return t, nil
}

// integer returns an optional whole number; ok is false when the field is absent.
func (p *payload) integer(field string) (int, bool, error) {
	switch v := p.fields[field].(type) {
	case nil:
		return 0, false, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, true, p.invalid(field, "must be a whole number")
		}
		return int(v), true, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, true, p.invalid(field, "must be a whole number")
		}
		return n, true, nil
	}
	return 0, true, p.invalid(field, "must be a whole number")
}

// emails returns the field's addresses, accepting a list or a comma
// separated string.
func (p *payload) emails(field string) ([]string, error) {
	var raw []string
	switch v := p.fields[field].(type) {
	case nil:
		return nil, nil
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				raw = append(raw, s)
			}
		}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, p.invalid(field, "must contain e-mail addresses")
			}
			if s = strings.TrimSpace(s); s != "" {
				raw = append(raw, s)
			}
		}
	default:
		return nil, p.invalid(field, "must be a list of e-mail addresses")
	}

	out := make([]string, 0, len(raw))
	for _, s := range raw {
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, p.invalid(field, "contains an invalid e-mail address %q", s)
		}
		out = append(out, strings.ToLower(addr.Address))
	}
	return out, nil
}
