package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, false).Info("hello", Provider("google"))
	if !strings.Contains(buf.String(), `"provider":"google"`) {
		t.Errorf("expected JSON output with provider, got %q", buf.String())
	}

	buf.Reset()
	New(&buf, true).Debug("dbg")
	if !strings.Contains(buf.String(), "level=DEBUG") {
		t.Errorf("expected debug text output, got %q", buf.String())
	}
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name    string
		attr    slog.Attr
		wantKey string
		wantVal string
	}{
		{"operation", Operation("list"), KeyOperation, "list"},
		{"provider", Provider("microsoft"), KeyProvider, "microsoft"},
		{"intent", Intent("cancel_event"), KeyIntent, "cancel_event"},
		{"tool", Tool("create_event"), KeyTool, "create_event"},
		{"model", Model("mistral"), KeyModel, "mistral"},
		{"status", Status(StatusSuccess), KeyStatus, "success"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.attr.Key != tt.wantKey {
				t.Errorf("key = %q, want %q", tt.attr.Key, tt.wantKey)
			}
			if tt.attr.Value.String() != tt.wantVal {
				t.Errorf("value = %q, want %q", tt.attr.Value.String(), tt.wantVal)
			}
		})
	}
}

func TestErr(t *testing.T) {
	attr := Err(errors.New("boom"))
	if attr.Key != KeyError || attr.Value.String() != "boom" {
		t.Errorf("unexpected attr %v", attr)
	}

	empty := Err(nil)
	if empty.Key != "" {
		t.Errorf("nil error should yield empty group, got key %q", empty.Key)
	}
}

func TestAnonymizeUser(t *testing.T) {
	if AnonymizeUser("") != "" {
		t.Error("empty input should stay empty")
	}
	a := AnonymizeUser("user-1")
	b := AnonymizeUser("user-1")
	if a != b {
		t.Error("hash should be deterministic")
	}
	if !strings.HasPrefix(a, "user:") || strings.Contains(a, "user-1") {
		t.Errorf("unexpected anonymized value %q", a)
	}
	if a == AnonymizeUser("user-2") {
		t.Error("different users should hash differently")
	}
}

func TestSanitizeToken(t *testing.T) {
	if got := SanitizeToken(""); got != "<empty>" {
		t.Errorf("got %q", got)
	}
	if got := SanitizeToken("ya29.secret"); got != "[token:11 chars]" {
		t.Errorf("got %q", got)
	}
}

func TestExtractDomain(t *testing.T) {
	if got := ExtractDomain("a@example.com"); got != "example.com" {
		t.Errorf("got %q", got)
	}
	if got := ExtractDomain("nope"); got != "" {
		t.Errorf("got %q", got)
	}
}
