package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calagent/internal/calendar"
	"github.com/teemow/calagent/internal/credentials"
	"github.com/teemow/calagent/internal/intent"
	"github.com/teemow/calagent/internal/llm"
	"github.com/teemow/calagent/internal/oauth"
	"github.com/teemow/calagent/internal/tools"
)

type fakeRunner struct {
	prepareErr error
	executeErr error
	output     any

	prepared atomic.Int32
	executed atomic.Int32
}

func (f *fakeRunner) Prepare(_ context.Context, req tools.Request) (*tools.Call, error) {
	f.prepared.Add(1)
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &tools.Call{Request: req, Input: tools.CancelEventInput{EventRef: tools.EventRef{EventID: "e1"}}, Model: "m", Tier: "primary"}, nil
}

func (f *fakeRunner) Execute(_ context.Context, call *tools.Call) (*tools.Result, error) {
	f.executed.Add(1)
	if f.executeErr != nil {
		return nil, f.executeErr
	}
	return &tools.Result{Tool: call.Tool(), Input: call.Input, Output: f.output, Summary: "Event e1 was cancelled."}, nil
}

func collect(t *testing.T, frames <-chan Frame) []Frame {
	t.Helper()
	var out []Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return out
			}
			out = append(out, f)
		case <-timeout:
			t.Fatal("stream did not close")
			return out
		}
	}
}

var cancelRequest = Request{UserID: "alice", Provider: credentials.ProviderGoogle, Text: "Cancel my team meeting tomorrow"}

func TestOrchestrator_SuccessfulRun(t *testing.T) {
	runner := &fakeRunner{output: map[string]any{"cancelled": true}}
	o := NewOrchestrator(runner)

	frames := collect(t, o.Stream(context.Background(), cancelRequest))
	require.Len(t, frames, 5)

	for i, f := range frames[:4] {
		require.NotNil(t, f.Step, "frame %d", i)
		assert.Equal(t, i+1, f.Step.StepNumber)
		assert.False(t, f.Terminal())
	}
	assert.Nil(t, frames[0].Step.ToolInvoked)
	require.NotNil(t, frames[1].Step.ToolInvoked)
	assert.Equal(t, "cancel_event", *frames[1].Step.ToolInvoked)
	assert.NotNil(t, frames[1].Step.ToolInput)
	assert.Nil(t, frames[1].Step.ToolOutput)
	assert.NotNil(t, frames[2].Step.ToolOutput)

	res := frames[4].Result
	require.NotNil(t, res)
	assert.True(t, frames[4].Terminal())
	assert.Equal(t, intent.CancelEvent, res.FinalIntent)
	assert.Contains(t, res.Summary, "cancel")
	assert.Len(t, res.Steps, 4)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, int32(1), runner.executed.Load())
}

func TestOrchestrator_UnknownIntent(t *testing.T) {
	runner := &fakeRunner{}
	frames := collect(t, NewOrchestrator(runner).Stream(context.Background(), Request{
		UserID: "alice", Provider: credentials.ProviderGoogle, Text: "tell me a joke",
	}))

	require.Len(t, frames, 2)
	require.NotNil(t, frames[0].Step)
	require.NotNil(t, frames[1].Error)
	assert.Equal(t, "intent_unrecognized", frames[1].Error.Details["type"])
	assert.Equal(t, http.StatusBadRequest, frames[1].Error.Details["status"])
	assert.Equal(t, false, frames[1].Error.Details["partial"])
	assert.Contains(t, frames[1].Error.Error, "could not recognize intent")
	assert.Zero(t, runner.prepared.Load())
}

func TestOrchestrator_ErrorFrames(t *testing.T) {
	tests := []struct {
		name       string
		runner     *fakeRunner
		wantType   string
		wantSteps  int
		partial    bool
		extraCheck func(t *testing.T, details map[string]any)
	}{
		{
			name:      "input error",
			runner:    &fakeRunner{prepareErr: &tools.InputError{Tool: "cancel_event", Field: "event_id", Reason: "is required"}},
			wantType:  "tool_input_error",
			wantSteps: 1,
			extraCheck: func(t *testing.T, d map[string]any) {
				assert.Equal(t, "event_id", d["field"])
			},
		},
		{
			name:      "llm error",
			runner:    &fakeRunner{prepareErr: &llm.Error{Attempts: []llm.Attempt{{Tier: "primary", Err: errors.New("a")}, {Tier: "fallback", Err: errors.New("b")}}}},
			wantType:  "llm_error",
			wantSteps: 1,
			extraCheck: func(t *testing.T, d map[string]any) {
				assert.Equal(t, []string{"primary", "fallback"}, d["tiers"])
			},
		},
		{
			name:      "revoked credential",
			runner:    &fakeRunner{executeErr: &oauth.Error{Code: oauth.ErrCodeRevoked, Provider: credentials.ProviderGoogle}},
			wantType:  "oauth_error",
			wantSteps: 2,
			extraCheck: func(t *testing.T, d map[string]any) {
				assert.Equal(t, true, d["reauthenticate"])
			},
		},
		{
			name: "provider rejected",
			runner: &fakeRunner{executeErr: &tools.ExecutionError{
				Tool: "cancel_event", Provider: credentials.ProviderGoogle, Status: http.StatusNotFound, Message: "Not Found", Err: calendar.ErrNotFound,
			}},
			wantType:  "tool_execution_error",
			wantSteps: 2,
			extraCheck: func(t *testing.T, d map[string]any) {
				assert.Equal(t, http.StatusNotFound, d["provider_status"])
			},
		},
		{
			name: "provider outcome unknown",
			runner: &fakeRunner{executeErr: &tools.ExecutionError{
				Tool: "cancel_event", Provider: credentials.ProviderGoogle, Status: http.StatusBadGateway, Message: "bad gateway",
			}},
			wantType:  "tool_execution_error",
			wantSteps: 2,
			partial:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := collect(t, NewOrchestrator(tt.runner).Stream(context.Background(), cancelRequest))
			require.Len(t, frames, tt.wantSteps+1)
			last := frames[len(frames)-1]
			require.NotNil(t, last.Error)
			d := last.Error.Details
			assert.Equal(t, tt.wantType, d["type"])
			assert.Equal(t, tt.partial, d["partial"])
			assert.Equal(t, tt.wantSteps, d["step"])
			assert.Equal(t, "cancel_event", d["intent"])
			if tt.partial {
				assert.Contains(t, last.Error.Error, "may have partially completed")
			} else {
				assert.NotContains(t, last.Error.Error, "partially")
			}
			if tt.extraCheck != nil {
				tt.extraCheck(t, d)
			}
		})
	}
}

func TestFrame_JSON(t *testing.T) {
	ts := time.Date(2025, 1, 6, 8, 0, 0, 0, time.UTC)

	data, err := json.Marshal(Frame{Step: &Step{StepNumber: 1, Message: "hi", Timestamp: ts}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"step_number":1,"message":"hi","tool_invoked":null,"tool_input":null,"tool_output":null,"timestamp":"2025-01-06T08:00:00Z"}`, string(data))

	data, err = json.Marshal(Frame{Error: &ErrorFrame{Error: "boom", Details: map[string]any{"type": "x"}, Timestamp: ts}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":"boom","details":{"type":"x"},"timestamp":"2025-01-06T08:00:00Z"}`, string(data))

	_, err = json.Marshal(Frame{})
	require.Error(t, err)
}
