package agent

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/teemow/calagent/internal/intent"
)

// Step is one orchestrator transition. Steps are never modified after they
// are sent.
type Step struct {
	StepNumber  int       `json:"step_number"`
	Message     string    `json:"message"`
	ToolInvoked *string   `json:"tool_invoked"`
	ToolInput   any       `json:"tool_input"`
	ToolOutput  any       `json:"tool_output"`
	Timestamp   time.Time `json:"timestamp"`
}

// RunResult is the terminal frame of a successful run.
type RunResult struct {
	RunID       string        `json:"run_id"`
	FinalIntent intent.Intent `json:"final_intent"`
	FinalOutput any           `json:"final_output"`
	Summary     string        `json:"summary"`
	Steps       []Step        `json:"steps"`
	Timestamp   time.Time     `json:"timestamp"`
}

// ErrorFrame is the terminal frame of a failed run.
type ErrorFrame struct {
	Error     string         `json:"error"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// Frame carries exactly one of a step, a result or an error.
type Frame struct {
	Step   *Step
	Result *RunResult
	Error  *ErrorFrame
}

// Terminal reports whether f ends the stream.
func (f Frame) Terminal() bool {
	return f.Result != nil || f.Error != nil
}

// MarshalJSON encodes the populated member.
func (f Frame) MarshalJSON() ([]byte, error) {
	switch {
	case f.Step != nil:
		return json.Marshal(f.Step)
	case f.Result != nil:
		return json.Marshal(f.Result)
	case f.Error != nil:
		return json.Marshal(f.Error)
	}
	return nil, errors.New("empty frame")
}
