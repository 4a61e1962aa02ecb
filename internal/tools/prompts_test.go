package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/calagent/internal/intent"
)

func TestBuildPrompt(t *testing.T) {
	for _, in := range intent.All {
		t.Run(string(in), func(t *testing.T) {
			p, err := BuildPrompt(in, PromptData{
				UserInput: "do the {today} thing",
				Now:       "2025-01-06T08:00:00Z",
				Today:     "Monday, 2025-01-06",
				TimeZone:  "Europe/Berlin",
			})
			require.NoError(t, err)
			assert.Contains(t, p, string(in))
			assert.Contains(t, p, "Now is 2025-01-06T08:00:00Z (Monday, 2025-01-06)")
			assert.Contains(t, p, "Europe/Berlin")
			assert.Contains(t, p, "Input: do the {today} thing\nOutput:")
			assert.Contains(t, p, "- none")
			assert.NotContains(t, p, "{user_input}")
			assert.NotContains(t, p, "{hints}")
		})
	}
}

func TestBuildPrompt_Unknown(t *testing.T) {
	_, err := BuildPrompt(intent.Unknown, PromptData{})
	require.Error(t, err)
}
