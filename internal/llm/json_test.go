package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "plain json object",
			input: `{"summary": "looks good"}`,
			want:  `{"summary": "looks good"}`,
		},
		{
			name:  "fenced json block",
			input: "Here is the review:\n```json\n{\"summary\": \"ok\"}\n```\nThanks!",
			want:  `{"summary": "ok"}`,
		},
		{
			name:  "fence without language tag",
			input: "```\n{\"findings\": []}\n```",
			want:  `{"findings": []}`,
		},
		{
			name:  "leading prose before bare object",
			input: "Sure! The result is {\"a\": 1} and that's it.",
			want:  `{"a":1}`,
		},
		{
			name:    "no json at all",
			input:   "I could not produce a review.",
			wantErr: true,
		},
		{
			name:    "empty input",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, got)
		})
	}
}

func TestRepairJSON(t *testing.T) {
	t.Run("valid input unchanged", func(t *testing.T) {
		in := `{"path": "a/b.go"}`
		assert.Equal(t, in, RepairJSON(in))
	})

	t.Run("invalid windows path escape repaired", func(t *testing.T) {
		in := `{"path": "C:\src\main.go"}`
		out := RepairJSON(in)
		assert.True(t, json.Valid([]byte(out)), "repaired output should be valid JSON: %s", out)
	})

	t.Run("trailing backslash escaped", func(t *testing.T) {
		in := `{"path": "dir\`
		out := RepairJSON(in)
		assert.NotEqual(t, in, out)
	})
}
