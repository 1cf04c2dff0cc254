package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object out of a model response that may be
// wrapped in prose or a fenced code block. Input that is already valid JSON
// (after fence stripping) is returned as-is; otherwise the first object is
// decoded and returned re-encoded as compact JSON.
func ExtractJSON(raw string) (string, error) {
	raw = strings.TrimSpace(raw)

	// Fenced block first: take the content between the first opening fence
	// and the very next closing fence.
	if startFence := strings.Index(raw, "```"); startFence != -1 {
		remaining := raw[startFence+3:]
		if endFence := strings.Index(remaining, "```"); endFence != -1 {
			inner := strings.TrimSpace(remaining[:endFence])
			if strings.HasPrefix(strings.ToLower(inner), "json") {
				inner = strings.TrimSpace(inner[4:])
			}
			raw = inner
		}
	}

	if json.Valid([]byte(raw)) {
		return raw, nil
	}

	startBrace := strings.Index(raw, "{")
	if startBrace == -1 {
		return "", fmt.Errorf("response did not contain a JSON object")
	}
	raw = raw[startBrace:]

	decoder := json.NewDecoder(strings.NewReader(raw))
	var msg any
	if err := decoder.Decode(&msg); err != nil {
		return "", fmt.Errorf("failed to decode JSON from response: %w", err)
	}
	clean, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to re-encode extracted JSON: %w", err)
	}
	return string(clean), nil
}

// RepairJSON fixes the invalid escape sequences models commonly emit
// (e.g. \s inside Windows paths) by escaping lone backslashes. Valid input is
// returned unchanged; the repaired output is not re-validated.
func RepairJSON(input string) string {
	if json.Valid([]byte(input)) {
		return input
	}

	var sb strings.Builder
	sb.Grow(len(input) + 16)

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		char := runes[i]
		if char != '\\' {
			sb.WriteRune(char)
			continue
		}
		if i+1 >= len(runes) {
			sb.WriteString(`\\`)
			break
		}
		switch next := runes[i+1]; next {
		case '"', '\\', '/', 'b', 'f', 'n', 'r', 't', 'u':
			sb.WriteRune(char)
			sb.WriteRune(next)
			i++
		default:
			sb.WriteString(`\\`)
		}
	}
	return sb.String()
}
