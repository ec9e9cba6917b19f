package suggest

import (
	"encoding/json"
	"fmt"
	"strings"

	catalogx "github.com/mptask/erp-copilot/copilot/catalog"
	historyx "github.com/mptask/erp-copilot/copilot/history"
)

const actionMarker = "SUGGESTED_ACTION:"

// parsedAction is the executable block the model may append to its answer.
// Everything in it is untrusted until validated against the candidate set.
type parsedAction struct {
	Template string         `json:"template"`
	Method   string         `json:"method"`
	Endpoint string         `json:"endpoint"`
	Body     map[string]any `json:"body"`
}

// promptRecord is the trimmed history view handed to the model.
type promptRecord struct {
	Timestamp int64  `json:"timestamp"`
	Action    any    `json:"action"`
	Plan      any    `json:"plan,omitempty"`
	Status    int    `json:"response_status,omitempty"`
	Error     string `json:"response_error,omitempty"`
}

// buildPrompt assembles the user prompt: recent session activity as JSON plus
// the candidate templates with their exact body skeletons.
func buildPrompt(records []historyx.Record, candidates []catalogx.EndpointTemplate) (string, error) {
	views := make([]promptRecord, 0, len(records))
	for _, rec := range records {
		views = append(views, promptRecord{
			Timestamp: rec.Timestamp.Unix(),
			Action:    rec.Action,
			Plan:      rec.Plan,
			Status:    rec.Response.Status,
			Error:     rec.Response.Err,
		})
	}
	activity, err := json.MarshalIndent(map[string]any{"user_actions": views}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal session activity: %w", err)
	}

	var b strings.Builder
	b.WriteString("RECENT SESSION ACTIVITY (most recent first):\n")
	b.Write(activity)
	b.WriteString("\n\nAVAILABLE ENDPOINTS:\n")
	if len(candidates) == 0 {
		b.WriteString("(none matched the current action)\n")
	}
	for _, tpl := range candidates {
		fmt.Fprintf(&b, "## %s\n", tpl.Name)
		fmt.Fprintf(&b, "**Description**: %s\n", tpl.Description)
		fmt.Fprintf(&b, "**Method**: %s\n", tpl.Method)
		fmt.Fprintf(&b, "**Path**: %s\n", tpl.Path)
		if tpl.QueryParams != "" {
			fmt.Fprintf(&b, "**Query Parameters**: %s\n", tpl.QueryParams)
		}
		b.WriteString("**Request Body**:\n```json\n")
		body, err := json.MarshalIndent(tpl.Body, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal body skeleton for %s: %w", tpl.Name, err)
		}
		b.Write(body)
		b.WriteString("\n```\n\n")
	}
	return b.String(), nil
}

// parseSuggestion splits the model answer into advisory text and the optional
// SUGGESTED_ACTION block. A block that fails to decode is treated as absent.
func parseSuggestion(answer string) (string, *parsedAction) {
	text := strings.TrimSpace(answer)
	idx := strings.Index(text, actionMarker)
	if idx < 0 {
		return text, nil
	}

	business := strings.TrimSpace(text[:idx])
	rest := text[idx+len(actionMarker):]

	raw, ok := extractJSONObject(rest)
	if !ok {
		return business, nil
	}

	var parsed parsedAction
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return business, nil
	}
	if strings.TrimSpace(parsed.Template) == "" && strings.TrimSpace(parsed.Endpoint) == "" {
		return business, nil
	}
	return business, &parsed
}

// extractJSONObject returns the first balanced {...} block in s. Brace
// counting skips string literals so embedded braces do not truncate the block.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
