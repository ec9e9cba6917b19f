package contract

// UserAction is a raw action reported by the frontend, e.g.
// {"type":"open_screen","payload":{"screen":"SalesOrder"}}.
type UserAction struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Discriminator returns the payload value used to narrow trigger matching.
// Screen-driven actions carry it under "screen"; entity-driven ones under
// "entity". Empty when the payload has neither.
func (a UserAction) Discriminator() string {
	for _, key := range []string{"screen", "entity"} {
		if v, ok := a.Payload[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// SuggestedAction is the executable part of a suggestion. Method, Endpoint,
// Query and the body structure are taken from a catalog template; the model
// only ever fills placeholder values.
type SuggestedAction struct {
	Method   string         `json:"method"`
	Endpoint string         `json:"endpoint"`
	Query    string         `json:"query,omitempty"`
	Body     map[string]any `json:"body,omitempty"`
}

// Clone returns a copy whose body shares no structure with the receiver.
func (a SuggestedAction) Clone() SuggestedAction {
	out := a
	out.Body = cloneBody(a.Body)
	return out
}

func cloneBody(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneBodyValue(v)
	}
	return out
}

func cloneBodyValue(v any) any {
	switch tv := v.(type) {
	case map[string]any:
		return cloneBody(tv)
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = cloneBodyValue(item)
		}
		return out
	default:
		return tv
	}
}

// SuggestionResult is what the suggestion generator hands back. SelectedTemplate
// is empty when the model recommended nothing executable (or its selection
// failed validation); Body then stays nil and the record is informational only.
type SuggestionResult struct {
	Text             string         `json:"text"`
	SelectedTemplate string         `json:"selected_template,omitempty"`
	Body             map[string]any `json:"body,omitempty"`
	ConfidenceNotes  string         `json:"confidence_notes,omitempty"`
}

// ExecutionOutcome records what happened when a confirmed action was sent to
// the ERP. Transport failures show up as StatusCode 0 plus Err; they are data,
// not control flow.
type ExecutionOutcome struct {
	StatusCode  int    `json:"status_code"`
	BodyPreview string `json:"body_preview,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Failed reports whether the outcome represents a transport-level failure.
func (o ExecutionOutcome) Failed() bool {
	return o.Err != "" && o.StatusCode == 0
}
