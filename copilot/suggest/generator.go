package suggest

import (
	"context"
	_ "embed"
	"strings"

	catalogx "github.com/mptask/erp-copilot/copilot/catalog"
	contractx "github.com/mptask/erp-copilot/copilot/contract"
	historyx "github.com/mptask/erp-copilot/copilot/history"
)

//go:embed template/instructions.txt
var instructionsRaw string

const degradedText = "The suggestion service is temporarily unavailable. No action is recommended right now."

// Generator turns session history plus matched templates into a suggestion.
// It is a pure orchestration wrapper around the model collaborator: the model
// output is advisory data and only a selection validated against the candidate
// set can ever become executable.
type Generator struct {
	model        contractx.ModelClient
	instructions string
}

// NewGenerator builds a generator over the given model collaborator.
func NewGenerator(model contractx.ModelClient) *Generator {
	return &Generator{
		model:        model,
		instructions: strings.TrimSpace(instructionsRaw),
	}
}

// Generate asks the model for a suggestion. It never returns an error: when
// the model is unreachable or its output is malformed, the result describes
// the degraded state and selects nothing.
func (g *Generator) Generate(ctx context.Context, records []historyx.Record, candidates []catalogx.EndpointTemplate) contractx.SuggestionResult {
	if g.model == nil {
		return contractx.SuggestionResult{
			Text:            degradedText,
			ConfidenceNotes: "model client not configured",
		}
	}

	prompt, err := buildPrompt(records, candidates)
	if err != nil {
		return contractx.SuggestionResult{
			Text:            degradedText,
			ConfidenceNotes: "failed to assemble prompt: " + err.Error(),
		}
	}

	answer, err := g.model.Complete(ctx, g.instructions, prompt)
	if err != nil {
		return contractx.SuggestionResult{
			Text:            degradedText,
			ConfidenceNotes: "model invoke failed: " + err.Error(),
		}
	}

	text, parsed := parseSuggestion(answer)
	if text == "" {
		text = degradedText
	}
	result := contractx.SuggestionResult{Text: text}

	if parsed == nil {
		result.ConfidenceNotes = "model recommended no action"
		return result
	}

	tpl, ok := matchCandidate(*parsed, candidates)
	if !ok {
		// Free-form output referencing anything outside the candidate set is
		// never an executable directive.
		result.ConfidenceNotes = "model selection did not match any candidate template"
		return result
	}

	result.SelectedTemplate = tpl.Name
	result.Body = fillSkeleton(tpl.Body, parsed.Body)
	result.ConfidenceNotes = "model selected template " + tpl.Name
	return result
}

// matchCandidate validates a parsed selection against the candidate set: the
// declared template name must be a candidate, and when the model echoed a
// method or endpoint they must agree with the template.
func matchCandidate(parsed parsedAction, candidates []catalogx.EndpointTemplate) (catalogx.EndpointTemplate, bool) {
	for _, tpl := range candidates {
		if !strings.EqualFold(parsed.Template, tpl.Name) {
			continue
		}
		if parsed.Method != "" && !strings.EqualFold(parsed.Method, tpl.Method) {
			return catalogx.EndpointTemplate{}, false
		}
		if parsed.Endpoint != "" && parsed.Endpoint != tpl.Path {
			return catalogx.EndpointTemplate{}, false
		}
		return tpl, true
	}
	return catalogx.EndpointTemplate{}, false
}

// fillSkeleton overlays model-provided values onto the template body without
// letting the model restructure it: keys absent from the skeleton are dropped,
// nested maps recurse, and list elements are filtered through the first
// skeleton element as a prototype row.
func fillSkeleton(skeleton map[string]any, overlay map[string]any) map[string]any {
	out := make(map[string]any, len(skeleton))
	for key, skelVal := range skeleton {
		overVal, present := overlay[key]
		if !present {
			out[key] = skelVal
			continue
		}
		out[key] = fillValue(skelVal, overVal)
	}
	return out
}

func fillValue(skelVal, overVal any) any {
	switch sv := skelVal.(type) {
	case map[string]any:
		ov, ok := overVal.(map[string]any)
		if !ok {
			return sv
		}
		return fillSkeleton(sv, ov)
	case []any:
		if len(sv) == 0 {
			return sv
		}
		ov, ok := overVal.([]any)
		if !ok {
			return sv
		}
		proto, ok := sv[0].(map[string]any)
		if !ok {
			return sv
		}
		rows := make([]any, 0, len(ov))
		for _, item := range ov {
			row, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rows = append(rows, fillSkeleton(proto, row))
		}
		if len(rows) == 0 {
			return sv
		}
		return rows
	default:
		return overVal
	}
}
