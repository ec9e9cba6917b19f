package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
)

// WildcardDiscriminator matches any payload discriminator once no exact
// mapping entry exists for the action.
const WildcardDiscriminator = "any"

// EndpointTemplate is one named ERP call shape. The body is a skeleton with
// placeholder values; the model may fill values but never restructure it.
type EndpointTemplate struct {
	Name        string         `yaml:"-" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Method      string         `yaml:"method" json:"method"`
	Path        string         `yaml:"path" json:"path"`
	QueryParams string         `yaml:"query_params" json:"query_params,omitempty"`
	Body        map[string]any `yaml:"body" json:"body,omitempty"`
	Triggers    []string       `yaml:"triggers" json:"triggers,omitempty"`
}

// ReadPlan describes a historical, read-only GET used to gather context for a
// suggestion. It never requires confirmation.
type ReadPlan struct {
	Description    string            `yaml:"description" json:"description,omitempty"`
	Path           string            `yaml:"path" json:"path"`
	Params         map[string]string `yaml:"params" json:"params,omitempty"`
	RawQuerySuffix string            `yaml:"raw_query_suffix" json:"raw_query_suffix,omitempty"`
}

// Summary is the shape served by GET /endpoints.
type Summary struct {
	TotalEndpoints int                            `json:"total_endpoints"`
	EndpointNames  []string                       `json:"endpoint_names"`
	ActionMappings map[string]map[string][]string `json:"action_mappings"`
}

// snapshot holds one immutable catalog generation. Reload publishes a fresh
// snapshot; a Match in flight keeps reading the one it grabbed.
type snapshot struct {
	templates map[string]EndpointTemplate
	mappings  map[string]map[string][]string
	reads     map[string]map[string]ReadPlan
}

// Catalog is the process-wide endpoint lookup, swappable atomically on reload.
type Catalog struct {
	snap atomic.Pointer[snapshot]
}

// New builds a catalog from a parsed document.
func New(doc Document) (*Catalog, error) {
	c := &Catalog{}
	if err := c.Reload(doc); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload replaces the template map, trigger mappings and read plans in one
// atomic swap.
func (c *Catalog) Reload(doc Document) error {
	snap, err := buildSnapshot(doc)
	if err != nil {
		return err
	}
	c.snap.Store(snap)
	return nil
}

func buildSnapshot(doc Document) (*snapshot, error) {
	templates := make(map[string]EndpointTemplate, len(doc.Endpoints))
	for name, tpl := range doc.Endpoints {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: endpoint template with empty name", contractx.ErrValidation)
		}
		if strings.TrimSpace(tpl.Method) == "" || strings.TrimSpace(tpl.Path) == "" {
			return nil, fmt.Errorf("%w: endpoint %s requires method and path", contractx.ErrValidation, trimmed)
		}
		tpl.Name = trimmed
		templates[trimmed] = tpl
	}

	mappings := make(map[string]map[string][]string, len(doc.Mappings))
	for actionType, byDisc := range doc.Mappings {
		inner := make(map[string][]string, len(byDisc))
		for disc, names := range byDisc {
			inner[disc] = append([]string(nil), names...)
		}
		mappings[actionType] = inner
	}

	reads := make(map[string]map[string]ReadPlan, len(doc.Reads))
	for actionType, byDisc := range doc.Reads {
		inner := make(map[string]ReadPlan, len(byDisc))
		for disc, plan := range byDisc {
			inner[disc] = plan
		}
		reads[actionType] = inner
	}

	return &snapshot{templates: templates, mappings: mappings, reads: reads}, nil
}

// Match resolves an action to candidate templates. Exact discriminator match
// wins; the wildcard entry is consulted only when no exact entry exists.
// Candidates keep mapping declaration order, de-duplicated by first occurrence,
// and names without a loaded template are skipped.
func (c *Catalog) Match(action contractx.UserAction) []EndpointTemplate {
	snap := c.snap.Load()
	byDisc, ok := snap.mappings[action.Type]
	if !ok {
		return nil
	}

	names, ok := byDisc[action.Discriminator()]
	if !ok {
		names = byDisc[WildcardDiscriminator]
	}
	if len(names) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(names))
	out := make([]EndpointTemplate, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if tpl, ok := snap.templates[name]; ok {
			out = append(out, tpl)
		}
	}
	return out
}

// Template returns a template by name from the current snapshot.
func (c *Catalog) Template(name string) (EndpointTemplate, bool) {
	tpl, ok := c.snap.Load().templates[name]
	return tpl, ok
}

// ReadPlanFor resolves the historical GET plan for an action, if one is mapped.
func (c *Catalog) ReadPlanFor(action contractx.UserAction) (ReadPlan, bool) {
	snap := c.snap.Load()
	byDisc, ok := snap.reads[action.Type]
	if !ok {
		return ReadPlan{}, false
	}
	plan, ok := byDisc[action.Discriminator()]
	if !ok {
		plan, ok = byDisc[WildcardDiscriminator]
	}
	return plan, ok
}

// FormatForLLM renders every template as markdown for the suggestion prompt.
// Templates are sorted by name so the rendering is stable across reloads.
func (c *Catalog) FormatForLLM() string {
	snap := c.snap.Load()
	if len(snap.templates) == 0 {
		return "No endpoint configurations available."
	}

	names := make([]string, 0, len(snap.templates))
	for name := range snap.templates {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("# Available ERP API Endpoints\n\n")
	for _, name := range names {
		tpl := snap.templates[name]
		fmt.Fprintf(&b, "## %s\n", tpl.Name)
		fmt.Fprintf(&b, "**Description**: %s\n", tpl.Description)
		fmt.Fprintf(&b, "**Method**: %s\n", tpl.Method)
		fmt.Fprintf(&b, "**Path**: %s\n", tpl.Path)
		if tpl.QueryParams != "" {
			fmt.Fprintf(&b, "**Query Parameters**: %s\n", tpl.QueryParams)
		}
		b.WriteString("**Request Body**:\n```json\n")
		if raw, err := json.MarshalIndent(tpl.Body, "", "  "); err == nil {
			b.Write(raw)
		} else {
			b.WriteString("{}")
		}
		b.WriteString("\n```\n")
		if len(tpl.Triggers) > 0 {
			fmt.Fprintf(&b, "**Triggered by**: %s\n", strings.Join(tpl.Triggers, ", "))
		}
		b.WriteString("\n---\n\n")
	}
	return b.String()
}

// Summary reports the current snapshot for the endpoints API.
func (c *Catalog) Summary() Summary {
	snap := c.snap.Load()

	names := make([]string, 0, len(snap.templates))
	for name := range snap.templates {
		names = append(names, name)
	}
	sort.Strings(names)

	mappings := make(map[string]map[string][]string, len(snap.mappings))
	for actionType, byDisc := range snap.mappings {
		inner := make(map[string][]string, len(byDisc))
		for disc, list := range byDisc {
			inner[disc] = append([]string(nil), list...)
		}
		mappings[actionType] = inner
	}

	return Summary{
		TotalEndpoints: len(snap.templates),
		EndpointNames:  names,
		ActionMappings: mappings,
	}
}
