package service

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	catalogx "github.com/mptask/erp-copilot/copilot/catalog"
	contractx "github.com/mptask/erp-copilot/copilot/contract"
	historyx "github.com/mptask/erp-copilot/copilot/history"
	pendingx "github.com/mptask/erp-copilot/copilot/pending"
	suggestx "github.com/mptask/erp-copilot/copilot/suggest"
)

// historyLimit is how many recent records feed one suggestion.
const historyLimit = 5

// Service wires the catalog, history store, suggestion generator and pending
// registry into the action flow. Collaborator failures are captured as data;
// the audit trail keeps growing even when the model or the ERP is down.
type Service struct {
	catalog   *catalogx.Catalog
	history   *historyx.Store
	registry  *pendingx.Registry
	generator *suggestx.Generator
	erp       contractx.ERPCaller
}

// New validates the collaborators and builds the service.
func New(
	catalog *catalogx.Catalog,
	history *historyx.Store,
	registry *pendingx.Registry,
	generator *suggestx.Generator,
	erp contractx.ERPCaller,
) (*Service, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: endpoint catalog is required", contractx.ErrValidation)
	}
	if history == nil {
		return nil, fmt.Errorf("%w: history store is required", contractx.ErrValidation)
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: pending registry is required", contractx.ErrValidation)
	}
	if generator == nil {
		return nil, fmt.Errorf("%w: suggestion generator is required", contractx.ErrValidation)
	}
	if erp == nil {
		return nil, fmt.Errorf("%w: erp caller is required", contractx.ErrValidation)
	}

	return &Service{
		catalog:   catalog,
		history:   history,
		registry:  registry,
		generator: generator,
		erp:       erp,
	}, nil
}

// ActionResult is the outcome of one raw user action: the audit key of the
// historical fetch (when a read plan matched) and the pending record created
// for the suggestion.
type ActionResult struct {
	StorageKey string
	Pending    pendingx.PendingAction
}

// HandleAction drives the full flow: optional historical GET for context,
// template matching, suggestion generation and pending-record creation.
func (s *Service) HandleAction(ctx context.Context, sessionID string, action contractx.UserAction) (ActionResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return ActionResult{}, fmt.Errorf("%w: session id is empty", contractx.ErrValidation)
	}
	if strings.TrimSpace(action.Type) == "" {
		return ActionResult{}, fmt.Errorf("%w: action type is empty", contractx.ErrValidation)
	}

	var storageKey string
	if plan, ok := s.catalog.ReadPlanFor(action); ok {
		storageKey = s.executeReadPlan(ctx, sessionID, action, plan)
	}

	candidates := s.catalog.Match(action)
	records := s.history.Recent(sessionID, historyLimit)
	result := s.generator.Generate(ctx, records, candidates)

	suggested := s.resolveSuggestedAction(result)
	rec := s.registry.Create(sessionID, action, result.Text, suggested)

	return ActionResult{StorageKey: storageKey, Pending: rec}, nil
}

// executeReadPlan runs the historical, read-only GET and appends the exchange
// to the audit trail. Transport failures are recorded, never propagated.
func (s *Service) executeReadPlan(ctx context.Context, sessionID string, action contractx.UserAction, plan catalogx.ReadPlan) string {
	rawQuery := strings.TrimPrefix(plan.RawQuerySuffix, "?")
	if rawQuery == "" && len(plan.Params) > 0 {
		values := url.Values{}
		for k, v := range plan.Params {
			values.Set(k, v)
		}
		rawQuery = values.Encode()
	}

	status, preview, err := s.erp.Do(ctx, "GET", plan.Path, rawQuery, nil)
	resp := historyx.ResponseInfo{Status: status, BodyPreview: preview}
	if err != nil {
		resp = historyx.ResponseInfo{Err: err.Error()}
		log.Warn().Err(err).Str("path", plan.Path).Msg("historical fetch failed")
	}

	reqURL := plan.Path
	if rawQuery != "" {
		reqURL += "?" + rawQuery
	}
	return s.history.Append(ctx, sessionID, action,
		historyx.Plan{Description: plan.Description, Path: plan.Path, Params: plan.Params},
		historyx.RequestInfo{Method: "GET", URL: reqURL},
		resp,
	)
}

// resolveSuggestedAction turns a validated template selection into the
// executable action, drawn verbatim from the catalog. Anything the model said
// beyond placeholder values is ignored.
func (s *Service) resolveSuggestedAction(result contractx.SuggestionResult) *contractx.SuggestedAction {
	if result.SelectedTemplate == "" {
		return nil
	}
	tpl, ok := s.catalog.Template(result.SelectedTemplate)
	if !ok {
		// The catalog may have been reloaded between match and create.
		log.Warn().Str("template", result.SelectedTemplate).Msg("selected template vanished on reload")
		return nil
	}

	body := result.Body
	if body == nil {
		body = tpl.Body
	}
	// The body can share nested values with the catalog snapshot; detach it
	// before it enters the registry.
	sa := contractx.SuggestedAction{
		Method:   tpl.Method,
		Endpoint: tpl.Path,
		Query:    tpl.QueryParams,
		Body:     body,
	}.Clone()
	return &sa
}

// Suggest regenerates a suggestion for a session without touching the
// registry or the ERP. Serves POST /copilot/suggest.
func (s *Service) Suggest(ctx context.Context, sessionID string, current *contractx.UserAction, limit int) contractx.SuggestionResult {
	if limit <= 0 {
		limit = historyLimit
	}
	var candidates []catalogx.EndpointTemplate
	if current != nil {
		candidates = s.catalog.Match(*current)
	}
	return s.generator.Generate(ctx, s.history.Recent(sessionID, limit), candidates)
}

// Confirm executes and finalizes a pending action.
func (s *Service) Confirm(ctx context.Context, actionID string) (pendingx.PendingAction, error) {
	return s.registry.Confirm(ctx, actionID)
}

// Reject dismisses a pending action with an optional reason.
func (s *Service) Reject(actionID, reason string) (pendingx.PendingAction, error) {
	return s.registry.Reject(actionID, reason)
}

// Pending lists still-pending actions, optionally scoped to a session.
func (s *Service) Pending(sessionID string) map[string]pendingx.PendingAction {
	return s.registry.ListPending(sessionID)
}

// PendingSummary counts registry records by status.
func (s *Service) PendingSummary() pendingx.Summary {
	return s.registry.StatusSummary()
}

// ActionDetails returns one pending record with lazy expiry applied.
func (s *Service) ActionDetails(actionID string) (pendingx.PendingAction, error) {
	return s.registry.Get(actionID)
}

// HistoryRecord fetches one audit entry by storage key.
func (s *Service) HistoryRecord(ctx context.Context, key string) (historyx.Record, error) {
	return s.history.Get(ctx, key)
}

// HistoryKeys lists every storage key in insertion order.
func (s *Service) HistoryKeys() []string {
	return s.history.ListKeys()
}
