package executor

import (
	"context"
	"fmt"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
	historyx "github.com/mptask/erp-copilot/copilot/history"
	pendingx "github.com/mptask/erp-copilot/copilot/pending"
)

// Executor sends a confirmed suggestion to the ERP collaborator, exactly as
// stored on the pending record, and appends the outcome to the audit trail.
type Executor struct {
	erp   contractx.ERPCaller
	store *historyx.Store
}

// New builds an executor over the ERP collaborator and history store.
func New(erp contractx.ERPCaller, store *historyx.Store) (*Executor, error) {
	if erp == nil {
		return nil, fmt.Errorf("%w: erp caller is required", contractx.ErrValidation)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: history store is required", contractx.ErrValidation)
	}
	return &Executor{erp: erp, store: store}, nil
}

// Execute delegates to the ERP collaborator using exactly the method, path,
// query and body on the record. Placeholders are never re-resolved and the
// model is never re-queried. Transport failures become a synthetic outcome so
// the confirmation still reaches a terminal state with a truthful record.
func (e *Executor) Execute(ctx context.Context, rec pendingx.PendingAction) contractx.ExecutionOutcome {
	action := *rec.SuggestedAction

	var outcome contractx.ExecutionOutcome
	status, preview, err := e.erp.Do(ctx, action.Method, action.Endpoint, action.Query, action.Body)
	if err != nil {
		outcome = contractx.ExecutionOutcome{Err: err.Error()}
	} else {
		outcome = contractx.ExecutionOutcome{StatusCode: status, BodyPreview: preview}
	}

	e.store.Append(ctx,
		rec.SessionID,
		contractx.UserAction{
			Type:    "ai_suggested_action",
			Payload: map[string]any{"action_id": rec.ActionID},
		},
		historyx.Plan{
			Description: "AI suggested action execution",
			Path:        action.Endpoint,
		},
		historyx.RequestInfo{
			Method: action.Method,
			URL:    action.Endpoint,
			Body:   action.Body,
		},
		historyx.ResponseInfo{
			Status:      outcome.StatusCode,
			BodyPreview: outcome.BodyPreview,
			Err:         outcome.Err,
		},
	)
	return outcome
}
