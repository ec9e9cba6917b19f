package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
	historyx "github.com/mptask/erp-copilot/copilot/history"
	pendingx "github.com/mptask/erp-copilot/copilot/pending"
)

type fakeERP struct {
	gotMethod string
	gotPath   string
	gotQuery  string
	gotBody   map[string]any

	status  int
	preview string
	err     error
}

func (f *fakeERP) Do(_ context.Context, method, path, rawQuery string, body map[string]any) (int, string, error) {
	f.gotMethod = method
	f.gotPath = path
	f.gotQuery = rawQuery
	f.gotBody = body
	if f.err != nil {
		return 0, "", f.err
	}
	return f.status, f.preview, nil
}

func confirmedRecord() pendingx.PendingAction {
	return pendingx.PendingAction{
		ActionID:  "pending_1_deadbeef",
		SessionID: "sess-1",
		CreatedAt: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC),
		SuggestedAction: &contractx.SuggestedAction{
			Method:   "PUT",
			Endpoint: "/entity/Default/20.200.001/SalesOrder",
			Query:    "$expand=Details/Allocations",
			Body:     map[string]any{"CustomerID": map[string]any{"value": "C0001"}},
		},
	}
}

func TestExecuteDelegatesVerbatim(t *testing.T) {
	t.Parallel()

	erp := &fakeERP{status: 200, preview: `{"OrderNbr":{"value":"SO-100"}}`}
	store := historyx.NewStore()
	e, err := New(erp, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	rec := confirmedRecord()
	outcome := e.Execute(context.Background(), rec)

	if erp.gotMethod != "PUT" || erp.gotPath != rec.SuggestedAction.Endpoint {
		t.Errorf("sent %s %s, want the stored method and endpoint", erp.gotMethod, erp.gotPath)
	}
	if erp.gotQuery != "$expand=Details/Allocations" {
		t.Errorf("query = %q, want the stored query", erp.gotQuery)
	}
	if erp.gotBody["CustomerID"].(map[string]any)["value"] != "C0001" {
		t.Errorf("body = %v, want the stored body", erp.gotBody)
	}
	if outcome.StatusCode != 200 || outcome.Failed() {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestExecuteAppendsAuditRecord(t *testing.T) {
	t.Parallel()

	erp := &fakeERP{status: 201}
	store := historyx.NewStore()
	e, _ := New(erp, store)

	e.Execute(context.Background(), confirmedRecord())

	recent := store.Recent("sess-1", 1)
	if len(recent) != 1 {
		t.Fatalf("history records = %d, want 1", len(recent))
	}
	audit := recent[0]
	if audit.Action.Type != "ai_suggested_action" {
		t.Errorf("audit action type = %q", audit.Action.Type)
	}
	if audit.Action.Payload["action_id"] != "pending_1_deadbeef" {
		t.Errorf("audit payload = %v", audit.Action.Payload)
	}
	if audit.Response.Status != 201 {
		t.Errorf("audit status = %d, want 201", audit.Response.Status)
	}
}

func TestExecuteTransportFailureBecomesOutcome(t *testing.T) {
	t.Parallel()

	erp := &fakeERP{err: errors.New("dial tcp: connection refused")}
	store := historyx.NewStore()
	e, _ := New(erp, store)

	outcome := e.Execute(context.Background(), confirmedRecord())
	if !outcome.Failed() {
		t.Fatalf("outcome = %+v, want Failed()", outcome)
	}
	if outcome.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0", outcome.StatusCode)
	}

	recent := store.Recent("sess-1", 1)
	if len(recent) != 1 || recent[0].Response.Err == "" {
		t.Error("transport failure not recorded in the audit trail")
	}
}

func TestNewValidatesCollaborators(t *testing.T) {
	t.Parallel()

	if _, err := New(nil, historyx.NewStore()); !errors.Is(err, contractx.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation for nil erp", err)
	}
	if _, err := New(&fakeERP{}, nil); !errors.Is(err, contractx.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation for nil store", err)
	}
}
