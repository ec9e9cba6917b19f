package pending

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
)

const (
	// TTL is fixed at 30 minutes from creation; not configurable per record.
	TTL = 30 * time.Minute

	// retention keeps terminal and long-expired records around for debugging
	// before the sweep drops them.
	retention = 24 * time.Hour

	idPrefix     = "pending"
	idSuffixSize = 8
)

// Status is the pending-action lifecycle state. Every state but
// StatusPending is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
)

// PendingAction is one suggestion awaiting an explicit user decision.
// A nil SuggestedAction marks an informational record: it can be rejected or
// expire, but never confirmed.
type PendingAction struct {
	ActionID           string                      `json:"action_id"`
	SessionID          string                      `json:"session_id"`
	CreatedAt          time.Time                   `json:"created_at"`
	ExpiresAt          time.Time                   `json:"expires_at"`
	OriginalAction     contractx.UserAction        `json:"original_action"`
	BusinessSuggestion string                      `json:"business_suggestion"`
	SuggestedAction    *contractx.SuggestedAction  `json:"suggested_action,omitempty"`
	Status             Status                      `json:"status"`
	Reason             string                      `json:"reason,omitempty"`
	Outcome            *contractx.ExecutionOutcome `json:"execution_outcome,omitempty"`
	ConfirmedAt        *time.Time                  `json:"confirmed_at,omitempty"`
	RejectedAt         *time.Time                  `json:"rejected_at,omitempty"`
}

// Confirmable reports whether the record carries an executable suggestion.
func (p PendingAction) Confirmable() bool {
	return p.SuggestedAction != nil
}

// clone detaches the pointer fields so callers can never mutate registry
// state through a returned record.
func (p PendingAction) clone() PendingAction {
	out := p
	if p.SuggestedAction != nil {
		sa := p.SuggestedAction.Clone()
		out.SuggestedAction = &sa
	}
	if p.Outcome != nil {
		o := *p.Outcome
		out.Outcome = &o
	}
	if p.ConfirmedAt != nil {
		ts := *p.ConfirmedAt
		out.ConfirmedAt = &ts
	}
	if p.RejectedAt != nil {
		ts := *p.RejectedAt
		out.RejectedAt = &ts
	}
	return out
}

// Executor runs the side-effecting ERP call behind a confirmation. It must
// always return an outcome; transport failures are encoded in it.
type Executor interface {
	Execute(ctx context.Context, rec PendingAction) contractx.ExecutionOutcome
}

// Summary counts registry records by status.
type Summary struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
}

// entry pairs one record with its own mutex. Confirm and reject on the same
// id serialize here; operations on different ids never contend. confirming
// marks a record claimed by an in-flight execution: the mutex is NOT held
// across the ERP call, racing operations observe the claim instead.
type entry struct {
	mu         sync.Mutex
	rec        PendingAction
	confirming bool
}

// Option customizes a Registry.
type Option func(*Registry)

// WithClock injects the time source used for creation, expiry and sweeping.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// Registry owns the pending-action map and its state machine.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	exec Executor
	now  func() time.Time
}

// NewRegistry builds a registry. The executor is required: confirmation
// without execution would leave records lying about what happened.
func NewRegistry(exec Executor, opts ...Option) (*Registry, error) {
	if exec == nil {
		return nil, fmt.Errorf("%w: executor is required", contractx.ErrValidation)
	}
	r := &Registry{
		entries: make(map[string]*entry, 16),
		exec:    exec,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Create registers a new pending record and returns it. Always succeeds.
// Passing a nil suggested action creates an informational record.
func (r *Registry) Create(sessionID string, original contractx.UserAction, businessSuggestion string, suggested *contractx.SuggestedAction) PendingAction {
	now := r.now().UTC()

	var suggestedCopy *contractx.SuggestedAction
	if suggested != nil {
		copied := *suggested
		suggestedCopy = &copied
	}

	r.mu.Lock()
	id := r.freshIDLocked(now)
	rec := PendingAction{
		ActionID:           id,
		SessionID:          sessionID,
		CreatedAt:          now,
		ExpiresAt:          now.Add(TTL),
		OriginalAction:     original,
		BusinessSuggestion: businessSuggestion,
		SuggestedAction:    suggestedCopy,
		Status:             StatusPending,
	}
	r.entries[id] = &entry{rec: rec}
	r.sweepLocked(now)
	r.mu.Unlock()

	return rec
}

func (r *Registry) freshIDLocked(now time.Time) string {
	for {
		u := uuid.New()
		id := fmt.Sprintf("%s_%d_%s", idPrefix, now.Unix(), hex.EncodeToString(u[:])[:idSuffixSize])
		if _, exists := r.entries[id]; !exists {
			return id
		}
	}
}

// sweepLocked drops records whose expiry is more than the retention window in
// the past. Terminal records inside the window stay queryable. ExpiresAt is
// immutable after creation, so no entry lock is taken and the sweep never
// waits on an in-flight confirmation.
func (r *Registry) sweepLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for id, e := range r.entries {
		if e.rec.ExpiresAt.Before(cutoff) {
			delete(r.entries, id)
		}
	}
}

func (r *Registry) entryFor(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: action %s", contractx.ErrNotFound, id)
	}
	return e, nil
}

// effectiveStatus is the lazy-expiry rule: a pending record past its deadline
// is expired, regardless of how it is being observed.
func effectiveStatus(rec PendingAction, now time.Time) Status {
	if rec.Status == StatusPending && now.After(rec.ExpiresAt) {
		return StatusExpired
	}
	return rec.Status
}

// expireLocked applies lazy expiry to an entry the caller already holds. A
// claimed record never expires: its deadline was checked when the claim was
// taken, and the confirmation outcome must land on it.
func expireLocked(e *entry, now time.Time) {
	if e.confirming {
		return
	}
	if effectiveStatus(e.rec, now) == StatusExpired {
		e.rec.Status = StatusExpired
	}
}

// Get returns the record behind id, flipping it to expired first when its
// deadline has passed.
func (r *Registry) Get(id string) (PendingAction, error) {
	e, err := r.entryFor(id)
	if err != nil {
		return PendingAction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	expireLocked(e, r.now().UTC())
	return e.rec.clone(), nil
}

// Confirm executes the suggested action exactly once, attaches the outcome and
// moves the record to confirmed. Expiry takes precedence over confirmation; a
// record that already reached a terminal state is never re-executed.
func (r *Registry) Confirm(ctx context.Context, id string) (PendingAction, error) {
	e, err := r.entryFor(id)
	if err != nil {
		return PendingAction{}, err
	}

	e.mu.Lock()
	now := r.now().UTC()
	expireLocked(e, now)

	switch e.rec.Status {
	case StatusExpired:
		expiresAt := e.rec.ExpiresAt
		e.mu.Unlock()
		return PendingAction{}, fmt.Errorf("%w: at %s", contractx.ErrExpired, expiresAt.Format(time.RFC3339))
	case StatusConfirmed, StatusRejected:
		status := e.rec.Status
		e.mu.Unlock()
		return PendingAction{}, fmt.Errorf("%w: status %s", contractx.ErrAlreadyTerminal, status)
	}
	if e.confirming {
		e.mu.Unlock()
		return PendingAction{}, fmt.Errorf("%w: confirmation in progress", contractx.ErrAlreadyTerminal)
	}
	if !e.rec.Confirmable() {
		e.mu.Unlock()
		return PendingAction{}, fmt.Errorf("%w: action %s is informational", contractx.ErrNotConfirmable, id)
	}

	// Claim the record and release the lock before the ERP call so unrelated
	// registry work never waits on the network. A racing confirm or reject on
	// this id observes the claim and loses immediately; the claim guarantees
	// exactly one execution.
	e.confirming = true
	snapshot := e.rec.clone()
	e.mu.Unlock()

	outcome := r.exec.Execute(ctx, snapshot)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.confirming = false
	e.rec.Status = StatusConfirmed
	e.rec.Outcome = &outcome
	e.rec.ConfirmedAt = &now
	return e.rec.clone(), nil
}

// Reject moves a pending record to rejected and stores the optional reason.
// Informational records may be rejected; expiry takes precedence.
func (r *Registry) Reject(id, reason string) (PendingAction, error) {
	e, err := r.entryFor(id)
	if err != nil {
		return PendingAction{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now().UTC()
	expireLocked(e, now)

	switch e.rec.Status {
	case StatusExpired:
		return PendingAction{}, fmt.Errorf("%w: at %s", contractx.ErrExpired, e.rec.ExpiresAt.Format(time.RFC3339))
	case StatusConfirmed, StatusRejected:
		return PendingAction{}, fmt.Errorf("%w: status %s", contractx.ErrAlreadyTerminal, e.rec.Status)
	}
	if e.confirming {
		return PendingAction{}, fmt.Errorf("%w: confirmation in progress", contractx.ErrAlreadyTerminal)
	}

	e.rec.Status = StatusRejected
	e.rec.Reason = reason
	e.rec.RejectedAt = &now
	return e.rec.clone(), nil
}

// ListPending returns still-pending records keyed by action id, filtered by
// session when sessionID is non-empty. Expired records are flipped during
// enumeration and excluded.
func (r *Registry) ListPending(sessionID string) map[string]PendingAction {
	now := r.now().UTC()

	r.mu.RLock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	out := make(map[string]PendingAction)
	for _, e := range snapshot {
		e.mu.Lock()
		expireLocked(e, now)
		rec := e.rec.clone()
		e.mu.Unlock()

		if rec.Status != StatusPending {
			continue
		}
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		out[rec.ActionID] = rec
	}
	return out
}

// StatusSummary counts records by status, lazily flipping expired ones.
func (r *Registry) StatusSummary() Summary {
	now := r.now().UTC()

	r.mu.RLock()
	snapshot := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		snapshot = append(snapshot, e)
	}
	r.mu.RUnlock()

	summary := Summary{ByStatus: make(map[Status]int, 4)}
	for _, e := range snapshot {
		e.mu.Lock()
		expireLocked(e, now)
		status := e.rec.Status
		e.mu.Unlock()

		summary.Total++
		summary.ByStatus[status]++
	}
	return summary
}
