package history

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
)

const (
	keyPrefix     = "hist"
	keySuffixSize = 6
)

// Plan describes the matched call behind a history record.
type Plan struct {
	Description string            `json:"description,omitempty"`
	Template    string            `json:"template,omitempty"`
	Path        string            `json:"path,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// RequestInfo is the request actually sent, sanitized for the audit trail.
type RequestInfo struct {
	Method string         `json:"method"`
	URL    string         `json:"url"`
	Body   map[string]any `json:"body,omitempty"`
}

// ResponseInfo is the observed response with a truncated body preview.
type ResponseInfo struct {
	Status      int    `json:"status"`
	BodyPreview string `json:"body_preview,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Record is one append-only audit entry. Never mutated after creation.
type Record struct {
	Key       string               `json:"key"`
	SessionID string               `json:"session_id"`
	Timestamp time.Time            `json:"ts"`
	Action    contractx.UserAction `json:"action"`
	Plan      Plan                 `json:"plan"`
	Request   RequestInfo          `json:"request"`
	Response  ResponseInfo         `json:"response"`
}

// Option customizes a Store.
type Option func(*Store)

// WithClock injects the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithArchive attaches a best-effort archive mirror. The in-memory map stays
// the source of truth; archive failures never fail an append.
func WithArchive(archive Archive) Option {
	return func(s *Store) {
		s.archive = archive
	}
}

// Store is the append-only per-session history log. Read-heavy; no update or
// delete exists.
type Store struct {
	mu      sync.RWMutex
	records map[string]Record
	keys    []string

	archive Archive
	now     func() time.Time
}

// NewStore builds an empty history store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		records: make(map[string]Record, 64),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Append stores a new record and returns its generated storage key. Always
// succeeds; key uniqueness holds under concurrent appenders.
func (s *Store) Append(ctx context.Context, sessionID string, action contractx.UserAction, plan Plan, req RequestInfo, resp ResponseInfo) string {
	now := s.now().UTC()

	s.mu.Lock()
	key := s.freshKeyLocked(now)
	rec := Record{
		Key:       key,
		SessionID: sessionID,
		Timestamp: now,
		Action:    action,
		Plan:      plan,
		Request:   req,
		Response:  resp,
	}
	s.records[key] = rec
	s.keys = append(s.keys, key)
	s.mu.Unlock()

	if s.archive != nil {
		// Mirror only; the caller never sees archive failures.
		_ = s.archive.Put(ctx, key, rec)
	}
	return key
}

// freshKeyLocked generates hist_<unix>_<6 hex> keys, retrying the random
// suffix on the (unlikely) collision within one second.
func (s *Store) freshKeyLocked(now time.Time) string {
	for {
		u := uuid.New()
		key := fmt.Sprintf("%s_%d_%s", keyPrefix, now.Unix(), hex.EncodeToString(u[:])[:keySuffixSize])
		if _, exists := s.records[key]; !exists {
			return key
		}
	}
}

// Get returns the record behind key. When an archive is attached, a local miss
// falls back to it before reporting ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (Record, error) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()
	if ok {
		return rec, nil
	}

	if s.archive != nil {
		if archived, err := s.archive.Fetch(ctx, key); err == nil {
			return archived, nil
		}
	}
	return Record{}, fmt.Errorf("%w: storage key %s", contractx.ErrNotFound, key)
}

// ListKeys returns every storage key in insertion order.
func (s *Store) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.keys...)
}

// Recent returns up to limit records for a session, newest first. An empty
// sessionID returns records across all sessions.
func (s *Store) Recent(sessionID string, limit int) []Record {
	s.mu.RLock()
	out := make([]Record, 0, limit)
	for i := len(s.keys) - 1; i >= 0; i-- {
		rec := s.records[s.keys[i]]
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
