package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/mptask/erp-copilot/copilot/contract"
)

const (
	defaultArchivePrefix = "erp:hist:"
	maxArchiveResponse   = 2 << 20
)

// Archive mirrors history records to an external backing store. Best effort:
// the in-memory store never depends on it for correctness.
type Archive interface {
	Put(ctx context.Context, key string, rec Record) error
	Fetch(ctx context.Context, key string) (Record, error)
}

// ArchiveOption customizes UpstashRedisArchive.
type ArchiveOption func(*UpstashRedisArchive)

func WithArchiveKeyPrefix(prefix string) ArchiveOption {
	return func(a *UpstashRedisArchive) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			a.keyPrefix = trimmed
		}
	}
}

func WithArchiveHTTPClient(client *http.Client) ArchiveOption {
	return func(a *UpstashRedisArchive) {
		if client != nil {
			a.httpClient = client
		}
	}
}

// UpstashRedisConfig configures the REST-based archive mirror.
type UpstashRedisConfig struct {
	URL     string        `envconfig:"URL" split_words:"true"`
	Token   string        `envconfig:"TOKEN" split_words:"true"`
	Timeout time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"10s"`
}

// UpstashRedisArchive mirrors audit records into Upstash Redis via its REST
// protocol. Records are write-once, so no TTL is applied.
type UpstashRedisArchive struct {
	baseURL    string
	token      string
	keyPrefix  string
	httpClient *http.Client
}

type redisRESTResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

// NewUpstashRedisArchive validates the config and builds an archive client.
func NewUpstashRedisArchive(cfg UpstashRedisConfig, opts ...ArchiveOption) (*UpstashRedisArchive, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if baseURL == "" {
		return nil, errors.New("archive redis url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid archive rest url: %w", err)
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("archive redis token is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	a := &UpstashRedisArchive{
		baseURL:    baseURL,
		token:      token,
		keyPrefix:  defaultArchivePrefix,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Put stores one record under its storage key.
func (a *UpstashRedisArchive) Put(ctx context.Context, key string, rec Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal history record: %w", err)
	}
	_, err = a.exec(ctx, []any{"SET", a.keyPrefix + key, string(payload)})
	return err
}

// Fetch loads a mirrored record; ErrNotFound when the key was never mirrored.
func (a *UpstashRedisArchive) Fetch(ctx context.Context, key string) (Record, error) {
	resp, err := a.exec(ctx, []any{"GET", a.keyPrefix + key})
	if err != nil {
		return Record{}, err
	}

	result := bytes.TrimSpace(resp.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return Record{}, fmt.Errorf("%w: archived key %s", contractx.ErrNotFound, key)
	}

	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return Record{}, fmt.Errorf("decode archive payload: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(encoded), &rec); err != nil {
		return Record{}, fmt.Errorf("unmarshal history record: %w", err)
	}
	return rec, nil
}

func (a *UpstashRedisArchive) exec(ctx context.Context, command []any) (*redisRESTResponse, error) {
	body, err := json.Marshal(command)
	if err != nil {
		return nil, fmt.Errorf("marshal redis command: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build redis request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute redis request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxArchiveResponse))
	if err != nil {
		return nil, fmt.Errorf("read redis response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("redis http status=%d body=%s", resp.StatusCode, string(raw))
	}

	var parsed redisRESTResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode redis response: %w", err)
	}
	if parsed.Error != "" {
		return nil, errors.New(parsed.Error)
	}
	return &parsed, nil
}
