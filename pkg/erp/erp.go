package erp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	loginPath      = "/entity/auth/login"
	authCookieName = ".ASPXAUTH"
	maxBodyPreview = 2000
	userAgent      = "erp-copilot/0.1"
)

// Config configures the ERP REST collaborator. Credentials and session
// handling live entirely here, opaque to the core.
type Config struct {
	BaseURL   string        `envconfig:"BASE" split_words:"true" default:"http://localhost/MPTask"`
	Username  string        `envconfig:"USERNAME" split_words:"true" default:"admin"`
	Password  string        `envconfig:"PASSWORD" split_words:"true" required:"true"`
	Company   string        `envconfig:"COMPANY" split_words:"true" default:"Company"`
	VerifySSL bool          `envconfig:"VERIFY" split_words:"true" default:"true"`
	Timeout   time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"60s"`
}

// Client is a cookie-session ERP REST client. It logs in lazily, keeps the
// auth cookie in a jar, and re-authenticates once when the session expires.
type Client struct {
	baseURL    string
	username   string
	password   string
	company    string
	httpClient *http.Client

	mu       sync.Mutex
	loggedIn bool
}

// NewClient validates the config and builds an unauthenticated client; login
// happens on first use.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("erp base url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid erp base url: %w", err)
	}
	if strings.TrimSpace(cfg.Password) == "" {
		return nil, errors.New("erp password is required")
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("build cookie jar: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Jar: jar, Timeout: timeout}
	if !cfg.VerifySSL {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	return &Client{
		baseURL:    baseURL,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		company:    strings.TrimSpace(cfg.Company),
		httpClient: httpClient,
	}, nil
}

// Do issues one ERP call and returns the status code plus a truncated body
// preview. On 401/403 it re-authenticates once and retries.
func (c *Client) Do(ctx context.Context, method, path, rawQuery string, body map[string]any) (int, string, error) {
	if err := c.ensureSession(ctx); err != nil {
		return 0, "", err
	}

	status, preview, err := c.send(ctx, method, path, rawQuery, body)
	if err != nil {
		return 0, "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.mu.Lock()
		c.loggedIn = false
		c.mu.Unlock()
		if err := c.ensureSession(ctx); err != nil {
			return 0, "", err
		}
		return c.send(ctx, method, path, rawQuery, body)
	}
	return status, preview, nil
}

func (c *Client) send(ctx context.Context, method, path, rawQuery string, body map[string]any) (int, string, error) {
	target := c.baseURL + path
	if rawQuery != "" {
		target += "?" + rawQuery
	}

	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, "", fmt.Errorf("marshal erp request body: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), target, payload)
	if err != nil {
		return 0, "", fmt.Errorf("build erp request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("execute erp request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read erp response: %w", err)
	}
	return resp.StatusCode, string(raw), nil
}

// ensureSession logs in when no live session is held.
func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loggedIn {
		return nil
	}

	payload, err := json.Marshal(map[string]string{
		"name":     c.username,
		"password": c.password,
		"company":  c.company,
	})
	if err != nil {
		return fmt.Errorf("marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("erp login: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyPreview))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("erp login failed: status=%d", resp.StatusCode)
	}
	if !c.hasAuthCookie() {
		return errors.New("erp login failed: no authentication cookie received")
	}

	c.loggedIn = true
	return nil
}

func (c *Client) hasAuthCookie() bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	for _, cookie := range c.httpClient.Jar.Cookies(base) {
		if cookie.Name == authCookieName {
			return true
		}
	}
	return false
}
