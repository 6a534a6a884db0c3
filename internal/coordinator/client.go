// Package coordinator is a thin, synchronous wrapper over the coordination
// service's (Consul-compatible) HTTP API: service registration, sessions,
// and the compare-and-set KV lock used for leader election.
//
// Every method maps to exactly one documented endpoint (spec §4.2) and
// applies that endpoint's fatal/non-fatal policy itself, so callers never
// have to inspect status codes. A non-nil *FatalError means the caller
// MUST terminate the process — recovery is an external supervisor's job,
// not this package's.
package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/belykhk/cdcron-go/internal/metrics"
)

// FatalError wraps a coordinator failure that spec §4.2/§7 classifies as
// fatal: the process must exit non-zero. It is a distinct type (rather
// than an immediate os.Exit inside this package) so callers — and tests —
// can observe and assert on it without killing the test binary. main.go
// is the only place that turns this into os.Exit(1).
type FatalError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("coordinator: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("coordinator: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

func (e *FatalError) Unwrap() error { return e.Err }

func fatalTransport(op string, err error) *FatalError {
	return &FatalError{Op: op, Err: err}
}

func fatalStatus(op string, statusCode int, body []byte) *FatalError {
	return &FatalError{Op: op, StatusCode: statusCode, Body: string(body)}
}

// Client is a synchronous HTTP client for the coordinator's API. Each
// Client owns its own *http.Client and is safe for concurrent use. The
// Leadership Manager's three loops share the single Client passed to
// leader.New, and with it one *http.Client; they do not each build their own.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *zap.Logger
}

// Config is the subset of configuration the coordinator client needs.
type Config struct {
	BaseURL string
	Token   string
}

// New creates a Client against the given coordinator endpoint.
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		logger:     logger,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("X-Consul-Token", c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, err
	}
	return resp, body, nil
}

// Register submits the service registration record, including the HTTP
// health check. Any non-200 response or transport error is fatal.
func (c *Client) Register(ctx context.Context, svc ServiceRegistration) error {
	payload, err := json.Marshal(svc)
	if err != nil {
		return fmt.Errorf("marshal registration: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/v1/agent/service/register", payload)
	if err != nil {
		return fatalTransport("register", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("register", "transport_error").Inc()
		return fatalTransport("register", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("register", "error_status").Inc()
		return fatalStatus("register", resp.StatusCode, body)
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("register", "ok").Inc()
	return nil
}

// Deregister removes the service entry. A 404 is treated as already-absent,
// not an error — a prior incarnation may never have registered.
func (c *Client) Deregister(ctx context.Context, serviceID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/v1/agent/service/deregister/"+serviceID, nil)
	if err != nil {
		return fatalTransport("deregister", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("deregister", "transport_error").Inc()
		return fatalTransport("deregister", err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNotFound:
		metrics.CoordinatorRequestsTotal.WithLabelValues("deregister", "ok").Inc()
		return nil
	default:
		metrics.CoordinatorRequestsTotal.WithLabelValues("deregister", "error_status").Inc()
		return fatalStatus("deregister", resp.StatusCode, body)
	}
}

// CatalogLookup reports whether the service is present in the catalog.
// An empty array means the registration was lost (e.g. after a
// DeregisterCriticalServiceAfter reap) and the caller should re-register.
func (c *Client) CatalogLookup(ctx context.Context, serviceName string) (present bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/catalog/service/"+serviceName, nil)
	if err != nil {
		return false, fatalTransport("catalog_lookup", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("catalog_lookup", "transport_error").Inc()
		return false, fatalTransport("catalog_lookup", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("catalog_lookup", "error_status").Inc()
		return false, fatalStatus("catalog_lookup", resp.StatusCode, body)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("catalog_lookup", "decode_error").Inc()
		return false, fatalTransport("catalog_lookup", fmt.Errorf("decode response: %w", err))
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("catalog_lookup", "ok").Inc()
	return len(entries) > 0, nil
}

// SessionCreate creates a 15s TTL session with Behavior=delete and
// LockDelay=0, per spec §3's session invariants.
func (c *Client) SessionCreate(ctx context.Context, name string) (sessionID string, err error) {
	payload, err := json.Marshal(sessionCreateRequest{
		Name:      name,
		TTL:       "15s",
		LockDelay: "0s",
		Behavior:  "delete",
	})
	if err != nil {
		return "", fmt.Errorf("marshal session create: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, "/v1/session/create", payload)
	if err != nil {
		return "", fatalTransport("session_create", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("session_create", "transport_error").Inc()
		return "", fatalTransport("session_create", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("session_create", "error_status").Inc()
		return "", fatalStatus("session_create", resp.StatusCode, body)
	}

	var out sessionCreateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("session_create", "decode_error").Inc()
		return "", fatalTransport("session_create", fmt.Errorf("decode response: %w", err))
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("session_create", "ok").Inc()
	return out.ID, nil
}

// SessionRenew keeps the session's TTL lease alive. Any failure is fatal —
// without a live session we can no longer prove we hold the lock.
func (c *Client) SessionRenew(ctx context.Context, sessionID string) error {
	req, err := c.newRequest(ctx, http.MethodPut, "/v1/session/renew/"+sessionID, nil)
	if err != nil {
		return fatalTransport("session_renew", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("session_renew", "transport_error").Inc()
		return fatalTransport("session_renew", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("session_renew", "error_status").Inc()
		return fatalStatus("session_renew", resp.StatusCode, body)
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("session_renew", "ok").Inc()
	return nil
}

// LockAcquire attempts to create the election key under the given session.
// A `false` result (lock held elsewhere) is a normal outcome, not an error.
func (c *Client) LockAcquire(ctx context.Context, key, sessionID string) (acquired bool, err error) {
	payload, err := json.Marshal(lockPayload{Leader: sessionID})
	if err != nil {
		return false, fmt.Errorf("marshal lock payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/v1/kv/%s?acquire=%s", key, sessionID), payload)
	if err != nil {
		return false, fatalTransport("lock_acquire", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_acquire", "transport_error").Inc()
		return false, fatalTransport("lock_acquire", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_acquire", "error_status").Inc()
		return false, fatalStatus("lock_acquire", resp.StatusCode, body)
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("lock_acquire", "ok").Inc()
	return parseBoolBody(body)
}

// LockRelease releases the election key if held by sessionID. A `false`
// result (nothing to release) is logged by the caller, not an error.
func (c *Client) LockRelease(ctx context.Context, key, sessionID string) (released bool, err error) {
	payload, err := json.Marshal(lockPayload{Leader: sessionID})
	if err != nil {
		return false, fmt.Errorf("marshal lock payload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, fmt.Sprintf("/v1/kv/%s?release=%s", key, sessionID), payload)
	if err != nil {
		return false, fatalTransport("lock_release", err)
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_release", "transport_error").Inc()
		return false, fatalTransport("lock_release", err)
	}
	if resp.StatusCode != http.StatusOK {
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_release", "error_status").Inc()
		return false, fatalStatus("lock_release", resp.StatusCode, body)
	}
	metrics.CoordinatorRequestsTotal.WithLabelValues("lock_release", "ok").Inc()
	return parseBoolBody(body)
}

// LockRead reads the current state of the election key. A 404 (key
// absent) is reported as (nil, nil) — it is not an error. Any other
// non-200 failure is logged by the caller and returned as a plain error;
// per spec §4.2 a transient watch-read failure must never crash an
// otherwise healthy leader between renewals.
func (c *Client) LockRead(ctx context.Context, key string) (*LockState, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/kv/"+key, nil)
	if err != nil {
		return nil, err
	}

	resp, body, err := c.do(req)
	if err != nil {
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_read", "transport_error").Inc()
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_read", "absent").Inc()
		return nil, nil
	case http.StatusOK:
		var entries []LockState
		if err := json.Unmarshal(body, &entries); err != nil {
			metrics.CoordinatorRequestsTotal.WithLabelValues("lock_read", "decode_error").Inc()
			return nil, fmt.Errorf("decode lock state: %w", err)
		}
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_read", "ok").Inc()
		if len(entries) == 0 {
			return nil, nil
		}
		return &entries[0], nil
	default:
		metrics.CoordinatorRequestsTotal.WithLabelValues("lock_read", "error_status").Inc()
		return nil, fmt.Errorf("lock_read: unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func parseBoolBody(body []byte) (bool, error) {
	trimmed := bytes.TrimSpace(body)
	v, err := strconv.ParseBool(string(trimmed))
	if err != nil {
		return false, fmt.Errorf("decode bool response %q: %w", trimmed, err)
	}
	return v, nil
}
