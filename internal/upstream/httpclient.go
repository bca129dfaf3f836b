package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/common"
	"github.com/dmitrijs2005/tillsync/internal/store"
	"github.com/golang-jwt/jwt/v5"
)

const idempotencyHeader = "Idempotency-Key"

// HTTPClient talks JSON over HTTP to the server. It holds the bearer token
// of the last successful login; Login runs on the UI goroutine while the
// syncer submits in the background, so token access is guarded.
type HTTPClient struct {
	baseURL string
	http    *http.Client

	mu    sync.Mutex
	token string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *HTTPClient) bearerToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *HTTPClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// mapStatus converts an HTTP status to the client error taxonomy. Client
// errors are rejections that will not succeed on retry; 408 and 429 are the
// exceptions, the server is asking for a retry. Server errors are treated as
// unreachability.
func mapStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", common.ErrServerUnreachable, status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d: %s", common.ErrUnauthorized, status, truncate(body))
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: status %d: %s", common.ErrServerRejected, status, truncate(body))
	default:
		return fmt.Errorf("%w: status %d", common.ErrServerUnreachable, status)
	}
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		body = body[:max]
	}
	return string(body)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, headers map[string]string) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrInvalidPayload, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token := c.bearerToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrServerUnreachable, err)
	}

	if err := mapStatus(resp.StatusCode, body); err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}

type loginRequest struct {
	Identity string `json:"identity"`
	Secret   string `json:"secret"`
}

type loginResponse struct {
	Token    string `json:"token"`
	Identity string `json:"identity"`
}

func (c *HTTPClient) Login(ctx context.Context, identity, secret string) (*LoginResult, error) {
	var resp loginResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/login", &loginRequest{Identity: identity, Secret: secret}, &resp, nil)
	if err != nil {
		return nil, err
	}

	c.setToken(resp.Token)
	res := &LoginResult{Token: resp.Token, Identity: resp.Identity}
	if exp := tokenExpiry(resp.Token); exp != nil {
		res.ExpiresAt = exp
	}
	return res, nil
}

// tokenExpiry extracts the exp claim without verifying the signature. The
// client only needs the expiry to cap the offline session TTL; validity is
// the server's problem.
func tokenExpiry(token string) *time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	t := exp.Time
	return &t
}

type submitRequest struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

func (c *HTTPClient) SubmitOperation(ctx context.Context, op *store.Operation) error {
	req := &submitRequest{
		ID:        op.ID,
		Kind:      string(op.Kind),
		Payload:   op.Payload,
		CreatedAt: op.CreatedAt.UnixMilli(),
	}
	return c.do(ctx, http.MethodPost, "/api/v1/operations", req, nil,
		map[string]string{idempotencyHeader: op.ID})
}

type referenceRequest struct {
	Keys []string `json:"keys"`
}

type referenceResponse struct {
	Items []ReferenceItem `json:"items"`
}

func (c *HTTPClient) FetchReferenceData(ctx context.Context, keys []string) ([]ReferenceItem, error) {
	var resp referenceResponse
	err := c.do(ctx, http.MethodPost, "/api/v1/reference", &referenceRequest{Keys: keys}, &resp, nil)
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

type directoryResponse struct {
	Users []UserRecord `json:"users"`
}

func (c *HTTPClient) FetchUserDirectory(ctx context.Context) ([]UserRecord, error) {
	var resp directoryResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/users", nil, &resp, nil)
	if err != nil {
		return nil, err
	}
	return resp.Users, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/v1/ping", nil, nil, nil)
}
