package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"greenbonds/crypto"
)

// Client calls a node's JSON-RPC endpoint.
type Client struct {
	endpoint   string
	http       *http.Client
	adminToken string
	nextID     atomic.Int64
}

// NewClient returns a client for the /rpc endpoint under baseURL.
func NewClient(baseURL string) *Client {
	endpoint := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if !strings.HasSuffix(endpoint, "/rpc") {
		endpoint += "/rpc"
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// SetAdminToken attaches a bearer token to every request.
func (c *Client) SetAdminToken(token string) {
	c.adminToken = strings.TrimSpace(token)
}

// Call invokes method with params and decodes the result into out. JSON-RPC
// failures are returned as *RPCError.
func (c *Client) Call(ctx context.Context, method string, params interface{}, out interface{}) error {
	req := RPCRequest{JSONRPC: jsonRPCVersion, Method: method, ID: c.nextID.Add(1)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode params: %w", err)
		}
		req.Params = []json.RawMessage{raw}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.adminToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.adminToken)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("decode %s response (status %d): %w", method, resp.StatusCode, err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil || len(envelope.Result) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

// CallSigned wraps payload in an envelope signed by key that expires after
// ttl and invokes method.
func (c *Client) CallSigned(ctx context.Context, key *crypto.PrivateKey, method string, payload interface{}, ttl time.Duration, out interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	env := &Envelope{
		Payload: raw,
		Nonce:   uuid.NewString(),
		Expiry:  time.Now().Add(ttl).Unix(),
	}
	if err := env.Sign(method, key); err != nil {
		return err
	}
	return c.Call(ctx, method, env, out)
}
