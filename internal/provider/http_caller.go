package provider

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
)

// HTTPCaller speaks JSON-RPC 2.0 over HTTP POST.
type HTTPCaller struct {
	url        string
	httpClient *http.Client
	nextID     atomic.Uint64
}

type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Body)
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func NewHTTPCaller(httpClient *http.Client, url string, timeout time.Duration) *HTTPCaller {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPCaller{url: strings.TrimRight(url, "/"), httpClient: httpClient}
}

func (c *HTTPCaller) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, TerminalError(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, TerminalError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, TransientError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, TransientError(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, RateLimitError(&APIError{Status: resp.StatusCode, Body: string(body)})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, TransientError(&APIError{Status: resp.StatusCode, Body: string(body)})
	}

	var out rpcResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, TransientError(fmt.Errorf("decode response: %w", err))
	}
	if out.Error != nil {
		return nil, &Error{Kind: classifyRPC(out.Error), Err: out.Error}
	}
	return out.Result, nil
}

func classifyRPC(e *RPCError) Kind {
	switch {
	case e.Code == -32005 || strings.Contains(strings.ToLower(e.Message), "rate limit"):
		return RateLimited
	case e.Code == -32600 || e.Code == -32601 || e.Code == -32602:
		return Terminal
	default:
		return Transient
	}
}
