// Package mcp bridges agent tool calls to registered MCP servers over HTTP.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/internal/metrics"
	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// CallResult is the bridge's normalized tool call outcome.
type CallResult struct {
	Success         bool   `json:"success"`
	Result          any    `json:"result,omitempty"`
	Error           string `json:"error,omitempty"`
	ExecutionTimeMS int64  `json:"execution_time_ms"`
}

// ToJSON renders the result for a tool message back to the LLM.
func (r *CallResult) ToJSON() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"success":false,"error":"marshal result: %v"}`, err)
	}
	return string(b)
}

// Config tunes the bridge.
type Config struct {
	// CallTimeout is the default per-call timeout. Default 30s.
	CallTimeout time.Duration
	// MaxRetries bounds retries on transient failures. Default 2.
	MaxRetries int
	// URLRewrites maps external hosts to internal ones, so registrations
	// made with public URLs resolve inside the cluster.
	URLRewrites map[string]string
}

// Bridge executes tool calls against registered MCP servers.
type Bridge struct {
	store   *store.Store
	client  *http.Client
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

// NewBridge creates a bridge. The metrics collector may be nil.
func NewBridge(st *store.Store, cfg Config, collector *metrics.Collector, logger *zap.Logger) *Bridge {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		store:   st,
		client:  &http.Client{Timeout: cfg.CallTimeout},
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "mcp_bridge")),
		metrics: collector,
	}
}

type callRequest struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

type callResponse struct {
	Success bool   `json:"success"`
	Result  any    `json:"result"`
	Error   string `json:"error"`
}

// CallTool posts {tool, arguments} to {server_url}/call and returns the
// normalized result. Transient failures (network, 5xx) are retried with
// exponential backoff. Missing servers surface as NotFound; tool-level
// failures come back inside the CallResult, not as an error, so the LLM can
// react to them.
func (b *Bridge) CallTool(ctx context.Context, serverName, toolName string, args map[string]any) (*CallResult, error) {
	server, err := b.store.GetServerByName(ctx, serverName)
	if err != nil {
		return nil, err
	}

	endpoint := strings.TrimRight(rewriteHost(server.ServerURL, b.cfg.URLRewrites), "/") + "/call"
	payload, err := json.Marshal(callRequest{Tool: toolName, Arguments: args})
	if err != nil {
		return nil, types.NewInternalError("marshal tool call", err)
	}

	start := time.Now()
	var parsed callResponse
	backoff := retry.WithMaxRetries(uint64(b.cfg.MaxRetries), retry.NewExponential(300*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		if server.AuthToken != "" {
			req.Header.Set("Authorization", "Bearer "+server.AuthToken)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return retry.RetryableError(fmt.Errorf("server %s returned %d", serverName, resp.StatusCode))
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server %s returned %d", serverName, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&parsed)
	})
	elapsed := time.Since(start)

	result := &CallResult{ExecutionTimeMS: elapsed.Milliseconds()}
	if err != nil {
		result.Error = err.Error()
		b.record(serverName, "error", elapsed)
		b.logger.Warn("tool call failed",
			zap.String("server", serverName),
			zap.String("tool", toolName),
			zap.Error(err))
		return result, nil
	}

	result.Success = parsed.Success
	result.Result = parsed.Result
	result.Error = parsed.Error
	status := "ok"
	if !parsed.Success {
		status = "tool_error"
	}
	b.record(serverName, status, elapsed)
	return result, nil
}

// rewriteHost swaps the URL host when a rewrite rule matches.
func rewriteHost(raw string, rewrites map[string]string) string {
	if len(rewrites) == 0 {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target, ok := rewrites[u.Host]; ok {
		u.Host = target
		return u.String()
	}
	return raw
}

func (b *Bridge) record(server, status string, d time.Duration) {
	if b.metrics != nil {
		b.metrics.RecordToolCall(server, status, d)
	}
}
