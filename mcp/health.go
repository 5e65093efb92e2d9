package mcp

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowforge/store"
	"github.com/BaSui01/flowforge/types"
)

// HealthPoller probes every registered MCP server's /health endpoint and
// flips the server_status flag on the registry rows. Unhealthy servers are
// filtered out of agent tool resolution until they recover.
type HealthPoller struct {
	store    *store.Store
	client   *http.Client
	interval time.Duration
	rewrites map[string]string
	logger   *zap.Logger
}

// NewHealthPoller creates a poller. Interval defaults to 60s.
func NewHealthPoller(st *store.Store, interval time.Duration, rewrites map[string]string, logger *zap.Logger) *HealthPoller {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthPoller{
		store:    st,
		client:   &http.Client{Timeout: 5 * time.Second},
		interval: interval,
		rewrites: rewrites,
		logger:   logger.With(zap.String("component", "mcp_health")),
	}
}

// Run polls until the context is cancelled. One pass runs immediately.
func (p *HealthPoller) Run(ctx context.Context) {
	p.checkAll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.checkAll(ctx)
		}
	}
}

func (p *HealthPoller) checkAll(ctx context.Context) {
	servers, err := p.store.ListServers(ctx)
	if err != nil {
		p.logger.Error("list mcp servers", zap.Error(err))
		return
	}
	for _, s := range servers {
		status := p.probe(ctx, s.ServerURL)
		if status != s.ServerStatus {
			p.logger.Info("mcp server status changed",
				zap.String("server", s.ServerName),
				zap.String("from", string(s.ServerStatus)),
				zap.String("to", string(status)))
		}
		if err := p.store.UpdateServerStatus(ctx, s.ServerName, status, time.Now()); err != nil {
			p.logger.Error("update mcp server status",
				zap.String("server", s.ServerName), zap.Error(err))
		}
	}
}

func (p *HealthPoller) probe(ctx context.Context, serverURL string) types.ServerStatus {
	endpoint := strings.TrimRight(rewriteHost(serverURL, p.rewrites), "/") + "/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.ServerUnhealthy
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return types.ServerUnhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.ServerUnhealthy
	}
	return types.ServerHealthy
}
