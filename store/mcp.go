package store

import (
	"context"
	"time"

	"github.com/BaSui01/flowforge/types"
)

// MCPServer is the server-level view over the tool registry.
type MCPServer struct {
	ServerName      string
	ServerURL       string
	AuthToken       string
	ServerStatus    types.ServerStatus
	LastHealthCheck *time.Time
}

// GetServerByName resolves a registered server. Server metadata is
// denormalized on the tool rows; any active row for the name serves.
func (s *Store) GetServerByName(ctx context.Context, serverName string) (*MCPServer, error) {
	var t MCPTool
	err := active(s.db.WithContext(ctx)).
		Where("server_name = ? AND is_active = ?", serverName, true).
		First(&t).Error
	if err != nil {
		return nil, wrapNotFound(err, "mcp server", serverName)
	}
	return &MCPServer{
		ServerName:      t.ServerName,
		ServerURL:       t.ServerURL,
		AuthToken:       t.AuthToken,
		ServerStatus:    t.ServerStatus,
		LastHealthCheck: t.LastHealthCheck,
	}, nil
}

// ListServers returns the distinct registered servers for the health poller.
func (s *Store) ListServers(ctx context.Context) ([]MCPServer, error) {
	var tools []MCPTool
	err := active(s.db.WithContext(ctx)).
		Where("is_active = ?", true).
		Find(&tools).Error
	if err != nil {
		return nil, types.NewInternalError("list mcp servers", err)
	}
	seen := make(map[string]bool, len(tools))
	var out []MCPServer
	for _, t := range tools {
		if seen[t.ServerName] {
			continue
		}
		seen[t.ServerName] = true
		out = append(out, MCPServer{
			ServerName:      t.ServerName,
			ServerURL:       t.ServerURL,
			AuthToken:       t.AuthToken,
			ServerStatus:    t.ServerStatus,
			LastHealthCheck: t.LastHealthCheck,
		})
	}
	return out, nil
}

// UpdateServerStatus flips the health flag on every tool row of a server.
func (s *Store) UpdateServerStatus(ctx context.Context, serverName string, status types.ServerStatus, checkedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&MCPTool{}).
		Where("server_name = ? AND is_deleted = ?", serverName, false).
		Updates(map[string]any{
			"server_status":     status,
			"last_health_check": &checkedAt,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return types.NewInternalError("update mcp server status", res.Error)
	}
	return nil
}
