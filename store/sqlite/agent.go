package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/agent"
)

const agentColumns = `id, hostname, capabilities, status, last_heartbeat, created_at, updated_at`

// UpsertAgent inserts or replaces an agent. An existing row keeps its
// created_at.
func (s *Store) UpsertAgent(ctx context.Context, a *agent.Agent) (*agent.Agent, error) {
	caps := a.Capabilities
	if caps == nil {
		caps = []string{}
	}
	capsJSON, err := json.Marshal(caps)
	if err != nil {
		return nil, fmt.Errorf("conductor/sqlite: encode capabilities: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO conductor_agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			hostname = excluded.hostname,
			capabilities = excluded.capabilities,
			status = excluded.status,
			last_heartbeat = excluded.last_heartbeat,
			updated_at = excluded.updated_at
		RETURNING `+agentColumns,
		a.ID, a.Hostname, string(capsJSON), string(a.Status),
		toMicros(a.LastHeartbeat), toMicros(a.CreatedAt), toMicros(a.UpdatedAt),
	)
	stored, err := scanAgent(row)
	if err != nil {
		return nil, storeErr("upsert agent", err)
	}
	return stored, nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM conductor_agents WHERE id = ?`, agentID)
	a, err := scanAgent(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrAgentNotFound
		}
		return nil, storeErr("get agent", err)
	}
	return a, nil
}

// ListAgents returns agents ordered by ID.
func (s *Store) ListAgents(ctx context.Context, opts agent.ListOpts) ([]*agent.Agent, error) {
	var w where
	w.eq("status", string(opts.Status))

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM conductor_agents`+w.String()+` ORDER BY id ASC`,
		w.args...,
	)
	if err != nil {
		return nil, storeErr("list agents", err)
	}
	defer rows.Close()

	var agents []*agent.Agent
	for rows.Next() {
		a, scanErr := scanAgent(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conductor/sqlite: scan agent row: %w", scanErr)
		}
		agents = append(agents, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate agent rows", err)
	}
	return agents, nil
}

// TouchAgent records a heartbeat and marks the agent online.
func (s *Store) TouchAgent(ctx context.Context, agentID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conductor_agents SET last_heartbeat = ?, status = 'online', updated_at = ? WHERE id = ?`,
		toMicros(at), toMicros(at), agentID,
	)
	if err != nil {
		return storeErr("touch agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return conductor.ErrAgentNotFound
	}
	return nil
}

// scanAgent scans a single agent row.
func scanAgent(row scanner) (*agent.Agent, error) {
	var (
		a                               agent.Agent
		caps, status                    string
		heartbeat, createdAt, updatedAt int64
	)
	if err := row.Scan(&a.ID, &a.Hostname, &caps, &status, &heartbeat, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(caps), &a.Capabilities); err != nil {
		return nil, fmt.Errorf("conductor/sqlite: decode capabilities of %s: %w", a.ID, err)
	}
	a.Status = agent.Status(status)
	a.LastHeartbeat = fromMicros(heartbeat)
	a.CreatedAt = fromMicros(createdAt)
	a.UpdatedAt = fromMicros(updatedAt)
	return &a, nil
}
