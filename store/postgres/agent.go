package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

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
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conductor_agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			capabilities = EXCLUDED.capabilities,
			status = EXCLUDED.status,
			last_heartbeat = EXCLUDED.last_heartbeat,
			updated_at = EXCLUDED.updated_at
		RETURNING `+agentColumns,
		a.ID, a.Hostname, caps, string(a.Status), a.LastHeartbeat, a.CreatedAt, a.UpdatedAt,
	)
	stored, err := scanAgent(row)
	if err != nil {
		return nil, storeErr("upsert agent", err)
	}
	return stored, nil
}

// GetAgent retrieves an agent by ID.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*agent.Agent, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM conductor_agents WHERE id = $1`, agentID)
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

	rows, err := s.pool.Query(ctx,
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
			return nil, fmt.Errorf("conductor/postgres: scan agent row: %w", scanErr)
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
	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_agents
		SET last_heartbeat = $2, status = 'online', updated_at = $2
		WHERE id = $1`,
		agentID, at,
	)
	if err != nil {
		return storeErr("touch agent", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrAgentNotFound
	}
	return nil
}

// scanAgent scans a single agent row.
func scanAgent(row pgx.Row) (*agent.Agent, error) {
	var (
		a      agent.Agent
		status string
	)
	err := row.Scan(&a.ID, &a.Hostname, &a.Capabilities, &status, &a.LastHeartbeat, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Status = agent.Status(status)
	a.LastHeartbeat = a.LastHeartbeat.UTC()
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}
