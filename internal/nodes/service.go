package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNodeNotFound = errors.New("node not found")

// Service persists NodeIdentity records in Postgres.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

const nodeColumns = `id, hostname, ip_address, port, username, sftp_port, public_key, status, code, last_seen, registered_at`

// Upsert creates or refreshes a node record after a registration envelope.
// A node that was ever approved comes back online when its agent
// re-registers; reconnecting must never regress it to pending. Only a node
// that was still unapproved takes the incoming status.
func (s *Service) Upsert(ctx context.Context, n Node) (Node, error) {
	if n.Status == "" {
		n.Status = StatusPending
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO nodes (id, hostname, ip_address, port, username, sftp_port, public_key, status, code, last_seen, registered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			hostname   = EXCLUDED.hostname,
			ip_address = EXCLUDED.ip_address,
			port       = EXCLUDED.port,
			username   = EXCLUDED.username,
			sftp_port  = EXCLUDED.sftp_port,
			public_key = EXCLUDED.public_key,
			status     = CASE WHEN nodes.status IN ('online', 'offline') THEN 'online'::node_status ELSE EXCLUDED.status END,
			code       = EXCLUDED.code,
			last_seen  = now()
		RETURNING `+nodeColumns,
		n.ID, n.Hostname, n.IPAddress, n.Port, n.Username, n.SFTPPort,
		n.PublicKeyPEM, n.Status, n.Code)

	saved, err := scanNode(row)
	if err != nil {
		return Node{}, fmt.Errorf("upsert node: %w", err)
	}

	slog.Info("Node upserted", "node_id", saved.ID, "status", saved.Status)
	return saved, nil
}

// Get retrieves one node by id.
func (s *Service) Get(ctx context.Context, nodeID string) (Node, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE id = $1`, nodeID)

	n, err := scanNode(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Node{}, ErrNodeNotFound
		}
		return Node{}, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// List returns every known node, most recently seen first.
func (s *Service) List(ctx context.Context) ([]Node, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+nodeColumns+` FROM nodes ORDER BY last_seen DESC`)
	if err != nil {
		return nil, fmt.Errorf("list nodes: %w", err)
	}
	defer rows.Close()

	var out []Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("list nodes: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// SetStatus updates a node's lifecycle state and refreshes last_seen.
func (s *Service) SetStatus(ctx context.Context, nodeID string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nodes SET status = $2, last_seen = now() WHERE id = $1`,
		nodeID, status)
	if err != nil {
		return fmt.Errorf("set node status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotFound
	}

	slog.Info("Node status updated", "node_id", nodeID, "status", status)
	return nil
}

// UpdateLastSeen refreshes the liveness timestamp without touching status.
func (s *Service) UpdateLastSeen(ctx context.Context, nodeID string, t time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE nodes SET last_seen = $2 WHERE id = $1`, nodeID, t); err != nil {
		return fmt.Errorf("update last seen: %w", err)
	}
	return nil
}

// Revoke demotes an approved node back to pending and clears its approval
// code, forcing a fresh registration plus operator approval before it can
// be used again.
func (s *Service) Revoke(ctx context.Context, nodeID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE nodes SET status = 'pending', code = '' WHERE id = $1`, nodeID)
	if err != nil {
		return fmt.Errorf("revoke node: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNodeNotFound
	}

	slog.Info("Node revoked", "node_id", nodeID)
	return nil
}

func scanNode(row pgx.Row) (Node, error) {
	var n Node
	err := row.Scan(&n.ID, &n.Hostname, &n.IPAddress, &n.Port, &n.Username,
		&n.SFTPPort, &n.PublicKeyPEM, &n.Status, &n.Code, &n.LastSeen, &n.RegisteredAt)
	return n, err
}
