// Copyright 2025 QNet Project
//
// Package pgstore is C4's optional Postgres durability mirror: Registry
// writes node and excluded-node rows here as it mutates them, following the
// connection-pool + embedded-migration idiom of the teacher's
// pkg/database.Client. The store is write-only: nothing in this module
// loads these rows back into a Registry, and the violation log and consumed
// proof refs are not persisted.
package pgstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/qnet-project/qnet-core/pkg/lifecycle"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists lifecycle.NodeState and lifecycle.ExcludedNode rows to
// Postgres. It implements lifecycle.PersistentStore.
type Store struct {
	db *sql.DB
}

// Open establishes a connection pool against databaseURL and runs
// migrations.
func Open(ctx context.Context, databaseURL string, maxConns, minConns int) (*Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("pgstore: database URL cannot be empty")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgstore: open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(minConns)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgstore: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

type migration struct {
	version string
	sql     string
}

func (s *Store) migrate(ctx context.Context) error {
	var migrations []migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return err
		}
		migrations = append(migrations, migration{
			version: strings.TrimSuffix(d.Name(), ".sql"),
			sql:     string(content),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("pgstore: walk migrations: %w", err)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("pgstore: scan applied migration: %w", err)
			}
			applied[v] = true
		}
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("pgstore: begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("pgstore: apply migration %s: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("pgstore: commit migration %s: %w", m.version, err)
		}
	}
	return nil
}

// SaveNode upserts a node's full penalty/reputation state.
func (s *Store) SaveNode(n *lifecycle.NodeState) error {
	ctx := context.Background()

	var exclusion, banExpiry interface{}
	if !n.ExclusionTime.IsZero() {
		exclusion = n.ExclusionTime
	}
	if !n.BanExpiry.IsZero() {
		banExpiry = n.BanExpiry
	}

	query := `
		INSERT INTO lifecycle_nodes (
			node_id, node_type, wallet_address, region_hint, reputation,
			last_ping, total_violations, exclusion_time, ban_expiry,
			accumulated_reward, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (node_id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			reputation = EXCLUDED.reputation,
			last_ping = EXCLUDED.last_ping,
			total_violations = EXCLUDED.total_violations,
			exclusion_time = EXCLUDED.exclusion_time,
			ban_expiry = EXCLUDED.ban_expiry,
			accumulated_reward = EXCLUDED.accumulated_reward,
			updated_at = now()`

	_, err := s.db.ExecContext(ctx, query,
		n.NodeID, string(n.NodeType), n.WalletAddress, n.RegionHint, n.Reputation,
		n.LastPing, n.TotalViolations, exclusion, banExpiry, n.AccumulatedReward,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save node %s: %w", n.NodeID, err)
	}
	return nil
}

// SaveExcluded upserts a node removed for inactivity.
func (s *Store) SaveExcluded(e *lifecycle.ExcludedNode) error {
	query := `
		INSERT INTO lifecycle_excluded_nodes (
			node_id, excluded_at, node_type, wallet_address, region_hint,
			last_reputation, accumulated_reward
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (node_id) DO UPDATE SET
			excluded_at = EXCLUDED.excluded_at,
			last_reputation = EXCLUDED.last_reputation,
			accumulated_reward = EXCLUDED.accumulated_reward`

	_, err := s.db.ExecContext(context.Background(), query,
		e.NodeID, e.ExcludedAt, string(e.NodeType), e.WalletAddress, e.RegionHint,
		e.LastReputation, e.AccumulatedReward,
	)
	if err != nil {
		return fmt.Errorf("pgstore: save excluded node %s: %w", e.NodeID, err)
	}
	return nil
}

// DeleteExcluded removes a restored node's excluded-registry row.
func (s *Store) DeleteExcluded(nodeID string) error {
	_, err := s.db.ExecContext(context.Background(),
		"DELETE FROM lifecycle_excluded_nodes WHERE node_id = $1", nodeID)
	if err != nil {
		return fmt.Errorf("pgstore: delete excluded node %s: %w", nodeID, err)
	}
	return nil
}
