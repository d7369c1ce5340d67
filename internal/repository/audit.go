// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gaming-rewards-protocol/internal/model"
)

// AuditRepository persists security audit entries. The in-memory audit
// ring remains the source for rate limiting; this journal is the durable
// record for operators.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository instance.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// EnsureSchema creates the audit table if it does not exist.
func (r *AuditRepository) EnsureSchema(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			id          BIGSERIAL PRIMARY KEY,
			ts          BIGINT NOT NULL,
			operation   TEXT NOT NULL,
			actor       TEXT NOT NULL,
			params_hash BYTEA NOT NULL,
			level       TEXT NOT NULL,
			verified    BOOLEAN NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_audit_actor_op_ts
			ON audit_entries (actor, operation, ts);
	`
	if _, err := r.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure audit schema: %w", err)
	}
	return nil
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, e model.AuditEntry) error {
	const query = `
		INSERT INTO audit_entries (ts, operation, actor, params_hash, level, verified)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		e.Timestamp,
		e.Operation.String(),
		e.Actor,
		e.ParamsHash[:],
		e.Level.String(),
		e.Verified,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// CountSince returns how many entries exist for the actor and operation
// with a timestamp at or after since.
func (r *AuditRepository) CountSince(ctx context.Context, actor string, op model.Operation, since int64) (int64, error) {
	const query = `
		SELECT COUNT(*)
		FROM audit_entries
		WHERE actor = $1 AND operation = $2 AND ts >= $3
	`
	var count int64
	if err := r.pool.QueryRow(ctx, query, actor, op.String(), since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// RecentByActor returns the newest entries for an actor, newest first.
func (r *AuditRepository) RecentByActor(ctx context.Context, actor string, limit int) ([]model.AuditEntry, error) {
	const query = `
		SELECT ts, operation, actor, params_hash, verified
		FROM audit_entries
		WHERE actor = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, actor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var (
			e      model.AuditEntry
			opName string
			hash   []byte
		)
		if err := rows.Scan(&e.Timestamp, &opName, &e.Actor, &hash, &e.Verified); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		copy(e.ParamsHash[:], hash)
		e.Operation = operationFromName(opName)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}

// PruneBefore deletes entries older than the cutoff. Called periodically by
// operators; the table is otherwise append-only.
func (r *AuditRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM audit_entries WHERE ts < $1`
	tag, err := r.pool.Exec(ctx, query, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func operationFromName(name string) model.Operation {
	for op := model.OpInitializeTreasury; op <= model.OpEmergencyResume; op++ {
		if op.String() == name {
			return op
		}
	}
	return model.Operation(-1)
}
