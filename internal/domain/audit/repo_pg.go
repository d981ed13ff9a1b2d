package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/audit/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG implements EventRepository and SettingsRepository over Postgres.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

// conn prefers an in-flight transaction from context so writes can join the
// caller's transaction boundary.
func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const eventCols = `id, org_id, actor_user_id, action, target_type, target_id, target_name,
	category, status, error_message, metadata, ip_address, user_agent, session_id, request_id,
	created_at`

func (r *RepoPG) Insert(ctx context.Context, e *AuditEvent) error {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	const query = `
		INSERT INTO audit_event (
			org_id, actor_user_id, action, target_type, target_id, target_name,
			category, status, error_message, metadata,
			ip_address, user_agent, session_id, request_id
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10::jsonb,$11,$12,$13,$14
		) RETURNING id, created_at`

	return r.conn(ctx).QueryRow(ctx, query,
		e.OrgID, e.ActorUserID, e.Action, e.TargetType, e.TargetID, e.TargetName,
		e.Category, e.Status, e.ErrorMessage, meta,
		e.IPAddress, e.UserAgent, e.SessionID, e.RequestID,
	).Scan(&e.ID, &e.CreatedAt)
}

func (r *RepoPG) Search(ctx context.Context, orgID string, f Filters) ([]*AuditEvent, int, error) {
	where := []string{"org_id = $1"}
	args := []interface{}{orgID}
	idx := 2

	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, f.Status)
		idx++
	}
	if f.Action != "" {
		where = append(where, fmt.Sprintf("action = $%d", idx))
		args = append(args, f.Action)
		idx++
	}
	if f.Category != "" {
		where = append(where, fmt.Sprintf("category = $%d", idx))
		args = append(args, f.Category)
		idx++
	}
	if f.ActorUserID != "" {
		where = append(where, fmt.Sprintf("actor_user_id = $%d", idx))
		args = append(args, f.ActorUserID)
		idx++
	}
	if f.TargetType != "" {
		where = append(where, fmt.Sprintf("target_type = $%d", idx))
		args = append(args, f.TargetType)
		idx++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *f.From)
		idx++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *f.To)
		idx++
	}
	if f.Search != "" {
		where = append(where, fmt.Sprintf(
			"(target_name ILIKE $%d OR action ILIKE $%d OR target_type ILIKE $%d OR metadata::text ILIKE $%d)",
			idx, idx, idx, idx))
		args = append(args, "%"+f.Search+"%")
		idx++
	}

	// Page and total come back in one round trip via a window aggregate.
	query := fmt.Sprintf(
		"SELECT %s, COUNT(*) OVER() AS total FROM audit_event WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		eventCols, strings.Join(where, " AND "), idx, idx+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*AuditEvent
	total := 0
	for rows.Next() {
		var e AuditEvent
		var meta []byte
		if err := rows.Scan(
			&e.ID, &e.OrgID, &e.ActorUserID, &e.Action, &e.TargetType, &e.TargetID, &e.TargetName,
			&e.Category, &e.Status, &e.ErrorMessage, &meta, &e.IPAddress, &e.UserAgent,
			&e.SessionID, &e.RequestID, &e.CreatedAt, &total,
		); err != nil {
			return nil, 0, err
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Metadata); err != nil {
				return nil, 0, fmt.Errorf("unmarshal metadata for %s: %w", e.ID, err)
			}
		}
		items = append(items, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *RepoPG) DistinctOrgs(ctx context.Context) ([]string, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT DISTINCT org_id FROM audit_event`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orgs = append(orgs, id)
	}
	return orgs, rows.Err()
}

func (r *RepoPG) DeleteOlderThan(ctx context.Context, orgID string, cat Category, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM audit_event WHERE org_id = $1 AND category = $2 AND created_at < $3`,
		orgID, cat, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *RepoPG) ListByOrg(ctx context.Context, orgID string) ([]SettingsRow, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT org_id, category, enabled, config, updated_by, updated_at
		 FROM audit_settings WHERE org_id = $1`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []SettingsRow
	for rows.Next() {
		var row SettingsRow
		var cfg []byte
		if err := rows.Scan(&row.OrgID, &row.Category, &row.Enabled, &cfg, &row.UpdatedBy, &row.UpdatedAt); err != nil {
			return nil, err
		}
		if len(cfg) > 0 {
			if err := json.Unmarshal(cfg, &row.Config); err != nil {
				return nil, fmt.Errorf("unmarshal settings config for %s/%s: %w", orgID, row.Category, err)
			}
		}
		items = append(items, row)
	}
	return items, rows.Err()
}

func (r *RepoPG) Upsert(ctx context.Context, row SettingsRow) error {
	cfg, err := json.Marshal(row.Config)
	if err != nil {
		return fmt.Errorf("marshal settings config: %w", err)
	}

	const query = `
		INSERT INTO audit_settings (org_id, category, enabled, config, updated_by, updated_at)
		VALUES ($1,$2,$3,$4::jsonb,$5,NOW())
		ON CONFLICT (org_id, category) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			config = EXCLUDED.config,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()`

	_, err = r.conn(ctx).Exec(ctx, query, row.OrgID, row.Category, row.Enabled, cfg, row.UpdatedBy)
	return err
}
