package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const entryColumns = `id, tenant_id, actor, role, action, resource_type, resource_id, route_id,
	metadata, payload_digest, ip, user_agent, request_id, created_at`

// Repository stores audit entries in the audit_logs table.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository constructs a Postgres audit store.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, now: time.Now}
}

// Log inserts an entry, filling its id, timestamp and digest.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry = entry.normalize(r.now)
	var metadata any
	if len(entry.Metadata) > 0 {
		metadata = []byte(entry.Metadata)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_logs (`+entryColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		entry.ID, entry.TenantID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		entry.RouteID, metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.RequestID, entry.CreatedAt)
	return err
}

// List returns a tenant's entries for one route, newest first.
func (r *Repository) List(ctx context.Context, q Query) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+entryColumns+`
FROM audit_logs
WHERE tenant_id = $1 AND route_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3`, q.TenantID, q.RouteID, q.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Actor, &e.Role, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.RouteID, &metadata, &e.PayloadDigest, &e.IP, &e.UserAgent, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
