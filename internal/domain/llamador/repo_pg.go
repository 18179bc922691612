package llamador

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type movementLogPG struct{ db queryable }

func NewMovementLogPG(pool *pgxpool.Pool) MovementLog {
	return &movementLogPG{db: pool}
}

func (r *movementLogPG) Record(ctx context.Context, m *Movement) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO movimientos_llamador (evento, caso_id, caso_created_at, contacto_id,
			actividad_id, actividad_type, sucursal, registro_id, box, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		m.Event, nullable(m.CaseID), m.CaseCreatedAt, nullable(m.ContactID),
		nullable(m.ActivityID), nullable(m.ActivityType), m.Branch, m.RecordID,
		nullable(m.Box), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert movement: %w", err)
	}
	return nil
}

func (r *movementLogPG) ListByBranch(ctx context.Context, branch string, limit int) ([]*Movement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT evento, COALESCE(caso_id, ''), caso_created_at, COALESCE(contacto_id, ''),
			COALESCE(actividad_id, ''), COALESCE(actividad_type, ''), sucursal,
			registro_id, COALESCE(box, ''), created_at
		FROM movimientos_llamador
		WHERE sucursal = $1
		ORDER BY created_at DESC
		LIMIT $2`, branch, limit)
	if err != nil {
		return nil, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []*Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.Event, &m.CaseID, &m.CaseCreatedAt, &m.ContactID,
			&m.ActivityID, &m.ActivityType, &m.Branch, &m.RecordID, &m.Box, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
