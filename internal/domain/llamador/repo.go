package llamador

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	EventIngested = "ingreso"
	EventCalled   = "llamado"
	EventRecalled = "rellamado"
)

// Movement is one row of the call audit trail.
type Movement struct {
	Event         string     `json:"evento"`
	CaseID        string     `json:"caso_id,omitempty"`
	CaseCreatedAt *time.Time `json:"caso_created_at,omitempty"`
	ContactID     string     `json:"contacto_id,omitempty"`
	ActivityID    string     `json:"actividad_id,omitempty"`
	ActivityType  string     `json:"actividad_type,omitempty"`
	Branch        string     `json:"sucursal"`
	RecordID      string     `json:"registro_id"`
	Box           string     `json:"box,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// MovementLog persists movements. Implementations may be slow or down; the
// caller treats every write as best effort.
type MovementLog interface {
	Record(ctx context.Context, m *Movement) error
	ListByBranch(ctx context.Context, branch string, limit int) ([]*Movement, error)
}

// NopMovementLog discards every movement. Used when no database is configured.
type NopMovementLog struct{}

func (NopMovementLog) Record(context.Context, *Movement) error { return nil }

func (NopMovementLog) ListByBranch(context.Context, string, int) ([]*Movement, error) {
	return nil, nil
}

func movementFor(event string, rec CallRecord) *Movement {
	return &Movement{
		Event:      event,
		CaseID:     rec.CaseID,
		ContactID:  rec.ContactID,
		ActivityID: rec.ActivityID,
		Branch:     rec.Branch,
		RecordID:   rec.ID,
		Box:        rec.AssignedBox,
		CreatedAt:  time.Now().UTC(),
	}
}

func recordMovement(ctx context.Context, log MovementLog, logger zerolog.Logger, m *Movement) {
	if err := log.Record(ctx, m); err != nil {
		logger.Warn().Err(err).Str("evento", m.Event).Str("registro_id", m.RecordID).
			Msg("movement log write failed")
	}
}
