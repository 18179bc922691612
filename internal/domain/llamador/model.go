package llamador

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// CallRecord is one patient waiting to be called at a branch.
type CallRecord struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"nombre"`
	NationalID  string    `json:"dni"`
	CreatedAt   time.Time `json:"fecha"`
	Branch      string    `json:"sucursal"`
	Called      bool      `json:"llamado"`
	Locked      bool      `json:"bloqueado"` // mirrors Called
	AssignedBox string    `json:"box,omitempty"`

	CaseID     string `json:"caso_id,omitempty"`
	ContactID  string `json:"contacto_id,omitempty"`
	ActivityID string `json:"actividad_id,omitempty"`
}

// ExternalID is a partner identifier. The partner sends numbers for some
// ids and strings for others, so both decode into a string.
type ExternalID string

func (id *ExternalID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ExternalID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("external id must be a string or number: %w", err)
	}
	*id = ExternalID(n.String())
	return nil
}

// WebhookEvent is the notification the messaging partner posts on case
// activity.
type WebhookEvent struct {
	Event         string     `json:"event"`
	CaseID        ExternalID `json:"case_id"`
	ActivityID    ExternalID `json:"activity_id"`
	ContactID     ExternalID `json:"contact_id"`
	ActivityType  string     `json:"activity_type,omitempty"`
	CaseCreatedAt *time.Time `json:"case_created_at,omitempty"`
}

const (
	StatusIgnored    = "ignored"
	StatusRegistered = "registered"
)

// IngestResult is the webhook response body.
type IngestResult struct {
	Status string      `json:"status"`
	Data   *CallRecord `json:"data,omitempty"`
}

// DisplayMessage is pushed to the call boards of a branch.
type DisplayMessage struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"nombre"`
	NationalID  string    `json:"dni"`
	CreatedAt   time.Time `json:"fecha"`
	Branch      string    `json:"sucursal"`
	Box         string    `json:"box"`
	Repeated    bool      `json:"repetido,omitempty"`
}

func newDisplayMessage(rec CallRecord, box string, repeated bool) DisplayMessage {
	return DisplayMessage{
		ID:          rec.ID,
		DisplayName: rec.DisplayName,
		NationalID:  rec.NationalID,
		CreatedAt:   rec.CreatedAt,
		Branch:      rec.Branch,
		Box:         box,
		Repeated:    repeated,
	}
}

const (
	ActionNewRecord    = "nuevo_registro"
	ActionUpdateRecord = "actualizar_registro"
)

// DashboardEvent is pushed to the operator queue views of a branch.
type DashboardEvent struct {
	Action string     `json:"action"`
	Record CallRecord `json:"registro"`
}
