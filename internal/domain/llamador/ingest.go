package llamador

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/messaging"
	"github.com/nobis/llamador/internal/platform/tokencache"
	"github.com/nobis/llamador/internal/platform/websocket"
)

// Partner resolves the case data behind a webhook notification.
type Partner interface {
	GetActivity(ctx context.Context, token, caseID, activityID string) (*messaging.Activity, error)
	GetContact(ctx context.Context, token, contactID string) (*messaging.Contact, error)
}

// Ingestor turns partner notifications into call records.
type Ingestor struct {
	caseType  string
	registry  *Registry
	partner   Partner
	tokens    tokencache.TokenSource
	movements MovementLog
	notify    notifier
	logger    zerolog.Logger
	now       func() time.Time
}

func NewIngestor(caseType string, registry *Registry, partner Partner, tokens tokencache.TokenSource,
	dir *websocket.Directory, movements MovementLog, logger zerolog.Logger) *Ingestor {
	if movements == nil {
		movements = NopMovementLog{}
	}
	logger = logger.With().Str("component", "ingestor").Logger()
	return &Ingestor{
		caseType:  caseType,
		registry:  registry,
		partner:   partner,
		tokens:    tokens,
		movements: movements,
		notify:    notifier{dir: dir, logger: logger},
		logger:    logger,
		now:       time.Now,
	}
}

// Ingest registers the patient behind ev. Events of any other type are
// ignored without touching the registry. If the partner cannot be reached
// nothing is registered and the error wraps ErrUpstreamUnavailable.
func (in *Ingestor) Ingest(ctx context.Context, ev WebhookEvent) (IngestResult, error) {
	if !strings.EqualFold(strings.TrimSpace(ev.Event), in.caseType) {
		return IngestResult{Status: StatusIgnored}, nil
	}
	if ev.CaseID == "" || ev.ActivityID == "" || ev.ContactID == "" {
		return IngestResult{}, fmt.Errorf("case_id, activity_id and contact_id are required: %w", ErrValidation)
	}

	token, err := in.tokens.Token(ctx)
	if err != nil {
		return IngestResult{}, fmt.Errorf("%w: partner token: %w", ErrUpstreamUnavailable, err)
	}

	activity, err := in.partner.GetActivity(ctx, token, string(ev.CaseID), string(ev.ActivityID))
	if err != nil {
		in.invalidateOnUnauthorized(ctx, err)
		return IngestResult{}, fmt.Errorf("%w: resolve activity: %w", ErrUpstreamUnavailable, err)
	}
	contact, err := in.partner.GetContact(ctx, token, string(ev.ContactID))
	if err != nil {
		in.invalidateOnUnauthorized(ctx, err)
		return IngestResult{}, fmt.Errorf("%w: resolve contact: %w", ErrUpstreamUnavailable, err)
	}

	rec, err := in.registry.Append(CallRecord{
		DisplayName: contact.Name,
		NationalID:  contact.NationalID,
		CreatedAt:   in.now().UTC(),
		Branch:      Classify(activity.Content),
		CaseID:      string(ev.CaseID),
		ContactID:   string(ev.ContactID),
		ActivityID:  string(ev.ActivityID),
	})
	if err != nil {
		return IngestResult{}, err
	}
	in.logger.Info().Str("registro_id", rec.ID).Str("sucursal", rec.Branch).Msg("patient registered")

	detached := context.WithoutCancel(ctx)
	in.notify.dashboards(detached, rec.Branch, ActionNewRecord, rec)

	m := movementFor(EventIngested, rec)
	m.ActivityType = ev.ActivityType
	m.CaseCreatedAt = ev.CaseCreatedAt
	recordMovement(detached, in.movements, in.logger, m)

	return IngestResult{Status: StatusRegistered, Data: &rec}, nil
}

func (in *Ingestor) invalidateOnUnauthorized(ctx context.Context, err error) {
	if !errors.Is(err, messaging.ErrUnauthorized) {
		return
	}
	if ierr := in.tokens.Invalidate(ctx); ierr != nil {
		in.logger.Warn().Err(ierr).Msg("invalidate partner token")
		return
	}
	in.logger.Info().Msg("partner rejected token, cache invalidated")
}
