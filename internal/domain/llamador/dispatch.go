package llamador

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/websocket"
)

var errAlreadyCalled = errors.New("already called")

// Dispatcher performs operator calls and repeat calls.
type Dispatcher struct {
	registry  *Registry
	dir       *websocket.Directory
	movements MovementLog
	notify    notifier
	logger    zerolog.Logger
}

func NewDispatcher(registry *Registry, dir *websocket.Directory, movements MovementLog, logger zerolog.Logger) *Dispatcher {
	if movements == nil {
		movements = NopMovementLog{}
	}
	logger = logger.With().Str("component", "dispatcher").Logger()
	return &Dispatcher{
		registry:  registry,
		dir:       dir,
		movements: movements,
		notify:    notifier{dir: dir, logger: logger},
		logger:    logger,
	}
}

// Call sends a patient to box and announces it on the boards of branch.
// A record that is unknown or already called is left alone and Call returns
// nil, so a double click from two operators announces the patient once.
func (d *Dispatcher) Call(ctx context.Context, id, box, branch string) error {
	if id == "" || branch == "" {
		return fmt.Errorf("registro_id and sucursal are required: %w", ErrValidation)
	}

	rec, err := d.registry.Mutate(id, func(r *CallRecord) error {
		if r.Called {
			return errAlreadyCalled
		}
		r.Called = true
		r.Locked = true
		r.AssignedBox = box
		return nil
	})
	switch {
	case errors.Is(err, ErrNotFound):
		d.logger.Debug().Str("registro_id", id).Msg("call ignored, unknown record")
		return nil
	case errors.Is(err, errAlreadyCalled):
		d.logger.Debug().Str("registro_id", id).Msg("call ignored, already called")
		return nil
	case err != nil:
		return err
	}

	detached := context.WithoutCancel(ctx)
	key := websocket.DisplayKey(branch)
	delivered := d.notify.displays(detached, key, d.dir.DisplaysFor(key), newDisplayMessage(rec, box, false))
	if delivered == 0 {
		d.logger.Warn().Str("registro_id", id).Str("key", key).Msg("patient called with no display listening")
	}
	d.notify.dashboards(detached, branch, ActionUpdateRecord, rec)
	recordMovement(detached, d.movements, d.logger, movementFor(EventCalled, rec))
	return nil
}

// RepeatCall announces an already known patient again, possibly at another
// box. It never changes whether the record counts as called.
func (d *Dispatcher) RepeatCall(ctx context.Context, id, box, branch string) error {
	if id == "" || box == "" || branch == "" {
		return fmt.Errorf("registro_id, box and sucursal are required: %w", ErrValidation)
	}
	if _, err := d.registry.FindByID(id); err != nil {
		return err
	}

	key := websocket.DisplayKey(branch)
	displays := d.dir.DisplaysFor(key)
	if len(displays) == 0 {
		return fmt.Errorf("%s: %w", key, ErrNoActiveDisplay)
	}

	rec, err := d.registry.Mutate(id, func(r *CallRecord) error {
		r.AssignedBox = box
		return nil
	})
	if err != nil {
		return err
	}

	detached := context.WithoutCancel(ctx)
	d.notify.displays(detached, key, displays, newDisplayMessage(rec, box, true))
	d.notify.dashboards(detached, branch, ActionUpdateRecord, rec)
	recordMovement(detached, d.movements, d.logger, movementFor(EventRecalled, rec))
	return nil
}
