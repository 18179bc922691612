package llamador

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/websocket"
)

// notifier fans payloads out through the directory and prunes whoever
// failed. Delivery problems are logged and never returned.
type notifier struct {
	dir    *websocket.Directory
	logger zerolog.Logger
}

// displays sends msg to the given call boards and returns how many
// received it.
func (n notifier) displays(ctx context.Context, key string, clients []*websocket.Client, msg DisplayMessage) int {
	payload, err := json.Marshal(msg)
	if err != nil {
		n.logger.Error().Err(err).Str("key", key).Msg("encode display message")
		return 0
	}
	deliveries := n.dir.Fanout(ctx, clients, payload)
	pruned := n.dir.PruneDisplays(key, deliveries)
	n.logPruned(pruned, deliveries, "key", key)
	return len(deliveries) - len(pruned)
}

// dashboards sends a record event to every queue view of branch.
func (n notifier) dashboards(ctx context.Context, branch, action string, rec CallRecord) {
	clients := n.dir.DashboardsFor(branch)
	if len(clients) == 0 {
		return
	}
	payload, err := json.Marshal(DashboardEvent{Action: action, Record: rec})
	if err != nil {
		n.logger.Error().Err(err).Str("sucursal", branch).Msg("encode dashboard event")
		return
	}
	deliveries := n.dir.Fanout(ctx, clients, payload)
	pruned := n.dir.PruneDashboards(branch, deliveries)
	n.logPruned(pruned, deliveries, "sucursal", branch)
}

func (n notifier) logPruned(pruned []*websocket.Client, deliveries []websocket.Delivery, field, key string) {
	if len(pruned) == 0 {
		return
	}
	for _, d := range deliveries {
		if !d.OK() {
			n.logger.Warn().Err(d.Err).Str(field, key).Str("client_id", d.Client.ID).
				Msg("dropping connection after failed send")
		}
	}
}
