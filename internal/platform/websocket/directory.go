// Package websocket tracks the long-lived Display and Dashboard connections
// of every branch and delivers pushed messages to them.
//
// Displays are keyed by box group ("box_<branch>"), Dashboards by branch.
// Delivery is send-to-all with a per-recipient result; callers prune the
// recipients whose send failed.
package websocket

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DisplayKey returns the box-group key Display connections of a branch
// register under.
func DisplayKey(branch string) string {
	return "box_" + branch
}

// Delivery is the outcome of sending one payload to one client.
type Delivery struct {
	Client *Client
	Err    error
}

// OK reports whether the send succeeded.
func (d Delivery) OK() bool { return d.Err == nil }

// Counts is a point-in-time view of how many clients each key holds.
type Counts struct {
	Displays   map[string]int
	Dashboards map[string]int
}

// Directory owns the Display and Dashboard client sets. All operations are
// thread-safe via sync.RWMutex. A key, once seen, stays known with a zero
// count after its last client leaves.
type Directory struct {
	mu          sync.RWMutex
	displays    map[string]map[*Client]struct{} // box key -> clients
	dashboards  map[string]map[*Client]struct{} // branch -> clients
	sendTimeout time.Duration
}

// NewDirectory creates an empty directory. sendTimeout bounds every
// individual send during Fanout.
func NewDirectory(sendTimeout time.Duration) *Directory {
	return &Directory{
		displays:    make(map[string]map[*Client]struct{}),
		dashboards:  make(map[string]map[*Client]struct{}),
		sendTimeout: sendTimeout,
	}
}

func (d *Directory) RegisterDisplay(key string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	add(d.displays, key, c)
}

func (d *Directory) RegisterDashboard(branch string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	add(d.dashboards, branch, c)
}

// DeregisterDisplay removes c from key. Removing an absent client is a no-op.
func (d *Directory) DeregisterDisplay(key string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove(d.displays, key, c)
}

// DeregisterDashboard removes c from branch. Removing an absent client is a no-op.
func (d *Directory) DeregisterDashboard(branch string, c *Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	remove(d.dashboards, branch, c)
}

// DisplaysFor returns a snapshot of the clients registered under key. The
// clients may disconnect before the caller sends to them.
func (d *Directory) DisplaysFor(key string) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return snapshot(d.displays[key])
}

// DashboardsFor returns a snapshot of the clients registered under branch.
func (d *Directory) DashboardsFor(branch string) []*Client {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return snapshot(d.dashboards[branch])
}

// Counts returns the current number of clients for every known key.
func (d *Directory) Counts() Counts {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := Counts{
		Displays:   make(map[string]int, len(d.displays)),
		Dashboards: make(map[string]int, len(d.dashboards)),
	}
	for k, set := range d.displays {
		out.Displays[k] = len(set)
	}
	for k, set := range d.dashboards {
		out.Dashboards[k] = len(set)
	}
	return out
}

// Fanout sends payload to every client concurrently and returns one Delivery
// per client, in the order given. A slow or hung client costs at most the
// directory's send timeout and never delays the others.
func (d *Directory) Fanout(ctx context.Context, clients []*Client, payload []byte) []Delivery {
	results := make([]Delivery, len(clients))
	var g errgroup.Group
	for i, c := range clients {
		i, c := i, c
		results[i].Client = c
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return nil
			}
			results[i].Err = c.Send(payload, d.sendTimeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// PruneDisplays deregisters and closes every failed recipient of a Display
// fan-out and returns them.
func (d *Directory) PruneDisplays(key string, deliveries []Delivery) []*Client {
	return d.prune(d.displays, key, deliveries)
}

// PruneDashboards deregisters and closes every failed recipient of a
// Dashboard fan-out and returns them.
func (d *Directory) PruneDashboards(branch string, deliveries []Delivery) []*Client {
	return d.prune(d.dashboards, branch, deliveries)
}

func (d *Directory) prune(m map[string]map[*Client]struct{}, key string, deliveries []Delivery) []*Client {
	var failed []*Client
	for _, dl := range deliveries {
		if !dl.OK() {
			failed = append(failed, dl.Client)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	d.mu.Lock()
	for _, c := range failed {
		remove(m, key, c)
	}
	d.mu.Unlock()

	for _, c := range failed {
		_ = c.Close()
	}
	return failed
}

func add(m map[string]map[*Client]struct{}, key string, c *Client) {
	if m[key] == nil {
		m[key] = make(map[*Client]struct{})
	}
	m[key][c] = struct{}{}
}

func remove(m map[string]map[*Client]struct{}, key string, c *Client) {
	if set, ok := m[key]; ok {
		delete(set, c)
	}
}

func snapshot(set map[*Client]struct{}) []*Client {
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
