package llamador

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nobis/llamador/internal/platform/messaging"
	"github.com/nobis/llamador/internal/platform/websocket"
)

// fakeConn records frames written to it and can be told to fail.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	writeErr error
	closed   bool
}

func (f *fakeConn) ReadMessage() (int, []byte, error) { return 0, nil, io.EOF }

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) frames() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func addDisplay(dir *websocket.Directory, branch string) *fakeConn {
	conn := &fakeConn{}
	key := websocket.DisplayKey(branch)
	dir.RegisterDisplay(key, websocket.NewClient(key, conn))
	return conn
}

func addDashboard(dir *websocket.Directory, branch string) *fakeConn {
	conn := &fakeConn{}
	dir.RegisterDashboard(branch, websocket.NewClient(branch, conn))
	return conn
}

func decodeDisplay(t *testing.T, b []byte) DisplayMessage {
	t.Helper()
	var m DisplayMessage
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode display message: %v", err)
	}
	return m
}

func decodeDashboard(t *testing.T, b []byte) DashboardEvent {
	t.Helper()
	var ev DashboardEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("decode dashboard event: %v", err)
	}
	return ev
}

type fakePartner struct {
	mu          sync.Mutex
	content     string
	contact     messaging.Contact
	activityErr error
	contactErr  error
	tokensSeen  []string
}

func (p *fakePartner) GetActivity(_ context.Context, token, caseID, activityID string) (*messaging.Activity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokensSeen = append(p.tokensSeen, token)
	if p.activityErr != nil {
		return nil, p.activityErr
	}
	return &messaging.Activity{ID: activityID, Type: "message", Content: p.content}, nil
}

func (p *fakePartner) GetContact(_ context.Context, token, contactID string) (*messaging.Contact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.contactErr != nil {
		return nil, p.contactErr
	}
	c := p.contact
	c.ID = contactID
	return &c, nil
}

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	err         error
	invalidated int
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token, f.err
}

func (f *fakeTokens) Invalidate(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated++
	return nil
}

// memMovementLog keeps movements in memory.
type memMovementLog struct {
	mu    sync.Mutex
	items []*Movement
	err   error
}

func (l *memMovementLog) Record(_ context.Context, m *Movement) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.items = append(l.items, m)
	return nil
}

func (l *memMovementLog) ListByBranch(_ context.Context, branch string, _ int) ([]*Movement, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	var out []*Movement
	for _, m := range l.items {
		if m.Branch == branch {
			out = append(out, m)
		}
	}
	return out, nil
}

func (l *memMovementLog) events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, m := range l.items {
		out = append(out, m.Event)
	}
	return out
}

var errBoom = errors.New("boom")

type testEnv struct {
	registry   *Registry
	dir        *websocket.Directory
	partner    *fakePartner
	tokens     *fakeTokens
	movements  *memMovementLog
	ingestor   *Ingestor
	dispatcher *Dispatcher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		registry:  NewRegistry(),
		dir:       websocket.NewDirectory(time.Second),
		partner:   &fakePartner{content: "Atención en Salta", contact: messaging.Contact{Name: "Ana Pérez", NationalID: "30111222"}},
		tokens:    &fakeTokens{token: "tok"},
		movements: &memMovementLog{},
	}
	logger := zerolog.Nop()
	env.ingestor = NewIngestor("llamador", env.registry, env.partner, env.tokens, env.dir, env.movements, logger)
	env.dispatcher = NewDispatcher(env.registry, env.dir, env.movements, logger)
	return env
}

func validEvent() WebhookEvent {
	return WebhookEvent{Event: "llamador", CaseID: "10", ActivityID: "20", ContactID: "30"}
}
