package websocket

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
)

// ErrSendTimeout is returned by Client.Send when the peer did not accept the
// frame within the allotted time.
var ErrSendTimeout = errors.New("websocket: send timed out")

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client is one live Display or Dashboard connection. Writes are serialized
// because gorilla/websocket supports a single concurrent writer.
type Client struct {
	ID  string
	Key string

	conn      Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// NewClient wraps conn as a client registered under key.
func NewClient(key string, conn Conn) *Client {
	return &Client{
		ID:   uuid.New().String(),
		Key:  key,
		conn: conn,
	}
}

// Send writes data as a single text frame. A non-positive timeout waits for
// the write to finish; otherwise the call returns ErrSendTimeout once the
// timeout elapses, even if the underlying write is still blocked.
func (c *Client) Send(data []byte, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if timeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
		}
		done <- c.conn.WriteMessage(gorillawebsocket.TextMessage, data)
	}()

	if timeout <= 0 {
		return <-done
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ErrSendTimeout
	}
}

// Close closes the underlying connection once; later calls are no-ops.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

// gorillaConnAdapter wraps a gorilla/websocket.Conn to satisfy the Conn interface.
type gorillaConnAdapter struct {
	conn *gorillawebsocket.Conn
}

func (a *gorillaConnAdapter) ReadMessage() (int, []byte, error) {
	return a.conn.ReadMessage()
}

func (a *gorillaConnAdapter) WriteMessage(messageType int, data []byte) error {
	return a.conn.WriteMessage(messageType, data)
}

func (a *gorillaConnAdapter) SetWriteDeadline(t time.Time) error {
	return a.conn.SetWriteDeadline(t)
}

func (a *gorillaConnAdapter) Close() error {
	return a.conn.Close()
}
