package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
)

const (
	sendChannelBuffer = 100
	sendTimeout       = 5 * time.Second
)

// Role distinguishes the two kinds of participants sharing a node's group.
type Role string

const (
	// RoleAgent is the remote machine's own connection. At most one per
	// group; when an agent reconnects, the registry closes the previous
	// agent channel in its favor.
	RoleAgent Role = "agent"

	// RoleViewer is any other party attached to the node's channel: a
	// frontend during onboarding, or a relay caller.
	RoleViewer Role = "viewer"
)

// Conn is the surface a Channel needs from its underlying connection.
// Production channels wrap a websocket; tests substitute an in-memory pipe.
type Conn interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close(reason string) error
}

// Channel is the live, in-memory representation of one accepted connection.
// Exactly one Channel exists per connection; it dies with the socket. Writes
// go through a buffered send queue drained by a single writer goroutine so
// concurrent senders never interleave frames.
type Channel struct {
	ID         string
	Group      string
	RemoteAddr string

	mu   sync.RWMutex
	role Role

	conn   Conn
	sendCh chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

// NewChannel wraps conn and starts the writer goroutine.
func NewChannel(conn Conn, group string, role Role, remoteAddr string) *Channel {
	ctx, cancel := context.WithCancel(context.Background())
	ch := &Channel{
		ID:         uuid.New().String(),
		Group:      group,
		RemoteAddr: remoteAddr,
		role:       role,
		conn:       conn,
		sendCh:     make(chan []byte, sendChannelBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
	go ch.writeLoop()
	return ch
}

// Role returns the channel's current role.
func (ch *Channel) Role() Role {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.role
}

// SetRole upgrades a connection's role, typically viewer to agent after a
// successful hello.
func (ch *Channel) SetRole(role Role) {
	ch.mu.Lock()
	ch.role = role
	ch.mu.Unlock()
}

// Send queues a frame for delivery. It fails with ErrChannelClosed once the
// channel is dead, and never blocks longer than the send timeout even if
// the peer has stopped reading.
func (ch *Channel) Send(f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	select {
	case ch.sendCh <- data:
		return nil
	case <-ch.ctx.Done():
		return ErrChannelClosed
	case <-time.After(sendTimeout):
		return fmt.Errorf("send queue full for channel %s: %w", ch.ID, ErrTimeout)
	}
}

// SendNow writes a frame straight to the connection, bypassing the send
// queue. Teardown paths use it so the final error report is not lost when
// the channel closes immediately after.
func (ch *Channel) SendNow(ctx context.Context, f Frame) error {
	data, err := EncodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return ch.conn.WriteMessage(writeCtx, data)
}

// Read blocks for the next raw frame from the peer.
func (ch *Channel) Read(ctx context.Context) ([]byte, error) {
	return ch.conn.ReadMessage(ctx)
}

// Close tears the channel down. Idempotent.
func (ch *Channel) Close(reason string) {
	ch.once.Do(func() {
		ch.cancel()
		if err := ch.conn.Close(reason); err != nil {
			slog.Debug("Channel close", "channel_id", ch.ID, "error", err)
		}
	})
}

// Done is closed when the channel dies.
func (ch *Channel) Done() <-chan struct{} {
	return ch.ctx.Done()
}

func (ch *Channel) writeLoop() {
	for {
		select {
		case <-ch.ctx.Done():
			return
		case data := <-ch.sendCh:
			writeCtx, cancel := context.WithTimeout(ch.ctx, sendTimeout)
			err := ch.conn.WriteMessage(writeCtx, data)
			cancel()
			if err != nil {
				slog.Debug("Channel write failed", "channel_id", ch.ID, "error", err)
				ch.Close("write failed")
				return
			}
		}
	}
}

// wsConn adapts a nhooyr websocket connection to the Conn interface.
type wsConn struct {
	c *websocket.Conn
}

// NewWebsocketConn wraps an accepted or dialed websocket connection.
func NewWebsocketConn(c *websocket.Conn) Conn {
	return &wsConn{c: c}
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := w.c.Read(ctx)
	return data, err
}

func (w *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Close(reason string) error {
	return w.c.Close(websocket.StatusNormalClosure, reason)
}
