package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/envelope"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
)

const (
	initialDelay  = 1 * time.Second
	maxDelay      = 30 * time.Second
	backoffFactor = 2

	handshakeTimeout  = 15 * time.Second
	sendChannelBuffer = 100
)

// Client maintains the agent's persistent connection to the panel: dial,
// hello, sealed registration, then a frame loop answering verification
// challenges and relayed API requests. It reconnects forever with
// exponential backoff until stopped.
type Client struct {
	config   Config
	keys     *identity.KeyPair
	serverID string
	handlers *HandlerSet

	mu    sync.RWMutex
	state State

	sendCh chan []byte
	stopCh chan struct{}
	doneCh chan struct{}

	reconnectDelay time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient loads (or creates) the agent's identity and persisted state.
func NewClient(config Config) (*Client, error) {
	config = config.withDefaults()

	if err := os.MkdirAll(config.StateDir, 0700); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	keys, err := identity.EnsureAgentIdentity(config.StateDir)
	if err != nil {
		return nil, fmt.Errorf("ensure agent identity: %w", err)
	}

	serverID, err := identity.EnsureServerID(config.StateDir)
	if err != nil {
		return nil, fmt.Errorf("ensure server id: %w", err)
	}

	st, err := LoadState(config.StateDir)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		config:         config,
		keys:           keys,
		serverID:       serverID,
		handlers:       NewHandlerSet(),
		state:          st,
		sendCh:         make(chan []byte, sendChannelBuffer),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
		reconnectDelay: initialDelay,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// ServerID returns the locally derived server identifier.
func (c *Client) ServerID() string {
	return c.serverID
}

func (c *Client) Start() error {
	go c.connectionLoop()
	return nil
}

func (c *Client) Stop() error {
	slog.Info("Stopping agent client")
	close(c.stopCh)
	c.cancel()
	<-c.doneCh
	slog.Info("Agent client stopped")
	return nil
}

func (c *Client) endpoint() string {
	return fmt.Sprintf("%s/alterion/panel/agent/%s/",
		strings.TrimRight(c.config.ServerURL, "/"), c.serverID)
}

func (c *Client) connectionLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.connect()
		if err != nil {
			slog.Error("Connection failed", "error", err, "retry_in", c.reconnectDelay)
			select {
			case <-time.After(c.reconnectDelay):
				c.increaseReconnectDelay()
				continue
			case <-c.stopCh:
				return
			}
		}

		c.reconnectDelay = initialDelay

		if err := c.handleConnection(conn); err != nil {
			slog.Error("Connection ended", "error", err)
		}
		_ = conn.Close("reconnecting")

		select {
		case <-c.stopCh:
			return
		default:
			slog.Info("Reconnecting", "delay", c.reconnectDelay)
			time.Sleep(c.reconnectDelay)
			c.increaseReconnectDelay()
		}
	}
}

func (c *Client) increaseReconnectDelay() {
	c.reconnectDelay = c.reconnectDelay * backoffFactor
	if c.reconnectDelay > maxDelay {
		c.reconnectDelay = maxDelay
	}
}

// connect dials the panel and walks the handshake: hello, then a sealed
// registration, then persisting the approval the panel returns.
func (c *Client) connect() (control.Conn, error) {
	endpoint := c.endpoint()
	slog.Info("Connecting to panel", "endpoint", endpoint)

	dialCtx, cancel := context.WithTimeout(c.ctx, handshakeTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial panel: %w", err)
	}
	ws.SetReadLimit(16 * 1024 * 1024)
	conn := control.NewWebsocketConn(ws)

	if err := c.handshake(dialCtx, conn); err != nil {
		_ = conn.Close("handshake failed")
		return nil, err
	}

	slog.Info("Connected to panel", "node_id", identity.NodeID(c.serverID))
	return conn, nil
}

func (c *Client) handshake(ctx context.Context, conn control.Conn) error {
	pubB64, err := c.keys.PublicKeyBase64()
	if err != nil {
		return err
	}

	if err := c.writeFrame(ctx, conn, control.HelloFrame{AgentPublicKey: pubB64}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	frame, err := c.readFrame(ctx, conn)
	if err != nil {
		return fmt.Errorf("read hello reply: %w", err)
	}
	reply, ok := frame.(control.HelloReplyFrame)
	if !ok || reply.Status != "ok" {
		return fmt.Errorf("%w: unexpected hello reply %T", identity.ErrBadHandshake, frame)
	}

	backendKey, _, err := identity.ParsePublicKeyBase64(reply.BackendPublicKey)
	if err != nil {
		return fmt.Errorf("parse backend key: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	sealed, err := envelope.SealJSON(control.RegistrationPayload{
		ServerID: c.serverID,
		Hostname: hostname,
		Port:     c.config.Port,
		Username: c.config.Username,
		SFTPPort: c.config.SFTPPort,
	}, backendKey)
	if err != nil {
		return fmt.Errorf("seal registration: %w", err)
	}
	if err := c.writeFrame(ctx, conn, control.EnvelopeFrame{Envelope: sealed}); err != nil {
		return fmt.Errorf("send registration: %w", err)
	}

	frame, err = c.readFrame(ctx, conn)
	if err != nil {
		return fmt.Errorf("read approval: %w", err)
	}
	env, ok := frame.(control.EnvelopeFrame)
	if !ok {
		return fmt.Errorf("%w: expected approval envelope, got %T", identity.ErrBadHandshake, frame)
	}

	var approval control.ApprovalPayload
	if err := envelope.OpenJSON(env.Envelope, c.keys.Private, &approval); err != nil {
		return fmt.Errorf("open approval: %w", err)
	}

	st := State{
		NodeID:       approval.NodeID,
		Code:         approval.Code,
		RegisteredAt: time.Now(),
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()

	if err := SaveState(c.config.StateDir, st); err != nil {
		// The agent can still serve this session; it just re-registers
		// from scratch next run.
		slog.Error("Failed to persist agent state", "error", err)
	}
	return nil
}

// handleConnection runs the steady-state loops until one of them fails or
// the client is stopped.
func (c *Client) handleConnection(conn control.Conn) error {
	done := make(chan struct{})
	defer close(done)
	errChan := make(chan error, 2)

	go c.receiveLoop(conn, done, errChan)
	go c.sendLoop(conn, done, errChan)

	select {
	case err := <-errChan:
		return err
	case <-c.stopCh:
		return nil
	}
}

func (c *Client) receiveLoop(conn control.Conn, done chan struct{}, errChan chan error) {
	for {
		data, err := conn.ReadMessage(c.ctx)
		if err != nil {
			select {
			case errChan <- err:
			case <-done:
			}
			return
		}

		frame, err := control.DecodeFrame(data)
		if err != nil {
			if errors.Is(err, control.ErrUnknownFrame) {
				slog.Warn("Ignoring unknown frame")
				continue
			}
			slog.Error("Failed to decode frame", "error", err)
			continue
		}

		c.processFrame(frame)
	}
}

func (c *Client) sendLoop(conn control.Conn, done chan struct{}, errChan chan error) {
	for {
		select {
		case <-done:
			return
		case data := <-c.sendCh:
			if err := conn.WriteMessage(c.ctx, data); err != nil {
				select {
				case errChan <- err:
				case <-done:
				}
				return
			}
		}
	}
}

func (c *Client) processFrame(frame control.Frame) {
	switch f := frame.(type) {
	case control.VerifyCodeChallengeFrame:
		c.handleVerifyChallenge(f)

	case control.APIRequestFrame:
		go c.handleAPIRequest(f)

	case control.ErrorFrame:
		slog.Warn("Panel reported error", "error", f.Error)

	default:
		slog.Debug("Ignoring frame", "frame", fmt.Sprintf("%T", frame))
	}
}

// handleVerifyChallenge compares the code an operator entered against the
// approval code this agent stored during registration.
func (c *Client) handleVerifyChallenge(f control.VerifyCodeChallengeFrame) {
	c.mu.RLock()
	code := c.state.Code
	c.mu.RUnlock()

	result := "fail"
	if code != "" && f.Code == code {
		result = "success"
	}

	slog.Info("Verification challenge answered",
		"verification_id", f.VerificationID, "result", result)

	c.send(control.VerifyCodeResultFrame{
		VerificationID: f.VerificationID,
		Result:         result,
	})
}

func (c *Client) handleAPIRequest(f control.APIRequestFrame) {
	resp := control.APIResponseFrame{API: f.API, RequestID: f.RequestID}

	result, err := c.handlers.Handle(c.ctx, f.API, f.Payload)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = result
	}

	c.send(resp)
}

func (c *Client) send(f control.Frame) {
	data, err := control.EncodeFrame(f)
	if err != nil {
		slog.Error("Failed to encode frame", "error", err)
		return
	}
	select {
	case c.sendCh <- data:
	default:
		slog.Warn("Send channel full, dropping frame")
	}
}

func (c *Client) writeFrame(ctx context.Context, conn control.Conn, f control.Frame) error {
	data, err := control.EncodeFrame(f)
	if err != nil {
		return err
	}
	return conn.WriteMessage(ctx, data)
}

func (c *Client) readFrame(ctx context.Context, conn control.Conn) (control.Frame, error) {
	data, err := conn.ReadMessage(ctx)
	if err != nil {
		return nil, err
	}
	return control.DecodeFrame(data)
}
