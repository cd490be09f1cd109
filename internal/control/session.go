package control

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/envelope"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/identity"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

// State is a session's position in the connection lifecycle.
type State int

const (
	// StateConnected: socket accepted, nothing exchanged yet.
	StateConnected State = iota
	// StateHelloExchanged: public keys swapped.
	StateHelloExchanged
	// StateRegistered: node identity persisted or refreshed.
	StateRegistered
	// StateActive: steady-state frame loop.
	StateActive
	// StateClosed: terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateHelloExchanged:
		return "hello_exchanged"
	case StateRegistered:
		return "registered"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	approvalCodeLength     = 10
	livenessUpdateInterval = 60 * time.Second
)

// RegistrationPayload is the plaintext of the registration envelope an agent
// sends right after hello.
type RegistrationPayload struct {
	ServerID  string `json:"serverid"`
	Hostname  string `json:"hostname"`
	IPAddress string `json:"ip_address"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	SFTPPort  int    `json:"sftp_port"`
}

// ApprovalPayload is the sealed reply: the node's panel-wide id plus the
// one-time code an operator must read off the machine to approve it.
type ApprovalPayload struct {
	NodeID string `json:"node_id"`
	Code   string `json:"code"`
}

// VerifyOutcomeFrame is what a waiting viewer receives once a verification
// resolves (or times out).
type VerifyOutcomeFrame struct {
	Verified bool    `json:"verified"`
	Valid    bool    `json:"valid"`
	Error    *string `json:"error"`
}

func (VerifyOutcomeFrame) frame() {}

// Session drives one accepted connection from hello to close. Viewer
// connections stay in StateConnected and only relay requests; a connection
// that performs the hello exchange becomes the node's agent channel and
// walks the full lifecycle.
type Session struct {
	hub      *Hub
	channel  *Channel
	serverID string
	group    string

	state      State
	agentPub   *rsa.PublicKey
	agentPEM   []byte
	lastStatus nodes.Status

	wg sync.WaitGroup
}

// NewSession prepares a session for a connection claiming serverID. The
// channel joins the node's group immediately, as a viewer, exactly so that
// verification fan-out reaches frontends that connected before the agent.
func NewSession(hub *Hub, serverID string, ch *Channel) *Session {
	return &Session{
		hub:      hub,
		channel:  ch,
		serverID: serverID,
		group:    identity.NodeID(serverID),
		state:    StateConnected,
	}
}

// Run executes the frame loop until the connection dies. Protocol errors
// are reported to the peer best-effort and close only this connection.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.hub.Registry.Register(s.group, s.channel)
	defer s.cleanup()

	slog.Info("Session started",
		"server_id", s.serverID,
		"channel_id", s.channel.ID,
		"remote_addr", s.channel.RemoteAddr)

	for {
		data, err := s.channel.Read(ctx)
		if err != nil {
			slog.Info("Session read ended", "channel_id", s.channel.ID, "error", err)
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			// Malformed frames terminate only this connection. The error
			// report goes out directly; a queued frame would race the close.
			_ = s.channel.SendNow(ctx, ErrorFrame{Error: err.Error()})
			slog.Warn("Dropping connection on malformed frame",
				"channel_id", s.channel.ID, "error", err)
			return
		}

		if err := s.handleFrame(ctx, frame); err != nil {
			_ = s.channel.SendNow(ctx, ErrorFrame{Error: err.Error()})
			slog.Warn("Dropping connection on protocol error",
				"channel_id", s.channel.ID,
				"state", s.state.String(),
				"error", err)
			return
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame Frame) error {
	switch f := frame.(type) {
	case HelloFrame:
		return s.handleHello(f)

	case EnvelopeFrame:
		return s.handleRegistration(ctx, f)

	case VerifyCodeFrame:
		s.spawn(func() { s.handleVerifyRequest(ctx, f) })
		return nil

	case VerifyCodeResultFrame:
		return s.handleVerifyResult(ctx, f)

	case APIRequestFrame:
		s.spawn(func() { s.handleViewerAPIRequest(ctx, f) })
		return nil

	case APIResponseFrame:
		s.handleAPIResponse(f)
		return nil

	default:
		slog.Warn("Ignoring unexpected frame",
			"channel_id", s.channel.ID,
			"frame", fmt.Sprintf("%T", frame))
		return nil
	}
}

// handleHello performs the key exchange. No authentication happens here by
// design: the agent is trusted to hold its key, and authorization follows
// later when an operator enters the verification code.
func (s *Session) handleHello(f HelloFrame) error {
	if s.state != StateConnected {
		return fmt.Errorf("hello not valid in state %s", s.state)
	}
	if f.AgentPublicKey == "" {
		return fmt.Errorf("%w: agent_public_key missing in hello", identity.ErrBadHandshake)
	}

	pub, pemBytes, err := identity.ParsePublicKeyBase64(f.AgentPublicKey)
	if err != nil {
		return err
	}

	if err := s.hub.Keys.Put(s.group, pemBytes); err != nil {
		return err
	}

	backendKey, err := s.hub.Identity.PublicKeyBase64()
	if err != nil {
		return err
	}

	if err := s.channel.Send(HelloReplyFrame{
		Status:           "ok",
		BackendPublicKey: backendKey,
		ServerID:         s.serverID,
	}); err != nil {
		return err
	}

	s.agentPub = pub
	s.agentPEM = pemBytes
	s.hub.Registry.PromoteAgent(s.group, s.channel)
	s.state = StateHelloExchanged

	slog.Info("Hello exchanged", "node_id", s.group, "channel_id", s.channel.ID)
	return nil
}

// handleRegistration opens the encrypted registration envelope, upserts the
// node record, and replies with a sealed approval payload.
func (s *Session) handleRegistration(ctx context.Context, f EnvelopeFrame) error {
	if s.state != StateHelloExchanged {
		return fmt.Errorf("registration envelope not valid in state %s", s.state)
	}
	if s.agentPub == nil {
		return errors.New("agent public key not known, send hello first")
	}

	var reg RegistrationPayload
	if err := envelope.OpenJSON(f.Envelope, s.hub.Identity.Private, &reg); err != nil {
		return err
	}

	if reg.ServerID == "" {
		reg.ServerID = s.serverID
	}
	nodeID := identity.NodeID(reg.ServerID)

	ip := reg.IPAddress
	if ip == "" || ip == "0.0.0.0" {
		ip = s.channel.RemoteAddr
	}
	hostname := reg.Hostname
	if hostname == "" {
		hostname = nodeID
	}
	username := reg.Username
	if username == "" {
		username = "root"
	}
	port := reg.Port
	if port == 0 {
		port = 22
	}

	code, err := approvalCode(approvalCodeLength)
	if err != nil {
		return err
	}

	saved, err := s.hub.Store.Upsert(ctx, nodes.Node{
		ID:           nodeID,
		Hostname:     hostname,
		IPAddress:    ip,
		Port:         port,
		Username:     username,
		SFTPPort:     reg.SFTPPort,
		PublicKeyPEM: string(s.agentPEM),
		Status:       nodes.StatusPending,
		Code:         code,
	})
	if err != nil {
		return fmt.Errorf("persist node: %w", err)
	}
	s.lastStatus = saved.Status
	s.state = StateRegistered

	sealed, err := envelope.SealJSON(ApprovalPayload{NodeID: nodeID, Code: code}, s.agentPub)
	if err != nil {
		return fmt.Errorf("seal approval: %w", err)
	}
	if err := s.channel.Send(EnvelopeFrame{Envelope: sealed}); err != nil {
		return err
	}

	s.state = StateActive
	s.spawn(func() { s.watchLiveness(ctx) })

	slog.Info("Node registered",
		"node_id", nodeID,
		"status", saved.Status,
		"hostname", hostname)
	return nil
}

// handleVerifyRequest serves a viewer's verification attempt: fan the
// challenge out to the agent, park a waiter under the verification id, and
// answer this viewer only.
func (s *Session) handleVerifyRequest(ctx context.Context, f VerifyCodeFrame) {
	vid := f.VerificationID
	if vid == "" {
		vid = uuid.New().String()
	}

	w := s.hub.Correlator.Track(vid, s.group, s.channel, nil)

	s.hub.Registry.Broadcast(s.group, VerifyCodeChallengeFrame{
		Code:           f.Code,
		VerificationID: vid,
	}, s.channel)

	payload, err := w.Await(ctx, s.hub.Config.VerifyTimeout)
	if err != nil {
		msg := "Timeout waiting for agent verification"
		_ = s.channel.Send(VerifyOutcomeFrame{Verified: false, Valid: false, Error: &msg})
		return
	}

	var outcome VerifyOutcomeFrame
	if err := json.Unmarshal(payload, &outcome); err != nil {
		slog.Error("Bad verification outcome payload", "verification_id", vid, "error", err)
		return
	}
	_ = s.channel.Send(outcome)
}

// handleVerifyResult accepts the agent's answer, resolves the waiter, fans
// the result out to viewers, and promotes the node on success.
func (s *Session) handleVerifyResult(ctx context.Context, f VerifyCodeResultFrame) error {
	success := f.Result == "success"

	outcome := VerifyOutcomeFrame{Verified: success, Valid: success}
	if !success {
		msg := "Invalid code"
		outcome.Error = &msg
	}
	payload, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal verify outcome: %w", err)
	}

	s.hub.Correlator.Resolve(f.VerificationID, payload)

	s.hub.Registry.Broadcast(s.group, f, s.channel)

	if success {
		if err := s.hub.Store.SetStatus(ctx, s.group, nodes.StatusOnline); err != nil {
			slog.Error("Failed to promote node after verification",
				"node_id", s.group, "error", err)
		} else {
			s.lastStatus = nodes.StatusOnline
		}
	}
	return nil
}

// handleViewerAPIRequest relays an api_request arriving over a viewer
// connection to the node's agent and returns the correlated answer to the
// requesting viewer only.
func (s *Session) handleViewerAPIRequest(ctx context.Context, f APIRequestFrame) {
	target, ok := s.hub.Registry.AgentChannel(s.group)
	if !ok {
		_ = s.channel.Send(APIResponseFrame{
			API:       f.API,
			RequestID: f.RequestID,
			Error:     ErrNodeNotConnected.Error(),
		})
		return
	}

	id := f.RequestID
	if id == "" {
		id = uuid.New().String()
	}
	w := s.hub.Correlator.Track(id, s.group, s.channel, target)

	if err := target.Send(APIRequestFrame{API: f.API, Payload: f.Payload, RequestID: id}); err != nil {
		s.hub.Correlator.Fail(id, err)
	}

	payload, err := w.Await(ctx, s.hub.Config.CallTimeout)
	resp := APIResponseFrame{API: f.API, RequestID: f.RequestID}
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Result = payload
	}
	_ = s.channel.Send(resp)
}

// handleAPIResponse resolves the waiter parked under the response's request
// id. Late responses (the waiter already timed out) are dropped silently.
func (s *Session) handleAPIResponse(f APIResponseFrame) {
	if f.Error != "" {
		s.hub.Correlator.Fail(f.RequestID, &AgentError{API: f.API, Message: f.Error})
		return
	}
	s.hub.Correlator.Resolve(f.RequestID, f.Result)
}

// watchLiveness periodically refreshes the node's last-seen timestamp while
// the agent channel lives. It must not outlive the channel; the session
// context ties it down.
func (s *Session) watchLiveness(ctx context.Context) {
	ticker := time.NewTicker(livenessUpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.channel.Done():
			return
		case <-ticker.C:
			if err := s.hub.Store.UpdateLastSeen(context.Background(), s.group, time.Now()); err != nil {
				slog.Debug("Liveness update failed", "node_id", s.group, "error", err)
			}
		}
	}
}

// cleanup runs on every exit path: unregister, fail whatever was still in
// flight on this channel, and record the disconnect. One bad connection
// never affects the others.
func (s *Session) cleanup() {
	s.state = StateClosed
	s.channel.Close("session closed")
	s.hub.Registry.Unregister(s.group, s.channel)
	s.hub.Correlator.FailChannel(s.channel)
	s.wg.Wait()

	if s.channel.Role() == RoleAgent && s.lastStatus == nodes.StatusOnline {
		// A superseded session must not demote the node while its
		// replacement agent channel is live.
		if _, ok := s.hub.Registry.AgentChannel(s.group); !ok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.hub.Store.SetStatus(ctx, s.group, nodes.StatusOffline); err != nil {
				slog.Debug("Failed to mark node offline", "node_id", s.group, "error", err)
			}
		}
	}

	slog.Info("Session closed", "server_id", s.serverID, "channel_id", s.channel.ID)
}

func (s *Session) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// approvalCode draws a random alphanumeric one-time code.
func approvalCode(length int) (string, error) {
	out := make([]byte, length)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate approval code: %w", err)
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}
