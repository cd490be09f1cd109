package control

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/envelope"
)

// The control channel speaks JSON text frames. Each frame is decoded exactly
// once at the transport boundary into one of the Frame variants below, so
// handler code switches on types instead of string fields.

var ErrUnknownFrame = errors.New("unknown frame")

// Frame is the tagged union of every message that can cross the control
// channel in either direction.
type Frame interface {
	frame()
}

// HelloFrame opens the handshake: the agent declares its public key
// (base64-encoded PEM). Unauthenticated by design; trust is established out
// of band when an operator enters the node's verification code.
type HelloFrame struct {
	Action         string `json:"action"`
	AgentPublicKey string `json:"agent_public_key"`
}

// HelloReplyFrame answers a hello with the panel's own public key.
type HelloReplyFrame struct {
	Status           string `json:"status"`
	BackendPublicKey string `json:"backend_public_key"`
	ServerID         string `json:"serverid"`
}

// EnvelopeFrame carries a hybrid-encrypted payload (registration or
// approval). The field layout is envelope.Envelope's wire form.
type EnvelopeFrame struct {
	envelope.Envelope
}

// VerifyCodeFrame is the caller-facing verification request
// ({"action":"verify_code",...} from a viewer).
type VerifyCodeFrame struct {
	Action         string `json:"action"`
	Code           string `json:"code"`
	VerificationID string `json:"verification_id"`
}

// VerifyCodeChallengeFrame is the plane-to-agent fan-out of a verification
// challenge ({"type":"verify_code",...}).
type VerifyCodeChallengeFrame struct {
	Type           string `json:"type"`
	Code           string `json:"code"`
	VerificationID string `json:"verification_id"`
}

// VerifyCodeResultFrame is the agent's answer, relayed back to viewers.
type VerifyCodeResultFrame struct {
	Type           string `json:"type"`
	VerificationID string `json:"verification_id"`
	Result         string `json:"result"` // "success" or "fail"
}

// APIRequestFrame relays an API call to the agent.
type APIRequestFrame struct {
	Type      string          `json:"type"`
	API       string          `json:"api"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestID string          `json:"request_id"`
}

// APIResponseFrame is the agent's correlated answer.
type APIResponseFrame struct {
	Type      string          `json:"type"`
	API       string          `json:"api"`
	RequestID string          `json:"request_id"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// ErrorFrame reports a protocol error to the peer, best effort, before the
// connection is closed.
type ErrorFrame struct {
	Error string `json:"error"`
}

func (HelloFrame) frame()               {}
func (HelloReplyFrame) frame()          {}
func (EnvelopeFrame) frame()            {}
func (VerifyCodeFrame) frame()          {}
func (VerifyCodeChallengeFrame) frame() {}
func (VerifyCodeResultFrame) frame()    {}
func (APIRequestFrame) frame()          {}
func (APIResponseFrame) frame()         {}
func (ErrorFrame) frame()               {}

// rawFrame mirrors every discriminating field of the wire format so a frame
// can be classified in a single unmarshal.
type rawFrame struct {
	Action         string          `json:"action"`
	Type           string          `json:"type"`
	Status         string          `json:"status"`
	Error          string          `json:"error"`
	CryptData      string          `json:"cryptdata"`
	Data           string          `json:"data"`
	AgentPublicKey string          `json:"agent_public_key"`
	BackendKey     string          `json:"backend_public_key"`
	ServerID       string          `json:"serverid"`
	Code           string          `json:"code"`
	VerificationID string          `json:"verification_id"`
	Result         json.RawMessage `json:"result"`
	API            string          `json:"api"`
	Payload        json.RawMessage `json:"payload"`
	RequestID      string          `json:"request_id"`
}

// DecodeFrame classifies and decodes one JSON text frame.
func DecodeFrame(data []byte) (Frame, error) {
	var p rawFrame
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch {
	case p.Action == "hello":
		return HelloFrame{Action: p.Action, AgentPublicKey: p.AgentPublicKey}, nil

	case p.Action == "verify_code":
		return VerifyCodeFrame{Action: p.Action, Code: p.Code, VerificationID: p.VerificationID}, nil

	case p.CryptData != "" && p.Data != "":
		return EnvelopeFrame{Envelope: envelope.Envelope{WrappedKey: p.CryptData, Body: p.Data}}, nil

	case p.Type == "verify_code":
		return VerifyCodeChallengeFrame{Type: p.Type, Code: p.Code, VerificationID: p.VerificationID}, nil

	case p.Type == "verify_code_result":
		var result string
		if len(p.Result) > 0 {
			if err := json.Unmarshal(p.Result, &result); err != nil {
				return nil, fmt.Errorf("decode verify result: %w", err)
			}
		}
		return VerifyCodeResultFrame{Type: p.Type, VerificationID: p.VerificationID, Result: result}, nil

	case p.Type == "api_request":
		return APIRequestFrame{Type: p.Type, API: p.API, Payload: p.Payload, RequestID: p.RequestID}, nil

	case p.Type == "api_response":
		return APIResponseFrame{Type: p.Type, API: p.API, RequestID: p.RequestID, Result: p.Result, Error: p.Error}, nil

	case p.Status != "":
		return HelloReplyFrame{Status: p.Status, BackendPublicKey: p.BackendKey, ServerID: p.ServerID}, nil

	case p.Error != "":
		return ErrorFrame{Error: p.Error}, nil
	}

	return nil, ErrUnknownFrame
}

// EncodeFrame marshals a frame for the wire, filling in the discriminator
// fields so callers never have to set them by hand.
func EncodeFrame(f Frame) ([]byte, error) {
	switch v := f.(type) {
	case HelloFrame:
		v.Action = "hello"
		return json.Marshal(v)
	case VerifyCodeFrame:
		v.Action = "verify_code"
		return json.Marshal(v)
	case VerifyCodeChallengeFrame:
		v.Type = "verify_code"
		return json.Marshal(v)
	case VerifyCodeResultFrame:
		v.Type = "verify_code_result"
		return json.Marshal(v)
	case APIRequestFrame:
		v.Type = "api_request"
		return json.Marshal(v)
	case APIResponseFrame:
		v.Type = "api_response"
		return json.Marshal(v)
	default:
		return json.Marshal(f)
	}
}
