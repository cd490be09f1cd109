package control

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrameVariants(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Frame
	}{
		{
			"hello",
			`{"action":"hello","agent_public_key":"a2V5"}`,
			HelloFrame{Action: "hello", AgentPublicKey: "a2V5"},
		},
		{
			"verify code request",
			`{"action":"verify_code","code":"ABC123","verification_id":"v-1"}`,
			VerifyCodeFrame{Action: "verify_code", Code: "ABC123", VerificationID: "v-1"},
		},
		{
			"verify code challenge",
			`{"type":"verify_code","code":"ABC123","verification_id":"v-1"}`,
			VerifyCodeChallengeFrame{Type: "verify_code", Code: "ABC123", VerificationID: "v-1"},
		},
		{
			"verify code result",
			`{"type":"verify_code_result","verification_id":"v-1","result":"success"}`,
			VerifyCodeResultFrame{Type: "verify_code_result", VerificationID: "v-1", Result: "success"},
		},
		{
			"hello reply",
			`{"status":"ok","backend_public_key":"cGVt","serverid":"abcdef0123456789"}`,
			HelloReplyFrame{Status: "ok", BackendPublicKey: "cGVt", ServerID: "abcdef0123456789"},
		},
		{
			"error",
			`{"error":"something broke"}`,
			ErrorFrame{Error: "something broke"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeFrame([]byte(tc.data))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDecodeFrameEnvelope(t *testing.T) {
	got, err := DecodeFrame([]byte(`{"cryptdata":"a2V5","data":"Ym9keQ=="}`))
	require.NoError(t, err)

	env, ok := got.(EnvelopeFrame)
	require.True(t, ok)
	assert.Equal(t, "a2V5", env.WrappedKey)
	assert.Equal(t, "Ym9keQ==", env.Body)
}

func TestDecodeFrameAPIRequestResponse(t *testing.T) {
	got, err := DecodeFrame([]byte(`{"type":"api_request","api":"list_files","payload":{"path":"/tmp"},"request_id":"r-1"}`))
	require.NoError(t, err)

	req, ok := got.(APIRequestFrame)
	require.True(t, ok)
	assert.Equal(t, "list_files", req.API)
	assert.Equal(t, "r-1", req.RequestID)
	assert.JSONEq(t, `{"path":"/tmp"}`, string(req.Payload))

	got, err = DecodeFrame([]byte(`{"type":"api_response","api":"list_files","request_id":"r-1","result":{"files":[]}}`))
	require.NoError(t, err)

	resp, ok := got.(APIResponseFrame)
	require.True(t, ok)
	assert.Equal(t, "r-1", resp.RequestID)
	assert.JSONEq(t, `{"files":[]}`, string(resp.Result))
	assert.Empty(t, resp.Error)
}

func TestDecodeFrameUnknown(t *testing.T) {
	_, err := DecodeFrame([]byte(`{"something":"else"}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)

	_, err = DecodeFrame([]byte(`not json`))
	assert.Error(t, err)
}

func TestEncodeFrameFillsDiscriminators(t *testing.T) {
	data, err := EncodeFrame(VerifyCodeResultFrame{VerificationID: "v-1", Result: "fail"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "verify_code_result", decoded["type"])

	data, err = EncodeFrame(APIRequestFrame{API: "read_file", RequestID: "r-9"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "api_request", decoded["type"])
}

func TestFrameRoundTrip(t *testing.T) {
	frames := []Frame{
		HelloFrame{AgentPublicKey: "a2V5"},
		VerifyCodeChallengeFrame{Code: "C0DE", VerificationID: "v-2"},
		APIResponseFrame{API: "read_file", RequestID: "r-2", Error: "permission denied"},
	}

	for _, f := range frames {
		data, err := EncodeFrame(f)
		require.NoError(t, err)
		decoded, err := DecodeFrame(data)
		require.NoError(t, err)
		assert.IsType(t, f, decoded)
	}
}
