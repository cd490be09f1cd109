package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http/dto"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/auth"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

func TestPanelAPI(t *testing.T, router *gin.Engine, jwtSecret string, svc *nodes.Service) {
	t.Run("health", func(t *testing.T) {
		rr := doJSON(router, "GET", "/health", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	var token string
	t.Run("login", func(t *testing.T) {
		rr := doJSON(router, "POST", "/auth/login", dto.LoginRequest{Username: "root", Password: "changeme"})
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)
		token = resp.Token

		claims, err := auth.ValidateToken(jwtSecret, resp.Token)
		require.NoError(t, err)
		assert.Equal(t, "root", claims.Username)
	})

	t.Run("login wrong password", func(t *testing.T) {
		rr := doJSON(router, "POST", "/auth/login", dto.LoginRequest{Username: "root", Password: "wrong"})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("nodes require auth", func(t *testing.T) {
		rr := doJSON(router, "GET", "/nodes", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/nodes", nil, "bogus-token")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("list nodes", func(t *testing.T) {
		_, err := svc.Upsert(context.Background(), nodes.Node{
			ID:        "node-apitest001",
			Hostname:  "api-01",
			IPAddress: "192.0.2.20",
			Status:    nodes.StatusPending,
			Code:      "apicode000",
		})
		require.NoError(t, err)

		rr := doJSONWithAuth(router, "GET", "/nodes", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.ListNodesResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.GreaterOrEqual(t, resp.Count, 1)

		found := false
		for _, n := range resp.Nodes {
			if n.ID == "node-apitest001" {
				found = true
				assert.False(t, n.Connected, "no agent is attached in this test")
			}
		}
		assert.True(t, found)
	})

	t.Run("get node", func(t *testing.T) {
		rr := doJSONWithAuth(router, "GET", "/nodes/node-apitest001", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp dto.NodeResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, "api-01", resp.Hostname)

		rr = doJSONWithAuth(router, "GET", "/nodes/node-missing", nil, token)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("verify without agent times out", func(t *testing.T) {
		rr := doJSONWithAuth(router, "POST", "/nodes/node-apitest001/verify",
			dto.VerifyNodeRequest{Code: "apicode000"}, token)
		assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
	})

	t.Run("api relay without agent", func(t *testing.T) {
		rr := doJSONWithAuth(router, "POST", "/nodes/node-apitest001/api/collect_metrics", nil, token)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

		rr = doJSONWithAuth(router, "GET", "/nodes/node-apitest001/metrics", nil, token)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("revoke node", func(t *testing.T) {
		rr := doJSONWithAuth(router, "POST", "/nodes/node-apitest001/revoke", nil, token)
		require.Equal(t, http.StatusOK, rr.Code)

		got, err := svc.Get(context.Background(), "node-apitest001")
		require.NoError(t, err)
		assert.Equal(t, nodes.StatusPending, got.Status)

		rr = doJSONWithAuth(router, "POST", "/nodes/node-missing/revoke", nil, token)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func doJSON(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func doJSONWithAuth(router *gin.Engine, method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}
