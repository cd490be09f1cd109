package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/api/http/dto"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/control"
	"github.com/Chace-Berry/Alterion-Panel-sub000/internal/nodes"
)

type NodesHandler struct {
	nodeService *nodes.Service
	dispatcher  *control.Dispatcher
}

func NewNodesHandler(nodeService *nodes.Service, dispatcher *control.Dispatcher) *NodesHandler {
	return &NodesHandler{
		nodeService: nodeService,
		dispatcher:  dispatcher,
	}
}

// ListNodes returns every registered node with its live connection state
// GET /nodes
func (h *NodesHandler) ListNodes(c *gin.Context) {
	nodeList, err := h.nodeService.List(c.Request.Context())
	if err != nil {
		slog.Error("Failed to list nodes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list nodes"})
		return
	}

	responses := make([]dto.NodeResponse, len(nodeList))
	for i, n := range nodeList {
		responses[i] = toNodeResponse(n, h.dispatcher.Connected(n.ID))
	}

	c.JSON(http.StatusOK, dto.ListNodesResponse{Nodes: responses, Count: len(responses)})
}

// GetNode returns one node
// GET /nodes/:id
func (h *NodesHandler) GetNode(c *gin.Context) {
	nodeID := c.Param("id")

	node, err := h.nodeService.Get(c.Request.Context(), nodeID)
	if err != nil {
		if errors.Is(err, nodes.ErrNodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		slog.Error("Failed to get node", "error", err, "node_id", nodeID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get node"})
		return
	}

	c.JSON(http.StatusOK, toNodeResponse(node, h.dispatcher.Connected(node.ID)))
}

// VerifyNode submits an approval code for the node's agent to confirm
// POST /nodes/:id/verify
func (h *NodesHandler) VerifyNode(c *gin.Context) {
	nodeID := c.Param("id")

	var req dto.VerifyNodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	verified, err := h.dispatcher.VerifyCode(c.Request.Context(), nodeID, req.Code)
	if err != nil {
		if errors.Is(err, control.ErrTimeout) {
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout waiting for agent verification"})
			return
		}
		slog.Error("Verification failed", "error", err, "node_id", nodeID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	c.JSON(http.StatusOK, dto.VerifyNodeResponse{Verified: verified})
}

// RevokeNode demotes a node to pending and disconnects it
// POST /nodes/:id/revoke
func (h *NodesHandler) RevokeNode(c *gin.Context) {
	nodeID := c.Param("id")

	if err := h.dispatcher.Revoke(c.Request.Context(), nodeID); err != nil {
		if errors.Is(err, nodes.ErrNodeNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "node not found"})
			return
		}
		slog.Error("Revoke failed", "error", err, "node_id", nodeID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "node revoked"})
}

// CallNodeAPI relays an arbitrary API request to the node's agent
// POST /nodes/:id/api/:name
func (h *NodesHandler) CallNodeAPI(c *gin.Context) {
	nodeID := c.Param("id")
	api := c.Param("name")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	var payload json.RawMessage
	if len(body) > 0 {
		payload = body
	}

	result, err := h.dispatcher.Call(c.Request.Context(), nodeID, api, payload, 0)
	if err != nil {
		h.relayError(c, nodeID, api, err)
		return
	}

	c.JSON(http.StatusOK, dto.NodeAPIResponse{Result: result})
}

// NodeMetrics relays collect_metrics to the node's agent
// GET /nodes/:id/metrics
func (h *NodesHandler) NodeMetrics(c *gin.Context) {
	nodeID := c.Param("id")

	result, err := h.dispatcher.Call(c.Request.Context(), nodeID, "collect_metrics", nil, 0)
	if err != nil {
		h.relayError(c, nodeID, "collect_metrics", err)
		return
	}

	c.JSON(http.StatusOK, dto.NodeAPIResponse{Result: result})
}

func (h *NodesHandler) relayError(c *gin.Context, nodeID, api string, err error) {
	var agentErr *control.AgentError

	switch {
	case errors.Is(err, control.ErrNodeNotConnected):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "node not connected"})
	case errors.Is(err, control.ErrTimeout):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "agent did not respond in time"})
	case errors.As(err, &agentErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": agentErr.Message})
	default:
		slog.Error("Relay failed", "error", err, "node_id", nodeID, "api", api)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "relay failed"})
	}
}

func toNodeResponse(n nodes.Node, connected bool) dto.NodeResponse {
	return dto.NodeResponse{
		ID:           n.ID,
		Hostname:     n.Hostname,
		IPAddress:    n.IPAddress,
		Port:         n.Port,
		Username:     n.Username,
		SFTPPort:     n.SFTPPort,
		Status:       string(n.Status),
		Connected:    connected,
		LastSeen:     n.LastSeen,
		RegisteredAt: n.RegisteredAt,
	}
}
