package dto

import (
	"encoding/json"
	"time"
)

type NodeResponse struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	IPAddress    string    `json:"ip_address"`
	Port         int       `json:"port"`
	Username     string    `json:"username"`
	SFTPPort     int       `json:"sftp_port"`
	Status       string    `json:"status"`
	Connected    bool      `json:"connected"`
	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`
}

type ListNodesResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Count int            `json:"count"`
}

type VerifyNodeRequest struct {
	Code string `json:"code" binding:"required"`
}

type VerifyNodeResponse struct {
	Verified bool `json:"verified"`
}

type NodeAPIResponse struct {
	Result json.RawMessage `json:"result"`
}
