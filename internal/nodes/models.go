package nodes

import "time"

// Status is a node's lifecycle state as shown in the panel.
type Status string

const (
	// StatusPending: registered but not yet approved by an operator.
	StatusPending Status = "pending"
	// StatusOnline: approved and reachable.
	StatusOnline Status = "online"
	// StatusOffline: previously approved, currently disconnected.
	StatusOffline Status = "offline"
	// StatusError: last contact ended abnormally.
	StatusError Status = "error"
)

// Node is the durable record of a remote machine. Created on first
// successful registration, updated on every reconnect, never deleted
// automatically.
type Node struct {
	ID           string    `json:"id"`
	Hostname     string    `json:"hostname"`
	IPAddress    string    `json:"ip_address"`
	Port         int       `json:"port"`
	Username     string    `json:"username"`
	SFTPPort     int       `json:"sftp_port"`
	PublicKeyPEM string    `json:"-"`
	Status       Status    `json:"status"`
	Code         string    `json:"-"`
	LastSeen     time.Time `json:"last_seen"`
	RegisteredAt time.Time `json:"registered_at"`
}
