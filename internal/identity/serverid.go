package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
)

const (
	// ServerIDLength is the number of hex characters in a server id.
	ServerIDLength = 16

	serverIDFile = "serverid.dat"

	// NodeIDPrefix turns a server id into the node id used across the panel.
	NodeIDPrefix = "node-"
)

// NodeID returns the panel-wide node id for a server id.
func NodeID(serverID string) string {
	return NodeIDPrefix + serverID
}

// EnsureServerID returns the machine's stable server id, deriving and
// persisting it on first run. The id is a fingerprint of the primary MAC
// address and local IP, so the same physical machine re-derives the same id
// even if the marker file is lost.
func EnsureServerID(stateDir string) (string, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return "", fmt.Errorf("create state dir: %w", err)
	}

	path := filepath.Join(stateDir, serverIDFile)
	if data, err := os.ReadFile(path); err == nil {
		id := strings.TrimSpace(string(data))
		if len(id) == ServerIDLength {
			return id, nil
		}
	}

	id := deriveServerID()
	if err := os.WriteFile(path, []byte(id), 0o600); err != nil {
		return "", fmt.Errorf("persist server id: %w", err)
	}
	slog.Info("Derived server id", "server_id", id)
	return id, nil
}

// deriveServerID hashes hardware/network identifiers into 16 hex chars.
// Disk and motherboard identifiers are not portably readable without
// elevated privileges, so they enter the hash as fixed placeholders; the
// MAC address dominates the fingerprint.
func deriveServerID() string {
	mac := primaryMAC()
	ip := localIP()

	raw := fmt.Sprintf("%s-%s-%s-%s", mac, "unknowndisk", "unknownmb", ip)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])[:ServerIDLength]
}

func primaryMAC() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "unknownmac"
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
	}
	return "unknownmac"
}

func localIP() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknownip"
	}
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return "unknownip"
	}
	return addrs[0]
}
