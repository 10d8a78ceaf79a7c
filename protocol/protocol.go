// Package protocol defines the wire types shared by the tracker and the
// chat client: the tracker's line command grammar with its JSON replies,
// and the newline-delimited JSON envelope exchanged between peers.
package protocol

import (
	"net"
	"strconv"
)

// Tracker commands. One command per connection, space-separated ASCII
// tokens, terminated by a newline or by the client half-closing the socket.
const (
	CmdRegister   = "REGISTER"   // REGISTER <peer_id> <ip> <port>
	CmdGetPeers   = "GET_PEERS"  // GET_PEERS
	CmdUnregister = "UNREGISTER" // UNREGISTER <peer_id>
	CmdHeartbeat  = "HEARTBEAT"  // HEARTBEAT <peer_id>
)

// Reply status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PeerInfo is a peer's contact entry as reported by the tracker.
type PeerInfo struct {
	PeerID string `json:"peer_id"`
	IP     string `json:"ip"`
	Port   int    `json:"port"`
}

// Addr returns the dialable "ip:port" form of the entry.
func (p PeerInfo) Addr() string {
	return net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

// Response is the tracker's JSON reply. The connection is closed after a
// single response, so every exchange is exactly one Response.
// PeerCount and Peers are always present so a GET_PEERS reply from an empty
// registry still reads "peers": [], "peer_count": 0 on the wire.
type Response struct {
	Status    string     `json:"status"`
	Message   string     `json:"message,omitempty"`
	PeerCount int        `json:"peer_count"`
	Peers     []PeerInfo `json:"peers"`
}

// Envelope message types.
const (
	MessageDirect    = "direct"
	MessageBroadcast = "broadcast"
)

// Envelope is a single P2P chat message on the wire. Envelopes are framed
// as newline-delimited JSON: one document per line, split on '\n'.
type Envelope struct {
	Type    string `json:"type"`
	From    string `json:"from"`
	Content string `json:"content"`
}
