package tracker

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"peerchat/protocol"

	"github.com/stretchr/testify/require"
)

func startTestTracker(t *testing.T) (*Client, *Registry) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	registry := NewRegistry(time.Minute)
	srv := NewServer(l, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return NewClient(l.Addr().String()), registry
}

// sendRaw writes raw bytes as a single exchange and decodes the JSON reply.
func sendRaw(t *testing.T, addr string, payload string) *protocol.Response {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(payload))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	resp := &protocol.Response{}
	require.NoError(t, json.NewDecoder(conn).Decode(resp))
	return resp
}

func TestServerRegisterAndDiscover(t *testing.T) {
	client, registry := startTestTracker(t)
	ctx := context.Background()

	count, err := client.Register(ctx, "alice", "127.0.0.1", 6001)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	count, err = client.Register(ctx, "bob", "127.0.0.1", 6002)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	peers, err := client.GetPeers(ctx)
	require.NoError(t, err)
	require.Len(t, peers, 2)

	ids := map[string]protocol.PeerInfo{}
	for _, p := range peers {
		ids[p.PeerID] = p
	}
	require.Contains(t, ids, "alice")
	require.Contains(t, ids, "bob")
	require.Equal(t, 6002, ids["bob"].Port)

	require.Equal(t, 2, registry.Count())
}

func TestServerHeartbeatAndUnregister(t *testing.T) {
	client, registry := startTestTracker(t)
	ctx := context.Background()

	_, err := client.Register(ctx, "alice", "127.0.0.1", 6001)
	require.NoError(t, err)

	require.NoError(t, client.Heartbeat(ctx, "alice"))
	require.NoError(t, client.Unregister(ctx, "alice"))
	require.Equal(t, 0, registry.Count())

	// Both operations report the tracker's NotFound for unknown peers
	err = client.Heartbeat(ctx, "alice")
	require.ErrorContains(t, err, "Peer not found")

	err = client.Unregister(ctx, "ghost")
	require.ErrorContains(t, err, "Peer not found")
	require.Equal(t, 0, registry.Count())
}

func TestServerMalformedInput(t *testing.T) {
	client, registry := startTestTracker(t)
	addr := client.addr

	for _, tc := range []struct {
		name    string
		payload string
		message string
	}{
		{"unknown command", "BOGUS\n", "Unknown command"},
		{"empty command", "\n", "Empty command"},
		{"register arity", "REGISTER alice\n", "Invalid format"},
		{"register bad port", "REGISTER alice 127.0.0.1 not-a-port\n", "Invalid port"},
		{"unregister arity", "UNREGISTER\n", "Invalid format"},
		{"heartbeat arity", "HEARTBEAT\n", "Invalid format"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			resp := sendRaw(t, addr, tc.payload)
			require.Equal(t, protocol.StatusError, resp.Status)
			require.Contains(t, resp.Message, tc.message)
		})
	}

	require.Equal(t, 0, registry.Count())
}

func TestServerCommandWithoutNewline(t *testing.T) {
	client, _ := startTestTracker(t)

	// A client may terminate the command by half-closing instead of
	// sending a newline.
	resp := sendRaw(t, client.addr, "REGISTER alice 127.0.0.1 6001")
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	require.Equal(t, 1, resp.PeerCount)
}

func TestServerSilentClientIsBounded(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(l, NewRegistry(time.Minute))
	srv.readTimeout = 300 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	// Dial and send nothing: the server must give up on its own, answer
	// with a structured error and close the connection.
	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	start := time.Now()
	resp := &protocol.Response{}
	require.NoError(t, json.NewDecoder(conn).Decode(resp))
	elapsed := time.Since(start)

	require.Equal(t, protocol.StatusError, resp.Status)
	require.Contains(t, resp.Message, "Failed to read command")
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 2*time.Second)

	// Nothing more follows the reply
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.ErrorIs(t, err, io.EOF)
}

func TestServerGetPeersEmptyWire(t *testing.T) {
	client, _ := startTestTracker(t)

	conn, err := net.Dial("tcp", client.addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("GET_PEERS\n"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	raw, err := io.ReadAll(conn)
	require.NoError(t, err)

	// An empty registry still reports an explicit empty list and count
	require.Contains(t, string(raw), `"peers":[]`)
	require.Contains(t, string(raw), `"peer_count":0`)
}

func TestServerLowercaseCommand(t *testing.T) {
	client, registry := startTestTracker(t)

	resp := sendRaw(t, client.addr, "register alice 127.0.0.1 6001\n")
	require.Equal(t, protocol.StatusSuccess, resp.Status)
	require.Equal(t, 1, registry.Count())
}
