package chat_test

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"peerchat/chat"
	"peerchat/datastore/history"
	"peerchat/protocol"
	"peerchat/tracker"

	"github.com/stretchr/testify/require"
)

func startTracker(t *testing.T) (string, *tracker.Registry) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	registry := tracker.NewRegistry(time.Minute)
	srv := tracker.NewServer(l, registry)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Serve(ctx)

	return l.Addr().String(), registry
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startPeer brings up a fully running chat client registered with the
// tracker at addr.
func startPeer(t *testing.T, id, addr string) *chat.Client {
	t.Helper()

	client := chat.NewClient(id, freePort(t), tracker.NewClient(addr), history.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, client.Start(ctx))
	go client.Run(ctx)

	t.Cleanup(func() {
		client.Stop()
		cancel()
	})

	return client
}

func TestEndToEndDirectMessage(t *testing.T) {
	addr, registry := startTracker(t)
	ctx := context.Background()

	alice := startPeer(t, "alice", addr)
	require.Equal(t, 1, registry.Count())

	bob := startPeer(t, "bob", addr)
	require.Equal(t, 2, registry.Count())

	// Discovery filters out the requesting peer itself
	known, err := alice.RefreshPeers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, known)

	peers := alice.Peers()
	require.Len(t, peers, 1)
	require.Equal(t, "bob", peers[0].PeerID)

	known, err = bob.RefreshPeers(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, known)
	require.Equal(t, "alice", bob.Peers()[0].PeerID)

	require.NoError(t, alice.SendDirect(ctx, "bob", "hi"))

	require.Eventually(t, func() bool {
		msgs, err := bob.History(0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 20*time.Millisecond, "bob never received the message")

	msgs, err := bob.History(0)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageDirect, msgs[0].Type)
	require.Equal(t, "alice", msgs[0].From)
	require.Equal(t, "hi", msgs[0].Content)
	require.False(t, msgs[0].Time.IsZero())
}

func TestSendDirectUnknownPeer(t *testing.T) {
	addr, _ := startTracker(t)

	alice := startPeer(t, "alice", addr)

	err := alice.SendDirect(context.Background(), "ghost", "hello?")
	require.ErrorIs(t, err, chat.ErrPeerUnknown)
}

func TestBroadcastPartialFailure(t *testing.T) {
	addr, _ := startTracker(t)
	ctx := context.Background()

	alice := startPeer(t, "alice", addr)
	bob := startPeer(t, "bob", addr)

	// Register a peer that is no longer listening: its entry stays in
	// alice's cache but every dial to it fails.
	deadPort := freePort(t)
	_, err := tracker.NewClient(addr).Register(ctx, "ghost", "127.0.0.1", deadPort)
	require.NoError(t, err)

	known, err := alice.RefreshPeers(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, known)

	// One reachable peer out of two: sent count is 1 and no error is raised
	sent := alice.Broadcast(ctx, "hello everyone")
	require.Equal(t, 1, sent)

	require.Eventually(t, func() bool {
		msgs, err := bob.History(0)
		return err == nil && len(msgs) == 1
	}, 2*time.Second, 20*time.Millisecond, "bob never received the broadcast")

	msgs, err := bob.History(0)
	require.NoError(t, err)
	require.Equal(t, protocol.MessageBroadcast, msgs[0].Type)
	require.Equal(t, "alice", msgs[0].From)
}

func TestStopUnregisters(t *testing.T) {
	addr, registry := startTracker(t)

	client := chat.NewClient("alice", freePort(t), tracker.NewClient(addr), history.NewMemory())
	require.NoError(t, client.Start(context.Background()))
	require.Equal(t, 1, registry.Count())

	client.Stop()
	require.Equal(t, 0, registry.Count())
}

func TestStartFailsWithoutTracker(t *testing.T) {
	deadPort := freePort(t)

	client := chat.NewClient("alice", freePort(t), tracker.NewClient(net.JoinHostPort("127.0.0.1", strconv.Itoa(deadPort))), history.NewMemory())
	require.Error(t, client.Start(context.Background()))
}
