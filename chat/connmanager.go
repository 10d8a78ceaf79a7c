package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"time"

	"peerchat/protocol"

	"golang.org/x/sync/singleflight"

	log "github.com/sirupsen/logrus"
)

// ErrPeerUnknown means the peer id is absent from the local discovery cache.
var ErrPeerUnknown = errors.New("peer unknown")

// ConnManager owns the client-side peer state: the discovery cache of peer
// contact info and the cache of live outbound connections, both keyed by
// peer id. Connections are dialed lazily on first send; at most one
// outbound connection is cached per peer. Inbound connections are handled
// by the listener and never stored here.
type ConnManager struct {
	mu    sync.Mutex
	info  map[string]protocol.PeerInfo
	conns map[string]net.Conn

	// Collapses concurrent dials to the same peer into one.
	dials singleflight.Group

	dialTimeout time.Duration
}

func NewConnManager() *ConnManager {
	return &ConnManager{
		info:        make(map[string]protocol.PeerInfo),
		conns:       make(map[string]net.Conn),
		dialTimeout: 5 * time.Second,
	}
}

// UpdatePeer inserts or overwrites a discovery cache entry. Refresh never
// removes entries: a peer the tracker has evicted may still be reachable,
// and a stale entry costs one failed dial at worst.
func (cm *ConnManager) UpdatePeer(info protocol.PeerInfo) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.info[info.PeerID] = info
}

// Lookup returns the cached contact info for id.
func (cm *ConnManager) Lookup(id string) (protocol.PeerInfo, bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	info, ok := cm.info[id]
	return info, ok
}

// Peers returns a snapshot of the discovery cache, sorted by peer id.
func (cm *ConnManager) Peers() []protocol.PeerInfo {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	out := make([]protocol.PeerInfo, 0, len(cm.info))
	for _, info := range cm.info {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Connected reports whether an outbound connection to id is currently cached.
func (cm *ConnManager) Connected(id string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	_, ok := cm.conns[id]
	return ok
}

// GetOrConnect returns the cached connection to id, dialing and caching a
// new one if none exists. It fails with ErrPeerUnknown if id is not in the
// discovery cache; a dial failure is returned wrapped and should be treated
// as a soft failure by the caller.
func (cm *ConnManager) GetOrConnect(ctx context.Context, id string) (net.Conn, error) {
	cm.mu.Lock()
	if conn, ok := cm.conns[id]; ok {
		cm.mu.Unlock()
		return conn, nil
	}
	info, ok := cm.info[id]
	cm.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPeerUnknown, id)
	}

	v, err, _ := cm.dials.Do(id, func() (interface{}, error) {
		// Re-check under the lock, a concurrent dial may have won.
		cm.mu.Lock()
		if conn, ok := cm.conns[id]; ok {
			cm.mu.Unlock()
			return conn, nil
		}
		cm.mu.Unlock()

		dialer := &net.Dialer{Timeout: cm.dialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", info.Addr())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to peer %s at %s: %w", id, info.Addr(), err)
		}

		cm.mu.Lock()
		cm.conns[id] = conn
		cm.mu.Unlock()

		log.Infof("chat.ConnManager: connected to peer %s at %s", id, info.Addr())
		return conn, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(net.Conn), nil
}

// Drop closes and forgets the cached connection to id, if any. Used when a
// send on the connection fails.
func (cm *ConnManager) Drop(id string) {
	cm.mu.Lock()
	conn, ok := cm.conns[id]
	delete(cm.conns, id)
	cm.mu.Unlock()

	if ok {
		conn.Close()
		log.Debugf("chat.ConnManager: dropped connection to peer %s", id)
	}
}

// Close closes every cached outbound connection. Close errors are swallowed.
func (cm *ConnManager) Close() {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for id, conn := range cm.conns {
		conn.Close()
		delete(cm.conns, id)
	}
}
