// Package chat implements the P2P chat client: tracker registration and
// heartbeat, peer discovery, an inbound listener for peer connections, and
// direct/broadcast message dispatch over lazily dialed connections.
package chat

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"peerchat/datamodel/message"
	"peerchat/helper/timer"
	"peerchat/protocol"
	"peerchat/tracker"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// DefaultHeartbeatInterval is how often the client refreshes its liveness
// with the tracker. It must stay well under the tracker's peer timeout.
const DefaultHeartbeatInterval = 60 * time.Second

// Client is one chat peer. It uses the tracker for discovery only; all
// messages travel directly between peers.
type Client struct {
	peerID     string
	listenPort int

	tracker *tracker.Client
	conns   *ConnManager
	history message.History

	heartbeat timer.Interval

	localIP  string
	listener net.Listener

	// Called for every delivered inbound message. The CLI installs a
	// printer here; nil means log only.
	notifyMu sync.Mutex
	notify   func(*message.Message)

	stopOnce sync.Once
}

func NewClient(peerID string, listenPort int, trackerClient *tracker.Client, history message.History) *Client {
	return &Client{
		peerID:     peerID,
		listenPort: listenPort,
		tracker:    trackerClient,
		conns:      NewConnManager(),
		history:    history,
		heartbeat:  timer.Interval{Duration: DefaultHeartbeatInterval, Jitter: time.Second},
	}
}

func (c *Client) PeerID() string {
	return c.peerID
}

// SetHeartbeatInterval overrides the heartbeat schedule. Must be called
// before Run.
func (c *Client) SetHeartbeatInterval(d time.Duration) {
	c.heartbeat = timer.Interval{Duration: d}
}

// SetNotify installs the inbound message callback.
func (c *Client) SetNotify(f func(*message.Message)) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	c.notify = f
}

// Start registers with the tracker and opens the P2P listener. A failed
// registration is fatal to startup: the client is unusable without it.
func (c *Client) Start(ctx context.Context) error {
	c.localIP = localIP()

	count, err := c.tracker.Register(ctx, c.peerID, c.localIP, c.listenPort)
	if err != nil {
		return fmt.Errorf("failed to register with tracker: %w", err)
	}
	log.Infof("chat.Client: registered with tracker as %s (%s:%d), %d peers in network", c.peerID, c.localIP, c.listenPort, count)

	l, err := net.Listen("tcp", fmt.Sprintf(":%d", c.listenPort))
	if err != nil {
		return fmt.Errorf("failed to open P2P listener: %w", err)
	}
	c.listener = l
	log.Infof("chat.Client: listening for P2P connections on port %d", c.listenPort)

	return nil
}

// Run supervises the long-lived loops: the inbound accept loop and the
// heartbeat ticker. It fetches an initial peer list, then blocks until the
// context is cancelled or a loop fails.
func (c *Client) Run(ctx context.Context) error {
	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return c.acceptLoop(cctx)
	})

	wg.Go(func() error {
		return timer.RunWithTicker(cctx, &c.heartbeat, c.sendHeartbeat)
	})

	if _, err := c.RefreshPeers(cctx); err != nil {
		log.Errorf("chat.Client: initial peer list fetch failed: %v", err)
	}

	return wg.Wait()
}

// sendHeartbeat runs on every heartbeat tick. A failed heartbeat is logged
// and simply retried on the next tick, no backoff.
func (c *Client) sendHeartbeat(ctx context.Context) error {
	if err := c.tracker.Heartbeat(ctx, c.peerID); err != nil {
		log.Warnf("chat.Client: heartbeat failed: %v", err)
	}
	return nil
}

// RefreshPeers fetches the tracker's peer list and upserts every entry
// except ourselves into the discovery cache. Entries the tracker no longer
// reports are kept. Returns the number of known peers after the refresh.
func (c *Client) RefreshPeers(ctx context.Context) (int, error) {
	peers, err := c.tracker.GetPeers(ctx)
	if err != nil {
		return 0, err
	}

	for _, p := range peers {
		if p.PeerID == c.peerID {
			continue
		}
		c.conns.UpdatePeer(p)
	}

	known := len(c.conns.Peers())
	log.Infof("chat.Client: peer list updated, %d peers available", known)
	return known, nil
}

// Peers returns the discovery cache snapshot.
func (c *Client) Peers() []protocol.PeerInfo {
	return c.conns.Peers()
}

// Connected reports whether an outbound connection to id is live.
func (c *Client) Connected(id string) bool {
	return c.conns.Connected(id)
}

// History returns up to n most recent messages, oldest first.
func (c *Client) History(n int) ([]*message.Message, error) {
	return c.history.Recent(n)
}

// SendDirect sends text to one peer, dialing it lazily if needed. Failures
// are returned to the caller and nothing is retried.
func (c *Client) SendDirect(ctx context.Context, id, text string) error {
	conn, err := c.conns.GetOrConnect(ctx, id)
	if err != nil {
		return err
	}

	env := &protocol.Envelope{
		Type:    protocol.MessageDirect,
		From:    c.peerID,
		Content: text,
	}
	if err := writeEnvelope(conn, env); err != nil {
		c.conns.Drop(id)
		return fmt.Errorf("failed to send to peer %s: %w", id, err)
	}

	log.Infof("chat.Client: sent direct message to %s", id)
	return nil
}

// Broadcast sends text to every peer in the discovery cache, continuing
// past individual failures. It returns the number of peers reached; a
// partial failure is a lower count, not an error.
func (c *Client) Broadcast(ctx context.Context, text string) int {
	env := &protocol.Envelope{
		Type:    protocol.MessageBroadcast,
		From:    c.peerID,
		Content: text,
	}

	sent := 0
	for _, p := range c.conns.Peers() {
		conn, err := c.conns.GetOrConnect(ctx, p.PeerID)
		if err != nil {
			log.Warnf("chat.Client: broadcast to %s skipped: %v", p.PeerID, err)
			continue
		}
		if err := writeEnvelope(conn, env); err != nil {
			log.Warnf("chat.Client: broadcast to %s failed: %v", p.PeerID, err)
			c.conns.Drop(p.PeerID)
			continue
		}
		sent++
	}

	log.Infof("chat.Client: broadcast sent to %d peers", sent)
	return sent
}

// acceptLoop accepts inbound P2P connections until the context is
// cancelled; each connection gets its own goroutine.
func (c *Client) acceptLoop(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if err := c.listener.Close(); err != nil {
			log.Debugf("chat.Client: error closing listener: %v", err)
		}
	}()

	for {
		conn, err := c.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				log.Infof("chat.Client: P2P listener shutting down")
				return ctx.Err()
			default:
				log.Errorf("chat.Client: accept error: %v", err)
				return err
			}
		}

		log.Debugf("chat.Client: inbound P2P connection from %s", conn.RemoteAddr())
		go c.handleInbound(ctx, conn)
	}
}

// handleInbound reads newline-delimited JSON envelopes from one inbound
// connection until the peer closes it. Inbound connections are independent
// of the outbound cache, even from the same peer.
func (c *Client) handleInbound(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		env := &protocol.Envelope{}
		if err := json.Unmarshal(line, env); err != nil {
			log.Warnf("chat.Client: malformed message from %s: %v", conn.RemoteAddr(), err)
			continue
		}

		c.deliver(env)
	}

	if err := scanner.Err(); err != nil {
		log.Debugf("chat.Client: inbound connection from %s closed: %v", conn.RemoteAddr(), err)
	}
}

// deliver appends an inbound envelope to the history and notifies the UI.
func (c *Client) deliver(env *protocol.Envelope) {
	msg := &message.Message{
		Type:    env.Type,
		From:    env.From,
		Content: env.Content,
		Time:    time.Now(),
	}

	if err := c.history.Append(msg); err != nil {
		log.Errorf("chat.Client: failed to store message: %v", err)
	}

	c.notifyMu.Lock()
	notify := c.notify
	c.notifyMu.Unlock()

	if notify != nil {
		notify(msg)
	} else {
		log.Infof("chat.Client: [%s] %s: %s", msg.Type, msg.From, msg.Content)
	}
}

// Stop unregisters from the tracker (best effort), closes the cached
// outbound connections, the listener and the history store. Idempotent.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.tracker.Unregister(ctx, c.peerID); err != nil {
			log.Warnf("chat.Client: unregister failed: %v", err)
		} else {
			log.Infof("chat.Client: unregistered from tracker")
		}

		c.conns.Close()

		if c.listener != nil {
			c.listener.Close()
		}

		if err := c.history.Close(); err != nil {
			log.Warnf("chat.Client: error closing history: %v", err)
		}

		log.Infof("chat.Client: stopped")
	})
}

// writeEnvelope frames one envelope as a single newline-terminated JSON
// document.
func writeEnvelope(conn net.Conn, env *protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(data, '\n'))
	return err
}

// localIP figures out the address peers should dial us at: the source IP
// of a UDP route to a public address, falling back to loopback.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
