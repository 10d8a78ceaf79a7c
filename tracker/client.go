package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"peerchat/protocol"

	log "github.com/sirupsen/logrus"
)

// Client talks to a tracker. Every operation is a fresh one-shot
// connection: dial, send one command line, read one JSON reply, close.
type Client struct {
	addr        string
	dialTimeout time.Duration
}

func NewClient(addr string) *Client {
	return &Client{
		addr:        addr,
		dialTimeout: DefaultReadTimeout,
	}
}

// Register announces this peer's contact info and returns the tracker's
// current peer count.
func (c *Client) Register(ctx context.Context, id, ip string, port int) (int, error) {
	resp, err := c.do(ctx, strings.Join([]string{protocol.CmdRegister, id, ip, strconv.Itoa(port)}, " "))
	if err != nil {
		return 0, err
	}
	return resp.PeerCount, nil
}

// GetPeers returns the tracker's full peer list, including the caller.
func (c *Client) GetPeers(ctx context.Context) ([]protocol.PeerInfo, error) {
	resp, err := c.do(ctx, protocol.CmdGetPeers)
	if err != nil {
		return nil, err
	}
	return resp.Peers, nil
}

func (c *Client) Unregister(ctx context.Context, id string) error {
	_, err := c.do(ctx, protocol.CmdUnregister+" "+id)
	return err
}

func (c *Client) Heartbeat(ctx context.Context, id string) error {
	_, err := c.do(ctx, protocol.CmdHeartbeat+" "+id)
	return err
}

func (c *Client) do(ctx context.Context, command string) (*protocol.Response, error) {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("tracker.Client: failed to connect to %s: %w", c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else {
		conn.SetDeadline(time.Now().Add(c.dialTimeout))
	}

	log.Debugf("tracker.Client: sending %q to %s", command, c.addr)

	if _, err := conn.Write([]byte(command + "\n")); err != nil {
		return nil, fmt.Errorf("tracker.Client: failed to send command: %w", err)
	}

	resp := &protocol.Response{}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return nil, fmt.Errorf("tracker.Client: failed to decode response: %w", err)
	}

	if resp.Status != protocol.StatusSuccess {
		return nil, fmt.Errorf("tracker.Client: %s", resp.Message)
	}

	return resp, nil
}
