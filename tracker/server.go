// Package tracker implements the peer directory service: a registry of
// active peers with age-based eviction, a TCP server speaking the line
// command protocol, and the one-shot client peers use to talk to it.
//
// Protocol: the client sends a single space-separated ASCII command
// (REGISTER, GET_PEERS, UNREGISTER, HEARTBEAT), the tracker answers with a
// single JSON object and closes the connection. Connections are never
// reused.
package tracker

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"peerchat/protocol"

	log "github.com/sirupsen/logrus"
)

// DefaultReadTimeout bounds the accept/parse/reply cycle so a slow or idle
// client cannot hold a handler goroutine forever.
const DefaultReadTimeout = 5 * time.Second

type Server struct {
	listener    net.Listener
	registry    *Registry
	readTimeout time.Duration
}

func NewServer(listener net.Listener, registry *Registry) *Server {
	return &Server{
		listener:    listener,
		registry:    registry,
		readTimeout: DefaultReadTimeout,
	}
}

// Addr returns the listener's address, useful when listening on ":0".
func (srv *Server) Addr() net.Addr {
	return srv.listener.Addr()
}

// Serve accepts connections until the context is cancelled. Each accepted
// connection is handled on its own goroutine; the accept loop never blocks
// on a client.
func (srv *Server) Serve(ctx context.Context) error {
	// Close the listener when the context is cancelled. This unblocks the
	// Accept call below.
	go func() {
		<-ctx.Done()
		log.Infof("tracker.Server: context cancelled, closing listener %s", srv.listener.Addr())
		if err := srv.listener.Close(); err != nil {
			log.Warnf("tracker.Server: error closing listener %s: %v", srv.listener.Addr(), err)
		}
	}()

	var tempDelay time.Duration // how long to sleep on accept failure
	for {
		conn, err := srv.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				// Listener was closed as part of shutdown, Accept failing is expected.
				log.Infof("tracker.Server: shutting down listener %s", srv.listener.Addr())
				return ctx.Err()
			default:
				if ne, ok := err.(net.Error); ok && ne.Timeout() {
					if tempDelay == 0 {
						tempDelay = 5 * time.Millisecond
					} else {
						tempDelay *= 2
					}
					if max := 1 * time.Second; tempDelay > max {
						tempDelay = max
					}
					log.Warnf("tracker.Server: accept error on %s: %v; retrying in %v", srv.listener.Addr(), err, tempDelay)
					time.Sleep(tempDelay)
					continue
				}
				log.Errorf("tracker.Server: critical accept error on %s: %v, server stopping", srv.listener.Addr(), err)
				return err
			}
		}

		tempDelay = 0
		log.Debugf("tracker.Server: connection from %s", conn.RemoteAddr())
		go srv.handleConn(conn)
	}
}

// handleConn reads one command, dispatches it, replies once and closes.
// Malformed input yields a structured error reply, never a crash.
func (srv *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("tracker.Server: panic handling connection from %s: %v", conn.RemoteAddr(), r)
			srv.reply(conn, &protocol.Response{
				Status:  protocol.StatusError,
				Message: "Internal server error",
			})
		}
	}()

	// Bound the whole read/dispatch/reply cycle.
	if err := conn.SetDeadline(time.Now().Add(srv.readTimeout)); err != nil {
		log.Warnf("tracker.Server: failed to set deadline for %s: %v", conn.RemoteAddr(), err)
	}

	// A command is terminated by a newline or by the client half-closing
	// its write side; ReadString returns the partial line with io.EOF for
	// the latter.
	line, err := bufio.NewReader(io.LimitReader(conn, 4096)).ReadString('\n')
	if err != nil && err != io.EOF {
		log.Warnf("tracker.Server: error reading command from %s: %v", conn.RemoteAddr(), err)
		srv.reply(conn, &protocol.Response{
			Status:  protocol.StatusError,
			Message: "Failed to read command",
		})
		return
	}

	log.Debugf("tracker.Server: received %q from %s", strings.TrimSpace(line), conn.RemoteAddr())

	srv.reply(conn, srv.dispatch(strings.Fields(line)))
}

func (srv *Server) dispatch(parts []string) *protocol.Response {
	if len(parts) == 0 {
		return &protocol.Response{Status: protocol.StatusError, Message: "Empty command"}
	}

	switch strings.ToUpper(parts[0]) {
	case protocol.CmdRegister:
		return srv.handleRegister(parts)
	case protocol.CmdGetPeers:
		return srv.handleGetPeers()
	case protocol.CmdUnregister:
		return srv.handleUnregister(parts)
	case protocol.CmdHeartbeat:
		return srv.handleHeartbeat(parts)
	default:
		return &protocol.Response{Status: protocol.StatusError, Message: "Unknown command"}
	}
}

// REGISTER <peer_id> <ip> <port>
func (srv *Server) handleRegister(parts []string) *protocol.Response {
	if len(parts) < 4 {
		return &protocol.Response{
			Status:  protocol.StatusError,
			Message: "Invalid format. Use: REGISTER <peer_id> <ip> <port>",
		}
	}

	port, err := strconv.Atoi(parts[3])
	if err != nil {
		return &protocol.Response{
			Status:  protocol.StatusError,
			Message: "Invalid port: " + parts[3],
		}
	}

	count := srv.registry.Register(parts[1], parts[2], port)

	return &protocol.Response{
		Status:    protocol.StatusSuccess,
		Message:   "Peer registered successfully",
		PeerCount: count,
	}
}

// GET_PEERS
func (srv *Server) handleGetPeers() *protocol.Response {
	peers := srv.registry.List()

	infos := make([]protocol.PeerInfo, 0, len(peers))
	for _, p := range peers {
		infos = append(infos, protocol.PeerInfo{PeerID: p.ID, IP: p.IP, Port: p.Port})
	}

	log.Debugf("tracker.Server: sending peer list (%d peers)", len(infos))

	return &protocol.Response{
		Status:    protocol.StatusSuccess,
		Peers:     infos,
		PeerCount: len(infos),
	}
}

// UNREGISTER <peer_id>
func (srv *Server) handleUnregister(parts []string) *protocol.Response {
	if len(parts) < 2 {
		return &protocol.Response{
			Status:  protocol.StatusError,
			Message: "Invalid format. Use: UNREGISTER <peer_id>",
		}
	}

	if err := srv.registry.Unregister(parts[1]); err != nil {
		return &protocol.Response{Status: protocol.StatusError, Message: "Peer not found"}
	}

	return &protocol.Response{Status: protocol.StatusSuccess, Message: "Peer unregistered successfully"}
}

// HEARTBEAT <peer_id>
func (srv *Server) handleHeartbeat(parts []string) *protocol.Response {
	if len(parts) < 2 {
		return &protocol.Response{
			Status:  protocol.StatusError,
			Message: "Invalid format. Use: HEARTBEAT <peer_id>",
		}
	}

	if err := srv.registry.Heartbeat(parts[1]); err != nil {
		return &protocol.Response{Status: protocol.StatusError, Message: "Peer not found"}
	}

	return &protocol.Response{Status: protocol.StatusSuccess, Message: "Heartbeat received"}
}

func (srv *Server) reply(conn net.Conn, resp *protocol.Response) {
	// A silent client consumes the whole connection deadline in the read;
	// the error reply still needs its own window to go out.
	if err := conn.SetWriteDeadline(time.Now().Add(srv.readTimeout)); err != nil {
		log.Warnf("tracker.Server: failed to set write deadline for %s: %v", conn.RemoteAddr(), err)
	}

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Warnf("tracker.Server: error sending response to %s: %v", conn.RemoteAddr(), err)
	}
}
