package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"peerchat/helper/timer"

	log "github.com/sirupsen/logrus"
)

var ErrPeerNotFound = errors.New("peer not found")

// Peer is one registered peer as the tracker sees it.
type Peer struct {
	ID       string
	IP       string
	Port     int
	LastSeen time.Time
}

// Registry is the tracker's table of registered peers. All operations are
// atomic under a single mutex; List returns copies, never the live map.
type Registry struct {
	mu      sync.Mutex
	peers   map[string]*Peer
	timeout time.Duration // peers silent for longer than this are swept
}

func NewRegistry(timeout time.Duration) *Registry {
	return &Registry{
		peers:   make(map[string]*Peer),
		timeout: timeout,
	}
}

// Register inserts or overwrites the record for id and returns the current
// peer count. Re-registration is an idempotent overwrite: the tracker
// assumes the caller owns the id, it does not verify identity.
func (r *Registry) Register(id, ip string, port int) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.peers[id] = &Peer{
		ID:       id,
		IP:       ip,
		Port:     port,
		LastSeen: time.Now(),
	}

	log.Infof("tracker.Registry: registered peer %s (%s:%d), %d active", id, ip, port, len(r.peers))

	return len(r.peers)
}

// Unregister removes the record for id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.peers[id]; !ok {
		return ErrPeerNotFound
	}
	delete(r.peers, id)

	log.Infof("tracker.Registry: unregistered peer %s, %d active", id, len(r.peers))

	return nil
}

// Heartbeat refreshes the liveness timestamp for id. It never creates a
// record: a heartbeat from an unknown (or already swept) peer is an error.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	p.LastSeen = time.Now()

	return nil
}

// List returns a snapshot of all current records.
func (r *Registry) List() []Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

// Sweep evicts every peer whose last heartbeat or registration is older
// than the registry timeout and returns the number evicted. This is a
// liveness heuristic, not a reachability proof: a reachable peer that
// never heartbeats is still evicted.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	evicted := 0
	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > r.timeout {
			log.Infof("tracker.Registry: removing inactive peer %s (last seen %v ago)", id, now.Sub(p.LastSeen).Round(time.Second))
			delete(r.peers, id)
			evicted++
		}
	}

	if evicted > 0 {
		log.Infof("tracker.Registry: swept %d peers, %d active", evicted, len(r.peers))
	}

	return evicted
}

// Run performs a Sweep on every tick until the context is cancelled.
// It runs unconditionally, independent of any client traffic.
func (r *Registry) Run(ctx context.Context, interval time.Duration) error {
	return timer.RunWithTicker(ctx, &timer.Interval{Duration: interval}, func(ctx context.Context) error {
		r.Sweep()
		return nil
	})
}
