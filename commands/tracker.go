package commands

import (
	"context"
	"errors"
	"net"

	"peerchat/config"
	"peerchat/tracker"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// RunTracker starts the tracker: the command server and the background
// eviction sweep, supervised until the context is cancelled.
func RunTracker(ctx context.Context, cfg *config.Config) {
	l, err := net.Listen("tcp", cfg.Tracker.ListenAddress)
	if err != nil {
		log.Fatalf("Failed to create tracker listener: %v", err)
	}

	registry := tracker.NewRegistry(cfg.PeerTimeout())
	srv := tracker.NewServer(l, registry)

	log.Infof("Tracker listening on %s (peer timeout %v, sweep every %v)", srv.Addr(), cfg.PeerTimeout(), cfg.SweepInterval())

	wg, cctx := errgroup.WithContext(ctx)

	wg.Go(func() error {
		return srv.Serve(cctx)
	})

	wg.Go(func() error {
		return registry.Run(cctx, cfg.SweepInterval())
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Tracker failed: %v", err)
	}

	log.Info("Tracker stopped")
}
