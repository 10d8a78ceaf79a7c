package commands

import (
	"context"
	"errors"
	"os"

	"peerchat/chat"
	"peerchat/config"
	"peerchat/datamodel/message"
	"peerchat/datastore/history"
	"peerchat/tracker"

	"golang.org/x/sync/errgroup"

	log "github.com/sirupsen/logrus"
)

// RunChat starts a chat peer: registers with the tracker, runs the inbound
// listener and heartbeat loops, and hands the terminal to the interactive
// command loop. Quitting the CLI (or cancelling the context) shuts
// everything down.
func RunChat(ctx context.Context, cfg *config.Config) {
	var hist message.History
	if cfg.Chat.HistoryPath != "" {
		ldb, err := history.NewLevelDB(cfg.Chat.HistoryPath)
		if err != nil {
			log.Fatalf("Failed to open history store: %v", err)
		}
		hist = ldb
	} else {
		hist = history.NewMemory()
	}

	client := chat.NewClient(cfg.Chat.PeerID, cfg.Chat.ListenPort, tracker.NewClient(cfg.Chat.TrackerAddress), hist)
	client.SetHeartbeatInterval(cfg.HeartbeatInterval())

	// A failed registration aborts startup.
	if err := client.Start(ctx); err != nil {
		log.Fatalf("Failed to start chat client: %v", err)
	}
	defer client.Stop()

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg, cctx := errgroup.WithContext(cctx)

	wg.Go(func() error {
		return client.Run(cctx)
	})

	wg.Go(func() error {
		// The CLI owns shutdown: when it returns, cancel the loops.
		defer cancel()
		return chat.RunCLI(cctx, client, os.Stdin, os.Stdout)
	})

	if err := wg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Chat client exited with error: %v", err)
	}
}
