package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"peerchat/commands"
	"peerchat/config"

	log "github.com/sirupsen/logrus"
)

func setLogLevel(level string) {
	l, err := log.ParseLevel(level)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(l)
}

func registerGlobalFlags(fset *flag.FlagSet) {
	flag.VisitAll(func(f *flag.Flag) {
		fset.Var(f.Value, f.Name, f.Usage)
	})
}

func loadConfig(configFile string) *config.Config {
	if configFile == "" {
		return config.NewDefaultConfig("")
	}
	cfg, err := config.NewConfigFromFile(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

// main is the entry point of the application.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	configFile := flag.String("config", "", "Path to config file")
	logLevel := flag.String("loglevel", "info", "Log level")

	trackerCmd := flag.NewFlagSet("tracker", flag.ExitOnError)
	trackerListen := trackerCmd.String("listen", "", "Tracker listen address (default :5000)")
	registerGlobalFlags(trackerCmd)

	chatCmd := flag.NewFlagSet("chat", flag.ExitOnError)
	chatID := chatCmd.String("id", "", "Unique peer identifier (required)")
	chatPort := chatCmd.Int("port", 0, "Port to listen on for P2P connections (default 6000)")
	chatTracker := chatCmd.String("tracker", "", "Tracker address (default 127.0.0.1:5000)")
	chatHistory := chatCmd.String("history", "", "Path to a persistent message history store (default in-memory)")
	registerGlobalFlags(chatCmd)

	if len(os.Args) < 2 {
		log.WithField("args", os.Args).Fatal("Expected a subcommand: tracker | chat")
	}
	cmd, args := os.Args[1], os.Args[2:]

	switch cmd {
	case "tracker":
		trackerCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile)
		if *trackerListen != "" {
			cfg.Tracker.ListenAddress = *trackerListen
		}
		commands.RunTracker(ctx, cfg)
	case "chat":
		chatCmd.Parse(args)
		setLogLevel(*logLevel)
		cfg := loadConfig(*configFile)
		if *chatID != "" {
			cfg.Chat.PeerID = *chatID
		}
		if *chatPort != 0 {
			cfg.Chat.ListenPort = *chatPort
		}
		if *chatTracker != "" {
			cfg.Chat.TrackerAddress = *chatTracker
		}
		if *chatHistory != "" {
			cfg.Chat.HistoryPath = *chatHistory
		}
		if cfg.Chat.PeerID == "" {
			log.Fatal("chat: a peer id is required (-id)")
		}
		commands.RunChat(ctx, cfg)
	default:
		log.Fatalf("Invalid subcommand '%s'", os.Args[1])
	}
}
