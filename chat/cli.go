package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"peerchat/datamodel/message"
	"peerchat/protocol"

	log "github.com/sirupsen/logrus"
)

const cliHelp = `Chat commands:
  /msg <peer_id> <message>  - Send direct message
  /broadcast <message>      - Broadcast to all peers
  /peers                    - List available peers
  /refresh                  - Refresh peer list
  /history                  - Show message history
  /quit                     - Exit chat`

// RunCLI runs the interactive command loop, reading commands from in and
// writing to out. It returns when the user quits, on EOF, or when the
// context is cancelled between commands.
func RunCLI(ctx context.Context, client *Client, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "P2P chat - peer id %s\n%s\n", client.PeerID(), cliHelp)

	client.SetNotify(func(msg *message.Message) {
		switch msg.Type {
		case protocol.MessageDirect:
			fmt.Fprintf(out, "\n[%s] Direct message: %s\n> ", msg.From, msg.Content)
		default:
			fmt.Fprintf(out, "\n[%s] Broadcast: %s\n> ", msg.From, msg.Content)
		}
	})

	scanner := bufio.NewScanner(in)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			// stdin closed, treat as quit
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "/msg "):
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				fmt.Fprintln(out, "Usage: /msg <peer_id> <message>")
				continue
			}
			if err := client.SendDirect(ctx, parts[1], parts[2]); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}

		case strings.HasPrefix(line, "/broadcast "):
			text := strings.TrimSpace(strings.TrimPrefix(line, "/broadcast "))
			if text == "" {
				fmt.Fprintln(out, "Usage: /broadcast <message>")
				continue
			}
			sent := client.Broadcast(ctx, text)
			fmt.Fprintf(out, "Broadcast sent to %d peers\n", sent)

		case line == "/peers":
			peers := client.Peers()
			if len(peers) == 0 {
				fmt.Fprintln(out, "No peers available")
				continue
			}
			fmt.Fprintln(out, "Available peers:")
			for _, p := range peers {
				status := "available"
				if client.Connected(p.PeerID) {
					status = "connected"
				}
				fmt.Fprintf(out, "  %s - %s:%d [%s]\n", p.PeerID, p.IP, p.Port, status)
			}

		case line == "/refresh":
			if _, err := client.RefreshPeers(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}

		case line == "/history":
			msgs, err := client.History(20)
			if err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			if len(msgs) == 0 {
				fmt.Fprintln(out, "No message history")
				continue
			}
			fmt.Fprintln(out, "Message history:")
			for _, msg := range msgs {
				fmt.Fprintf(out, "  [%s] %s: %s\n", msg.Type, msg.From, msg.Content)
			}

		case line == "/quit":
			fmt.Fprintln(out, "Exiting...")
			return nil

		default:
			log.Debugf("chat.CLI: unknown command %q", line)
			fmt.Fprintln(out, "Unknown command. Available: /msg /broadcast /peers /refresh /history /quit")
		}
	}
}
