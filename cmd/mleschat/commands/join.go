package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mleschat/internal/crypto"
	"mleschat/internal/domain"
)

const joinHelp = `/image <file>  send a file as an image
/who           show who is around
/reconnect     reconnect with fresh keys
/leave         leave the channel and forget it
/quit          exit, staying joined`

// join <uid> <channel>: chat on stdin/stdout until /quit or interrupt.
func joinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join <uid> <channel>",
		Short: "Chat interactively on a channel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			uid, name := args[0], args[1]
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			if err := joinChannel(ctx, uid, name); err != nil {
				return err
			}
			fmt.Printf("joined %s as %s. /help for commands\n", name, uid)

			lines := make(chan string)
			go func() {
				defer close(lines)
				sc := bufio.NewScanner(os.Stdin)
				for sc.Scan() {
					lines <- sc.Text()
				}
			}()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-wire.Engine.Events():
					if !ok {
						return nil
					}
					printEvent(name, ev)
				case line, ok := <-lines:
					if !ok {
						return nil
					}
					done, err := handleLine(ctx, name, line)
					if err != nil {
						fmt.Fprintf(os.Stderr, "error: %v\n", err)
					}
					if done {
						return nil
					}
				}
			}
		},
	}
	relayFlag(cmd)
	return cmd
}

func handleLine(ctx context.Context, name, line string) (done bool, err error) {
	// Typing anything means everything shown so far has been read.
	if err := markRead(name); err != nil {
		return false, err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, wire.Engine.Send(ctx, name, []byte(line))
	}

	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "/help":
		fmt.Println(joinHelp)
	case "/image":
		data, err := os.ReadFile(strings.TrimSpace(arg))
		if err != nil {
			return false, err
		}
		return false, wire.Engine.SendImage(ctx, name, data)
	case "/who":
		who, err := wire.Engine.Presence(ctx, name)
		if err != nil {
			return false, err
		}
		ids := make([]string, 0, len(who))
		for id := range who {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("  %-20s %s\n", id, who[id])
		}
	case "/reconnect":
		return false, wire.Engine.Reconnect(ctx, name)
	case "/leave":
		return true, wire.Engine.Close(ctx, name)
	case "/quit":
		return true, nil
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
	return false, nil
}

func markRead(name string) error {
	notified, err := wire.State.LastNotified(name)
	if err != nil || notified.IsZero() {
		return err
	}
	return wire.State.SetLastRead(name, notified)
}

func printEvent(name string, ev domain.Event) {
	if ev.Channel != name {
		return
	}
	switch ev.Kind {
	case domain.EventData:
		stamp := ev.Timestamp.Local().Format(time.TimeOnly)
		mark := ""
		if !ev.ForwardSecrecy {
			mark = " (no fs)"
		}
		if ev.Late {
			mark += " (late)"
		}
		if ev.Flags.Has(domain.FlagMultipart) {
			fmt.Printf("[%s] %s sent an image of %d bytes%s\n", stamp, ev.Sender, len(ev.Payload), mark)
		} else {
			fmt.Printf("[%s] %s: %s%s\n", stamp, ev.Sender, ev.Payload, mark)
		}
		if err := wire.State.SetLastNotified(name, ev.Timestamp); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
	case domain.EventInit:
		if ev.OK {
			fmt.Println("* connected")
		} else {
			fmt.Println("* relay unreachable, retrying")
		}
	case domain.EventForwardSecrecyOn:
		fmt.Printf("* forward secrecy on, key %s\n", crypto.Fingerprint(ev.Secret))
	case domain.EventForwardSecrecyOff:
		fmt.Println("* forward secrecy off")
	case domain.EventClose:
		fmt.Println("* left channel")
	}
}
