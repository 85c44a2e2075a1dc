package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mleschat/internal/domain"
)

// send <uid> <channel> <message>: join, send one message and leave the
// channel joined.
func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <uid> <channel> <message>",
		Short: "Send one message to a channel",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			uid, name := args[0], args[1]
			ctx := cmd.Context()
			if err := joinChannel(ctx, uid, name); err != nil {
				return err
			}
			if err := wire.Engine.Send(ctx, name, []byte(args[2])); err != nil {
				return err
			}
			if _, err := waitEvent(ctx, name, isSent); err != nil {
				return err
			}
			fmt.Println("sent")
			return nil
		},
	}
	relayFlag(cmd)
	return cmd
}

func sendImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send-image <uid> <channel> <file>",
		Short: "Send a file as a multipart image",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			data, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}
			uid, name := args[0], args[1]
			ctx := cmd.Context()
			if err := joinChannel(ctx, uid, name); err != nil {
				return err
			}
			if err := wire.Engine.SendImage(ctx, name, data); err != nil {
				return err
			}
			if _, err := waitEvent(ctx, name, isSent); err != nil {
				return err
			}
			fmt.Printf("sent %d bytes\n", len(data))
			return nil
		},
	}
	relayFlag(cmd)
	return cmd
}

// isSent matches the Send event of a whole message or the last fragment of
// an image.
func isSent(ev domain.Event) bool {
	return ev.Kind == domain.EventSend && !ev.MultipartContinue
}
