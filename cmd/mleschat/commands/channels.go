package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func channelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List joined channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			joined, err := wire.State.Joined()
			if err != nil {
				return err
			}
			if len(joined) == 0 {
				fmt.Println("no channels joined")
				return nil
			}
			for _, name := range joined {
				addr, _, err := wire.State.LoadAddress(name)
				if err != nil {
					return err
				}
				read, err := wire.State.LastRead(name)
				if err != nil {
					return err
				}
				notified, err := wire.State.LastNotified(name)
				if err != nil {
					return err
				}
				last := "never"
				if !read.IsZero() {
					last = read.Local().Format(time.DateTime)
				}
				unread := ""
				if notified.After(read) {
					unread = " (unread)"
				}
				fmt.Printf("%-20s %-24s last read %s%s\n", name, addr, last, unread)
			}
			return nil
		},
	}
}
