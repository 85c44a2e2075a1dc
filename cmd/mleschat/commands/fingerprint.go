package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"mleschat/internal/crypto"
	"mleschat/internal/protocol/kdf"
	"mleschat/internal/util/memzero"
)

// fingerprint <channel>: participants sharing a passphrase see the same value.
func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint <channel>",
		Short: "Print the key fingerprint of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			stretched, err := kdf.Stretch([]byte(passphrase))
			if err != nil {
				return err
			}
			defer memzero.Zero(stretched)
			keys := kdf.Derive(stretched)
			defer keys.Wipe()

			fmt.Printf("Fingerprint: %s\n", crypto.Fingerprint([]byte(args[0]), keys.AuthKey))
			return nil
		},
	}
}
