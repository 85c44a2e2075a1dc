package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mleschat/internal/app"
)

var (
	home        string
	configPath  string
	passphrase  string
	metricsAddr string
	relayAddr   string

	cfg  *app.Config
	wire *app.Wire

	stopMetrics context.CancelFunc
)

func Execute() error {
	root := &cobra.Command{
		Use:           "mleschat",
		Short:         "Group chat over an mles relay",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".mleschat")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if configPath == "" {
				configPath = filepath.Join(home, "config.toml")
			}

			var err error
			cfg, err = app.LoadFile(configPath)
			if err != nil {
				return err
			}
			if err := cfg.FixupAndValidate(home); err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Address = metricsAddr
			}

			wire, err = app.NewWire(cfg)
			if err != nil {
				return err
			}
			if cfg.Metrics.Address != "" {
				var ctx context.Context
				ctx, stopMetrics = context.WithCancel(context.Background())
				if _, err := app.ServeMetrics(ctx, cfg.Metrics.Address, wire.Log); err != nil {
					return err
				}
			}
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if stopMetrics != nil {
				stopMetrics()
			}
			if wire == nil {
				return nil
			}
			return wire.Close()
		},
	}

	root.PersistentFlags().StringVar(&home, "home", "", "state dir (default ~/.mleschat)")
	root.PersistentFlags().StringVar(&configPath, "config", "", "TOML config file (default <home>/config.toml)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "channel passphrase")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on host:port")

	root.AddCommand(joinCmd(), sendCmd(), sendImageCmd(), channelsCmd(), fingerprintCmd())
	return root.Execute()
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p)")
	}
	return nil
}

// address picks the relay address: --relay, then the config file. An empty
// result makes the engine fall back to the address stored for the channel.
func address() string {
	if relayAddr != "" {
		return relayAddr
	}
	return cfg.Relay.Address
}

func relayFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&relayAddr, "relay", "", "relay host:port (default from config or last join)")
}
