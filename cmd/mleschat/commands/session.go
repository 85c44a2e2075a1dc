package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mleschat/internal/domain"
	"mleschat/internal/services/channel"
)

const connectTimeout = 30 * time.Second

// joinChannel joins and waits for the first connection attempt.
func joinChannel(ctx context.Context, uid, name string) error {
	err := wire.Engine.Join(ctx, channel.JoinRequest{
		UID:        uid,
		Channel:    name,
		Passphrase: passphrase,
		Address:    address(),
	})
	if errors.Is(err, channel.ErrNoAddress) {
		return fmt.Errorf("no relay address for %s. use --relay", name)
	}
	if err != nil {
		return err
	}
	ev, err := waitEvent(ctx, name, func(ev domain.Event) bool { return ev.Kind == domain.EventInit })
	if err != nil {
		return err
	}
	if !ev.OK {
		return fmt.Errorf("cannot reach relay for %s", name)
	}
	return nil
}

// waitEvent discards events until match accepts one for channel name.
func waitEvent(ctx context.Context, name string, match func(domain.Event) bool) (domain.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	for {
		select {
		case ev, ok := <-wire.Engine.Events():
			if !ok {
				return domain.Event{}, channel.ErrShutdown
			}
			if ev.Channel == name && match(ev) {
				return ev, nil
			}
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}
