package business

import (
	"context"
	"time"

	slogctx "github.com/veqryn/slog-context"
)

const defaultHousekeeperInterval = time.Minute

type pruner interface {
	Prune(ctx context.Context) error
}

// startHousekeeper drops expired relay entries until ctx is done.
func startHousekeeper(ctx context.Context, interval time.Duration, p pruner) error {
	if interval <= 0 {
		interval = defaultHousekeeperInterval
	}

	c := time.Tick(interval)
	for {
		if err := p.Prune(ctx); err != nil {
			slogctx.Error(ctx, "Error during relay store housekeeping", "error", err)
		}

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}
