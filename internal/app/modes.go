package app

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// IngestMode runs the order intake subsystem: the queue worker and, when
// enabled, the marketplace websocket feed.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Worker.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(ctx)
		})
	}

	a.replayRelay(ctx, deps)

	return g.Wait()
}

// DistributeMode runs the payment split distributor on its own.
func (a *App) DistributeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting distribute mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Distributor.Run(ctx)
	})

	return g.Wait()
}

// FullMode runs intake and split distribution together.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return deps.Worker.Run(ctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(ctx)
		})
	}

	g.Go(func() error {
		return deps.Distributor.Run(ctx)
	})

	a.replayRelay(ctx, deps)

	return g.Wait()
}

// replayRelay re-enqueues archived raw orders when replay is requested. It
// runs in the background so startup is never blocked on a large archive.
func (a *App) replayRelay(ctx context.Context, deps *Dependencies) {
	if !a.replay {
		return
	}
	go func() {
		for _, kind := range deps.Kinds {
			n, err := deps.Relay.Replay(ctx, kind, deps.Queue, a.logger)
			if err != nil {
				a.logger.ErrorContext(ctx, "relay replay failed",
					slog.String("kind", kind),
					slog.String("error", err.Error()),
				)
				continue
			}
			a.logger.InfoContext(ctx, "relay replay complete",
				slog.String("kind", kind),
				slog.Int("orders", n),
			)
		}
	}()
}
