package store

import (
	"context"
	"time"

	"github.com/weiawesome/friendlychat/pkg/log"
)

func (c *Client) runReaper(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := c.ReapStale(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger := log.L()
					logger.Error().Err(err).Msg("failed to reap stale uploads")
				}
				continue
			}
			if n > 0 {
				logger := log.L()
				logger.Warn().Int("count", n).Msg("marked stale uploads as failed")
			}
		}
	}
}
