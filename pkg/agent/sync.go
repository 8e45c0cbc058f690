package agent

import (
	"context"
	"fmt"
)

// Sync runs the deferred action of a registered background sync tag.
// Unknown tags are ignored.
func (a *Agent) Sync(ctx context.Context, tag string) error {
	if !a.config.handlesTag(tag) {
		a.logger.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return nil
	}

	a.logger.Info().Str("tag", tag).Msg("Background sync")
	if err := a.config.OnSync(ctx, tag); err != nil {
		return fmt.Errorf("sync %s: %w", tag, err)
	}
	return nil
}
