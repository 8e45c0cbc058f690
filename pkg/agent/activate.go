package agent

import (
	"context"
	"errors"
	"fmt"
)

// ActivateReport is the outcome of Activate.
type ActivateReport struct {
	Generation string
	Deleted    []string
}

// ClaimsClients reports that the activated version takes control of open
// sessions immediately, without a reload. Always true.
func (r ActivateReport) ClaimsClients() bool {
	return true
}

// Activate deletes every cache container except the current generation.
// Running it again without a version change deletes nothing.
//
// Enumeration and deletion errors are returned; deletion keeps going past a
// failing container so one bad name does not keep the rest alive.
func (a *Agent) Activate(ctx context.Context) (ActivateReport, error) {
	report := ActivateReport{Generation: a.config.Generation}

	names, err := a.storage.Keys(ctx)
	if err != nil {
		return report, fmt.Errorf("list containers: %w", err)
	}

	var errs []error
	for _, name := range names {
		if name == a.config.Generation {
			continue
		}
		a.logger.Info().Str("container", name).Msg("Deleting old cache")
		removed, err := a.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete container %s: %w", name, err))
			continue
		}
		if removed {
			report.Deleted = append(report.Deleted, name)
			ContainersDeleted.Inc()
		}
	}

	a.logger.Info().
		Strs("deleted", report.Deleted).
		Msg("Agent activated")
	return report, errors.Join(errs...)
}
