package booking

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tradojo/booking/lifecycle"
	"github.com/tradojo/booking/store"
)

// cascadeReport is the result of deleting one travel's services.
type cascadeReport struct {
	deleted  int
	failures []ServiceFailure
}

func (r cascadeReport) failure(travelID string) *PartialCascadeFailure {
	if len(r.failures) == 0 {
		return nil
	}
	return &PartialCascadeFailure{TravelID: travelID, Failures: r.failures}
}

// cascade deletes the services listed by a deleted travel.
type cascade struct {
	services *store.Collection[Service]
	limit    int
	logger   *slog.Logger
}

// run deletes every id in parallel, at most limit at a time. A failed
// deletion never stops the others. Once ctx is cancelled no new deletion is
// started; deletions already started finish on a context that ignores the
// cancellation, and the rest are reported as failed with ctx's error.
func (c *cascade) run(ctx context.Context, travelID string, ids []string) cascadeReport {
	var (
		mu     sync.Mutex
		report cascadeReport
	)
	record := func(id string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.failures = append(report.failures, ServiceFailure{ServiceID: id, Err: err})
			return
		}
		report.deleted++
	}

	issued := context.WithoutCancel(ctx)
	slots := semaphore.NewWeighted(int64(c.limit))

	var g errgroup.Group
	pending := dedupe(ids)
	for i, id := range pending {
		err := slots.Acquire(ctx, 1)
		if err == nil && ctx.Err() != nil {
			slots.Release(1)
			err = ctx.Err()
		}
		if err != nil {
			for _, rest := range pending[i:] {
				record(rest, err)
			}
			c.logger.Warn("cascade interrupted",
				"travel", travelID,
				"not_issued", len(pending)-i,
				"error", err,
			)
			break
		}
		g.Go(func() error {
			defer slots.Release(1)
			_, err := c.services.Delete(issued, id)
			switch {
			case err == nil, errors.Is(err, store.ErrNotFound):
				err = nil
			case lifecycle.IsAfterHookError(err):
				c.logger.Warn("service deleted with hook failure", "travel", travelID, "service", id, "error", err)
				err = nil
			default:
				c.logger.Warn("service delete failed", "travel", travelID, "service", id, "error", err)
			}
			record(id, err)
			return nil
		})
	}
	_ = g.Wait()

	c.logger.Info("cascade complete",
		"travel", travelID,
		"services_deleted", report.deleted,
		"services_failed", len(report.failures),
	)
	return report
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
