package main

import (
	"context"
	"time"

	"InsightLane/internal/biz"
	"InsightLane/internal/conf"
	pkglog "InsightLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

const (
	defaultArchiveSweep = "0 0 * * * *"
	sweepTimeout        = 10 * time.Minute
)

// newArchiveSweeper starts the cron job that purges expired archive entries.
// The schedule uses the six-field format with seconds; the default runs hourly.
func newArchiveSweeper(c *conf.Scheduler, store *biz.TieredStore, logger log.Logger) (*cron.Cron, func(), error) {
	helper := pkglog.NewLogHelper(logger)

	spec := defaultArchiveSweep
	if c != nil && c.ArchiveSweep != "" {
		spec = c.ArchiveSweep
	}

	sched := cron.New(cron.WithSeconds())
	_, err := sched.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		start := time.Now()
		removed, err := store.PurgeExpired(ctx)
		if err != nil {
			helper.Errorw("msg", "archive sweep failed", "error", err, "removed", removed, "type", "scheduler")
			return
		}
		helper.Scheduler("archive sweep completed", "removed", removed, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return nil, nil, err
	}

	sched.Start()
	helper.Scheduler("archive sweep scheduled", "spec", spec)

	return sched, func() {
		<-sched.Stop().Done()
	}, nil
}
