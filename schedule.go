package autoflow

import (
	"context"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/robfig/cron/v3"
)

type scheduleOpts struct {
	filter func(ctx context.Context) (bool, error)
}

type ScheduleOption func(*scheduleOpts)

// WithScheduleFilter skips a scheduled dispatch when the filter returns
// false with a nil error.
func WithScheduleFilter(fn func(ctx context.Context) (bool, error)) ScheduleOption {
	return func(o *scheduleOpts) {
		o.filter = fn
	}
}

// Schedule dispatches the event for the target on a cron spec. Each tick
// takes a fresh snapshot of the target and dispatches with an idempotency
// token derived from the tick time, so overlapping engine instances fire a
// tick at most once between them.
//
// Schedule is non-blocking; the dispatch loop runs as a tracked background
// process with the same retry behaviour as the engine's pollers.
func (e *Engine) Schedule(tenantID int64, eventType EventType, target EntityRef, spec string, opts ...ScheduleOption) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "cannot schedule")
	}

	if tenantID <= 0 {
		return errors.Wrap(ErrMissingTenant, "")
	}

	var o scheduleOpts
	for _, opt := range opts {
		opt(&o)
	}

	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return errors.Wrap(err, "parse cron spec")
	}

	tenant := strconv.FormatInt(tenantID, 10)
	role := makeRole("autoflow", tenant, string(eventType), string(target.Type), target.ID, "scheduler", spec)
	processName := makeRole(tenant, string(eventType), target.ID, "scheduler", spec)

	var lastRun time.Time

	track(e, func() {
		e.run(role, processName, func(ctx context.Context) error {
			if lastRun.IsZero() {
				lastRun = e.clock.Now()
			}

			nextRun := schedule.Next(lastRun)

			err := waitUntil(ctx, e.clock, nextRun)
			if err != nil {
				return err
			}

			lastRun = nextRun

			if o.filter != nil {
				ok, err := o.filter(ctx)
				if err != nil {
					return err
				}

				// Filter excludes this tick. Wait for the next one.
				if !ok {
					return nil
				}
			}

			snapshot, err := e.snapshotFn(ctx, tenantID, target)
			if err != nil {
				return err
			}

			token := processName + "/" + strconv.FormatInt(nextRun.Unix(), 10)

			return e.Dispatch(ctx, tenantID, eventType, target, snapshot,
				WithIdempotencyToken(token))
		}, e.opts.errBackOff)
	})

	return nil
}
