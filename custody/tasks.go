package custody

import (
	"context"
	"fmt"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	TaskSubmit        = "submit"
	TaskBumpFee       = "bump_fee"
	TaskConfirm       = "confirm"
	TaskReport        = "report"
	TaskExpireInbound = "expire_inbound"
)

// RunTask runs fn unless a run of the same task is in progress. A panic in
// fn, an invariant violation, ends only this run.
func (e *Engine) RunTask(ctx context.Context, name string, fn func(context.Context) error) (err error) {
	g, err := e.guards.AcquireTask(name)
	if err != nil {
		return err
	}
	defer g.Release()
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task", name).Errorf("task aborted: %v", r)
			err = fmt.Errorf("%w: %s: %v", ErrTaskPanicked, name, r)
		}
	}()
	return fn(ctx)
}

func (e *Engine) spawn(ctx context.Context, name string, fn func(context.Context) error) {
	go func() {
		if err := e.RunTask(ctx, name, fn); err != nil {
			logger.WithField("task", name).Debugf("task ended with: %v", err)
		}
	}()
}

// Start runs the periodic tasks until ctx is done.
func (e *Engine) Start(ctx context.Context) error {
	logger.Info("starting custody engine")
	defer logger.Info("stopping custody engine")

	tickerToSubmit := time.NewTicker(e.cfg.FrequencyToSubmit)
	defer tickerToSubmit.Stop()

	tickerToBumpFee := time.NewTicker(e.cfg.FrequencyToBumpFee)
	defer tickerToBumpFee.Stop()

	tickerToConfirm := time.NewTicker(e.cfg.FrequencyToConfirm)
	defer tickerToConfirm.Stop()

	tickerToReport := time.NewTicker(e.cfg.FrequencyToReport)
	defer tickerToReport.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tickerToSubmit.C:
			e.spawn(ctx, TaskSubmit, e.SubmitPending)
		case <-tickerToBumpFee.C:
			e.spawn(ctx, TaskBumpFee, e.BumpFees)
		case <-tickerToConfirm.C:
			e.spawn(ctx, TaskConfirm, e.ConfirmScan)
		case <-tickerToReport.C:
			e.spawn(ctx, TaskReport, e.Report)
			e.spawn(ctx, TaskExpireInbound, e.ExpireInbound)
		}
	}
}
