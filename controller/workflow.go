package controller

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/devskill-org/fleet-optimizer/models"
)

// WorkflowOptions control the two-stage allocate-then-schedule run.
type WorkflowOptions struct {
	SkipAllocation bool
	SkipScheduling bool
	RouteSource    models.RouteSourceMode
	Trigger        string
	Persist        bool
}

// WorkflowResult summarizes an integrated workflow run.
type WorkflowResult struct {
	Allocation *models.AllocationResult
	Schedule   *models.ScheduleResult
	Elapsed    time.Duration
}

// RunWorkflow chains the standalone controllers: allocation first, then
// scheduling over the freshly allocated routes. A rejected allocation stops
// the chain since the scheduler would plan against stale bindings.
func RunWorkflow(ctx context.Context, ds Datastore, siteID int, appName string, at time.Time, opts WorkflowOptions, logger *log.Logger) (*WorkflowResult, error) {
	start := time.Now()
	result := &WorkflowResult{}

	if !opts.SkipAllocation {
		alloc := NewAllocationController(ds, siteID, opts.Trigger, appName, opts.Persist, logger)
		allocation, err := alloc.Run(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("allocation stage failed: %w", err)
		}
		result.Allocation = allocation

		if allocation.Status == models.AllocationStatusFailed {
			result.Elapsed = time.Since(start)
			logger.Printf("[WORKFLOW] allocation rejected, skipping scheduling stage")
			return result, nil
		}
	}

	if !opts.SkipScheduling {
		sched := NewSchedulerController(ds, siteID, 0, appName, opts.Persist, logger)
		if opts.RouteSource != "" {
			sched.RouteSource = opts.RouteSource
		}
		schedule, err := sched.Run(ctx, at)
		if err != nil {
			return nil, fmt.Errorf("scheduling stage failed: %w", err)
		}
		result.Schedule = schedule
	}

	result.Elapsed = time.Since(start)
	logger.Printf("[WORKFLOW] completed in %s", result.Elapsed.Round(time.Millisecond))
	return result, nil
}
