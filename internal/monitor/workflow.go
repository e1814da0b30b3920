package monitor

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fyrsmithlabs/fleetd/internal/config"
)

// Registered names of the sweep workflow and its activity.
const (
	SweepWorkflowName        = "FleetSweepWorkflow"
	CheckVehicleActivityName = "CheckVehicle"
)

// SweepInput lists the vehicles one workflow run checks.
type SweepInput struct {
	Vehicles []string
}

// SweepResult summarizes one workflow run.
type SweepResult struct {
	Checked int      // Vehicles whose check completed
	Alerts  []Alert  // Alerts raised in this run
	Failed  []string // Vehicles whose check failed after retries
}

// Checker checks one vehicle. *Sweeper implements it in-process; the
// fleetctl client implements it against a remote fleetd.
type Checker interface {
	CheckVehicle(ctx context.Context, vehicleID string) (*Alert, error)
}

// Activities holds the sweep activities.
type Activities struct {
	Checker Checker
}

// CheckVehicle is the per-vehicle activity.
func (a *Activities) CheckVehicle(ctx context.Context, vehicleID string) (*Alert, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Checking vehicle", "vehicle_id", vehicleID)

	alert, err := a.Checker.CheckVehicle(ctx, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", vehicleID, err)
	}
	return alert, nil
}

// Registry is the subset of worker.Worker used to register the sweep.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register registers the sweep workflow and activities on r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(FleetSweepWorkflow, workflow.RegisterOptions{Name: SweepWorkflowName})
	r.RegisterActivityWithOptions(acts.CheckVehicle, activity.RegisterOptions{Name: CheckVehicleActivityName})
}

// FleetSweepWorkflow checks each vehicle in turn. A vehicle that still
// fails after retries is reported in Failed; the sweep continues.
func FleetSweepWorkflow(ctx workflow.Context, in SweepInput) (*SweepResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting fleet sweep", "vehicles", len(in.Vehicles))

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: 5 * time.Second,
			MaximumAttempts: 3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	result := &SweepResult{}
	for _, id := range in.Vehicles {
		var alert *Alert
		if err := workflow.ExecuteActivity(ctx, CheckVehicleActivityName, id).Get(ctx, &alert); err != nil {
			logger.Error("Vehicle check failed", "vehicle_id", id, "error", err)
			result.Failed = append(result.Failed, id)
			continue
		}
		result.Checked++
		if alert != nil {
			result.Alerts = append(result.Alerts, *alert)
		}
	}

	logger.Info("Fleet sweep complete",
		"checked", result.Checked,
		"alerts", len(result.Alerts),
		"failed", len(result.Failed))
	return result, nil
}

// StartCronSweep starts the recurring sweep workflow. If a run with the
// configured id is already active, its handle is returned.
func StartCronSweep(ctx context.Context, c client.Client, cfg config.TemporalConfig, vehicles []string) (client.WorkflowRun, error) {
	opts := client.StartWorkflowOptions{
		ID:           cfg.WorkflowID,
		TaskQueue:    cfg.TaskQueue,
		CronSchedule: cfg.Schedule,
	}
	run, err := c.ExecuteWorkflow(ctx, opts, SweepWorkflowName, SweepInput{Vehicles: vehicles})
	if err != nil {
		return nil, fmt.Errorf("start sweep workflow: %w", err)
	}
	return run, nil
}
