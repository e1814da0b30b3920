// Package monitor runs proactive fleet health checks.
//
// A Sweeper reads live telemetry for each monitored vehicle. When a vehicle
// runs hotter than the threshold it seeds a synthetic alert thread, runs it
// through the executor in proactive mode and records the resulting Alert on
// every configured AlertSink. Sweeps are driven by the in-process Ticker or
// by the FleetSweepWorkflow on Temporal.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

const (
	// DefaultTempThreshold is the engine temperature above which a vehicle
	// raises an alert.
	DefaultTempThreshold = 110

	// SeverityCritical is the severity of threshold alerts.
	SeverityCritical = "CRITICAL"

	defaultBoardSize = 100
)

// Alert is the outcome of one proactive check that crossed the threshold.
type Alert struct {
	VehicleID  string    `json:"vehicle_id"`
	Severity   string    `json:"severity"`
	Message    string    `json:"message"`
	ThreadID   string    `json:"thread_id"`
	EngineTemp float64   `json:"engine_temp"`
	ErrorCode  string    `json:"error_code"`
	Blocked    bool      `json:"blocked,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AlertSink receives alerts.
type AlertSink interface {
	Record(ctx context.Context, alert Alert) error
}

// Telemetry reads the current state of a vehicle. *fleet.DB implements it.
type Telemetry interface {
	Vehicle(id string) (fleet.Vehicle, error)
}

// Submitter runs a seeded alert thread. *orchestrator.Executor implements it.
type Submitter interface {
	SubmitSyntheticAlert(ctx context.Context, threadID string, seed []transcript.Turn) (*orchestrator.RunResult, error)
}

// AlertBoard keeps the most recent alerts in memory, newest last.
type AlertBoard struct {
	mu     sync.RWMutex
	size   int
	alerts []Alert
}

// NewAlertBoard creates a board holding at most size alerts. A non-positive
// size uses the default of 100.
func NewAlertBoard(size int) *AlertBoard {
	if size <= 0 {
		size = defaultBoardSize
	}
	return &AlertBoard{size: size}
}

// Record adds alert, evicting the oldest entry when full.
func (b *AlertBoard) Record(_ context.Context, alert Alert) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.alerts = append(b.alerts, alert)
	if over := len(b.alerts) - b.size; over > 0 {
		b.alerts = append([]Alert(nil), b.alerts[over:]...)
	}
	return nil
}

// List returns a copy of the alerts, oldest first.
func (b *AlertBoard) List() []Alert {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Alert(nil), b.alerts...)
}

// SweeperOptions configures a Sweeper.
type SweeperOptions struct {
	Vehicles      []string
	TempThreshold float64
	Sinks         []AlertSink
	Logger        *logging.Logger

	// Now overrides the clock; thread ids embed its unix time.
	Now func() time.Time
}

// Sweeper checks vehicles and raises alerts.
type Sweeper struct {
	telemetry Telemetry
	submitter Submitter
	vehicles  []string
	threshold float64
	sinks     []AlertSink
	logger    *logging.Logger
	now       func() time.Time
}

// NewSweeper creates a sweeper.
func NewSweeper(telemetry Telemetry, submitter Submitter, opts SweeperOptions) (*Sweeper, error) {
	if telemetry == nil {
		return nil, errors.New("telemetry source is required")
	}
	if submitter == nil {
		return nil, errors.New("alert submitter is required")
	}
	if opts.TempThreshold <= 0 {
		opts.TempThreshold = DefaultTempThreshold
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sweeper{
		telemetry: telemetry,
		submitter: submitter,
		vehicles:  append([]string(nil), opts.Vehicles...),
		threshold: opts.TempThreshold,
		sinks:     opts.Sinks,
		logger:    opts.Logger.Named("monitor"),
		now:       opts.Now,
	}, nil
}

// Vehicles returns the monitored vehicle ids.
func (s *Sweeper) Vehicles() []string {
	return append([]string(nil), s.vehicles...)
}

// CheckVehicle reads telemetry for vehicleID and, when the engine runs
// above the threshold, runs a proactive alert thread. It returns nil when
// the vehicle is healthy.
func (s *Sweeper) CheckVehicle(ctx context.Context, vehicleID string) (*Alert, error) {
	v, err := s.telemetry.Vehicle(vehicleID)
	if err != nil {
		return nil, fmt.Errorf("fetch telemetry for %s: %w", vehicleID, err)
	}
	if v.EngineTemp <= s.threshold {
		s.logger.Debug(ctx, "vehicle healthy",
			zap.String("vehicle_id", vehicleID),
			zap.Float64("engine_temp", v.EngineTemp))
		return nil, nil
	}

	now := s.now()
	threadID := fmt.Sprintf("alert_%s_%d", vehicleID, now.Unix())
	ctx = logging.WithThreadID(ctx, threadID)
	s.logger.Warn(ctx, "critical anomaly detected",
		zap.String("vehicle_id", vehicleID),
		zap.Float64("engine_temp", v.EngineTemp),
		zap.String("error_code", v.ErrorCode))

	seed, err := SeedTurns(v, "call_"+threadID)
	if err != nil {
		return nil, err
	}
	res, err := s.submitter.SubmitSyntheticAlert(ctx, threadID, seed)
	if err != nil {
		return nil, fmt.Errorf("alert thread %s: %w", threadID, err)
	}

	alert := Alert{
		VehicleID:  vehicleID,
		Severity:   SeverityCritical,
		Message:    res.Response,
		ThreadID:   threadID,
		EngineTemp: v.EngineTemp,
		ErrorCode:  v.ErrorCode,
		Blocked:    res.Blocked,
		Timestamp:  now.UTC(),
	}
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, alert); err != nil {
			s.logger.Error(ctx, "alert sink failed", zap.Error(err))
		}
	}
	return &alert, nil
}

// Sweep checks every monitored vehicle. Per-vehicle failures are logged and
// joined into the returned error; they never stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context) ([]Alert, error) {
	var (
		alerts []Alert
		errs   []error
	)
	for _, id := range s.vehicles {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		alert, err := s.CheckVehicle(ctx, id)
		if err != nil {
			s.logger.Error(ctx, "vehicle check failed", zap.String("vehicle_id", id), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if alert != nil {
			alerts = append(alerts, *alert)
		}
	}
	return alerts, errors.Join(errs...)
}

// SeedTurns builds the synthetic history of an alert thread: the system
// alert, the telemetry fetch call and its result.
func SeedTurns(v fleet.Vehicle, callID string) ([]transcript.Turn, error) {
	args, err := json.Marshal(map[string]string{"vehicle_id": v.ID})
	if err != nil {
		return nil, err
	}
	reading, err := json.Marshal(struct {
		VehicleID  string  `json:"vehicle_id"`
		EngineTemp float64 `json:"engine_temp"`
		ErrorCode  string  `json:"error_code"`
	}{v.ID, v.EngineTemp, v.ErrorCode})
	if err != nil {
		return nil, err
	}
	return []transcript.Turn{
		transcript.HumanTurn(fmt.Sprintf("System Alert: Check vehicle %s.", v.ID)),
		transcript.AgentTurn("", transcript.ToolCall{
			ID:   callID,
			Name: fleet.ToolFetchTelematics,
			Args: args,
		}),
		transcript.ToolTurn(callID, string(reading)),
	}, nil
}
