package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/fleetd/internal/fleet"
	httpapi "github.com/fyrsmithlabs/fleetd/internal/http"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/monitor"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

func finalWorkers(text string) map[orchestrator.Node]orchestrator.Worker {
	workers := make(map[orchestrator.Node]orchestrator.Worker)
	for _, node := range orchestrator.WorkerNodes() {
		workers[node] = orchestrator.WorkerFunc(func(context.Context, orchestrator.WorkerRequest) ([]transcript.Turn, error) {
			return []transcript.Turn{transcript.AgentTurn(text)}, nil
		})
	}
	return workers
}

func newTestClient(t *testing.T) *Client {
	t.Helper()

	gate, err := orchestrator.NewSecurityGate(nil, nil)
	require.NoError(t, err)
	store := transcript.NewMemoryStore()
	exec := orchestrator.NewExecutor(store, finalWorkers("On it."), orchestrator.ExecutorOptions{
		Gates: []orchestrator.InputGate{gate},
	})
	board := monitor.NewAlertBoard(0)
	sweeper, err := monitor.NewSweeper(fleet.NewSeededDB(), exec, monitor.SweeperOptions{
		Vehicles: []string{"Vehicle-123"},
		Sinks:    []monitor.AlertSink{board},
	})
	require.NoError(t, err)

	server, err := httpapi.NewServer(httpapi.Services{
		Engine: exec, Threads: store, Alerts: board, Sweeper: sweeper,
	}, logging.NewNop(), nil)
	require.NoError(t, err)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	c, err := New(ts.URL+"/", 5*time.Second)
	require.NoError(t, err)
	return c
}

func TestClient_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	health, err := c.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)

	chat, err := c.Chat(ctx, httpapi.ChatRequest{Message: "Check Vehicle-123", ThreadID: "cli-1"})
	require.NoError(t, err)
	assert.Equal(t, "On it.", chat.Response)

	th, err := c.Thread(ctx, "cli-1")
	require.NoError(t, err)
	assert.Len(t, th.Turns, 2)

	alert, err := c.CheckVehicle(ctx, "Vehicle-123")
	require.NoError(t, err)
	require.NotNil(t, alert)
	assert.Equal(t, monitor.SeverityCritical, alert.Severity)

	healthy, err := c.CheckVehicle(ctx, "Vehicle-101")
	require.NoError(t, err)
	assert.Nil(t, healthy)

	alerts, err := c.Alerts(ctx)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	sweep, err := c.TriggerCheck(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, sweep.Checked)
}

func TestClient_APIError(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Thread(context.Background(), "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.Status)
	assert.Equal(t, httpapi.KindNotFound, apiErr.Kind)
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New("localhost:8000", 0)
	assert.Error(t, err)
}
