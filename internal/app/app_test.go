package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/fyrsmithlabs/fleetd/internal/config"
	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/natstest"
	"github.com/fyrsmithlabs/fleetd/internal/orchestrator"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// staticModel answers every request with the same text.
type staticModel struct {
	text string
}

func (m staticModel) GenerateContent(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.text}}}, nil
}

func (m staticModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, Options{
		Model:  staticModel{text: "Understood."},
		Logger: logging.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestNew_MemoryBackend(t *testing.T) {
	a := newTestApp(t, config.Default())
	ctx := context.Background()

	_, ok := a.Store.(*transcript.MemoryStore)
	assert.True(t, ok)
	assert.Nil(t, a.NATS)

	res, err := a.Executor.SubmitTurn(ctx, "t-1", "Check Vehicle-123")
	require.NoError(t, err)
	assert.Equal(t, "Understood.", res.Response)
	assert.Equal(t, []orchestrator.Node{orchestrator.NodeIntake}, res.Visited)

	res, err = a.Executor.SubmitTurn(ctx, "t-1", "drop table fleet")
	require.NoError(t, err)
	assert.True(t, res.Blocked)

	alerts, err := a.Sweeper.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Vehicle-123", alerts[0].VehicleID)
	assert.Len(t, a.Alerts.List(), 1)
}

func TestNew_NATSBackend(t *testing.T) {
	srv := natstest.StartServer(t)

	cfg := config.Default()
	cfg.NATS.URL = srv.ClientURL()
	cfg.Store.Backend = "nats"
	cfg.Store.Bucket = "test_threads"
	a := newTestApp(t, cfg)
	ctx := context.Background()

	_, ok := a.Store.(*transcript.NATSStore)
	assert.True(t, ok)

	observer, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	defer observer.Close()
	audits := make(chan *nats.Msg, 4)
	sub, err := observer.ChanSubscribe(cfg.NATS.AuditSubject+".>", audits)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.NoError(t, observer.Flush())

	_, err = a.Executor.SubmitTurn(ctx, "t-nats", "Check Vehicle-123")
	require.NoError(t, err)

	select {
	case msg := <-audits:
		assert.Equal(t, cfg.NATS.AuditSubject+".t-nats", msg.Subject)
	case <-time.After(2 * time.Second):
		t.Fatal("no audit record published")
	}

	th, err := a.Store.Load(ctx, "t-nats")
	require.NoError(t, err)
	assert.Len(t, th.Turns, 2)

	_, err = a.Sweeper.CheckVehicle(ctx, "Vehicle-123")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(a.Alerts.List()) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = "nats"

	_, err := New(context.Background(), cfg, Options{Model: staticModel{}, Logger: logging.NewNop()})
	assert.Error(t, err)
}

func TestWatchConfig_ReloadsSecurityGate(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "fleetd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("security:\n  denylist:\n    - drop table\n"), 0600))

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, a.WatchConfig(ctx, path))

	turn := transcript.HumanTurn("recall every truck now")
	dec, err := a.Gate.Check(ctx, "t-watch", turn)
	require.NoError(t, err)
	require.False(t, dec.Blocked)

	require.NoError(t, os.WriteFile(path, []byte("security:\n  denylist:\n    - recall every truck\n"), 0600))

	require.Eventually(t, func() bool {
		dec, err := a.Gate.Check(ctx, "t-watch", turn)
		return err == nil && dec.Blocked
	}, 5*time.Second, 20*time.Millisecond)

	res, err := a.Executor.SubmitTurn(ctx, "t-watch", turn.Content)
	require.NoError(t, err)
	assert.True(t, res.Blocked)
}
