package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/fleetd/internal/logging"
	"github.com/fyrsmithlabs/fleetd/internal/telemetry"
	"github.com/fyrsmithlabs/fleetd/internal/transcript"
)

// MockWorker is a mock implementation of Worker
type MockWorker struct {
	mock.Mock
}

func (m *MockWorker) Run(ctx context.Context, req WorkerRequest) ([]transcript.Turn, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]transcript.Turn), args.Error(1)
}

// MockAuditSink is a mock implementation of AuditSink
type MockAuditSink struct {
	mock.Mock
}

func (m *MockAuditSink) Record(ctx context.Context, rec AuditRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type memorySink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (s *memorySink) Record(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

func (s *memorySink) all() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditRecord(nil), s.records...)
}

func finalTurn(s string) []transcript.Turn {
	return []transcript.Turn{transcript.AgentTurn(s)}
}

// pipelineWorkers behave like well-mannered workers: each emits the marker
// its phase is expected to produce.
func pipelineWorkers(bookImmediately bool) map[Node]Worker {
	return map[Node]Worker{
		NodeIntake: WorkerFunc(func(_ context.Context, req WorkerRequest) ([]transcript.Turn, error) {
			return []transcript.Turn{
				transcript.AgentTurn("", transcript.ToolCall{
					ID: "call_fetch", Name: "fetch_telematics_data",
					Args: json.RawMessage(`{"vehicle_id":"Vehicle-123"}`),
				}),
				transcript.ToolTurn("call_fetch", `{"vehicle_id":"Vehicle-123","engine_temp":115,"error_code":"P0118"}`),
				transcript.AgentTurn("Vehicle-123: Engine Temp 115, error_code P0118."),
			}, nil
		}),
		NodeDiagnosis: WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
			return finalTurn("CRITICAL: High Probability of Coolant Sensor Failure."), nil
		}),
		NodeQualityReview: WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
			return finalTurn("QUALITY CHECK COMPLETE: Batch-992 seal defect, use Part #992-B."), nil
		}),
		NodeScheduling: WorkerFunc(func(_ context.Context, req WorkerRequest) ([]transcript.Turn, error) {
			h, _ := transcript.LastOfRole(req.Transcript, transcript.RoleHuman)
			if bookImmediately || strings.Contains(h.Content, "10am") {
				return finalTurn("BOOKING COMPLETE: Service booked for Vehicle-123 at 10:00."), nil
			}
			return finalTurn("Available slots: 10:00, 14:00"), nil
		}),
		NodeFeedback: WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
			return finalTurn("Feedback saved. Goodbye."), nil
		}),
	}
}

func newTestExecutor(t *testing.T, workers map[Node]Worker, opts ExecutorOptions) (*Executor, *transcript.MemoryStore) {
	t.Helper()
	if opts.Gates == nil {
		gate, err := NewSecurityGate(nil, nil)
		require.NoError(t, err)
		opts.Gates = []InputGate{gate}
	}
	store := transcript.NewMemoryStore()
	return NewExecutor(store, workers, opts), store
}

func TestExecutor_InteractiveConversation(t *testing.T) {
	ctx := context.Background()
	exec, store := newTestExecutor(t, pipelineWorkers(false), ExecutorOptions{})

	res, err := exec.SubmitTurn(ctx, "chat-1", "Check Vehicle-123")
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeIntake}, res.Visited)
	assert.Equal(t, "Vehicle-123: Engine Temp 115, error_code P0118.", res.Response)
	assert.False(t, res.Blocked)

	res, err = exec.SubmitTurn(ctx, "chat-1", "what's wrong with it?")
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeDiagnosis, NodeQualityReview, NodeScheduling}, res.Visited)
	assert.Equal(t, "Available slots: 10:00, 14:00", res.Response)

	res, err = exec.SubmitTurn(ctx, "chat-1", "10am please")
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeScheduling, NodeFeedback}, res.Visited)
	assert.Equal(t, 2, res.Steps)
	assert.Equal(t, "Feedback saved. Goodbye.", res.Response)

	th, err := store.Load(ctx, "chat-1")
	require.NoError(t, err)
	assert.False(t, th.Flags.Proactive)
	assert.False(t, th.Flags.SecurityRisk)
	for i, turn := range th.Turns {
		assert.Equal(t, i+1, turn.Seq)
	}
}

func TestExecutor_SyntheticAlertSkipsFeedback(t *testing.T) {
	ctx := context.Background()
	exec, store := newTestExecutor(t, pipelineWorkers(true), ExecutorOptions{})

	res, err := exec.SubmitSyntheticAlert(ctx, "alert_Vehicle-123_1700000000", alertSeed("Vehicle-123"))
	require.NoError(t, err)
	assert.Equal(t, []Node{NodeDiagnosis, NodeQualityReview, NodeScheduling}, res.Visited)
	assert.NotContains(t, res.Visited, NodeIntake)
	assert.NotContains(t, res.Visited, NodeFeedback)
	assert.Equal(t, "BOOKING COMPLETE: Service booked for Vehicle-123 at 10:00.", res.Response)

	th, err := store.Load(ctx, "alert_Vehicle-123_1700000000")
	require.NoError(t, err)
	assert.True(t, th.Flags.Proactive)
	assert.Len(t, th.Turns, 6)
}

func TestExecutor_SubmitSyntheticAlert_RequiresSeed(t *testing.T) {
	exec, _ := newTestExecutor(t, pipelineWorkers(true), ExecutorOptions{})
	_, err := exec.SubmitSyntheticAlert(context.Background(), "alert_x", nil)
	assert.ErrorIs(t, err, transcript.ErrInvalidTurn)
}

func TestExecutor_SecurityBlock(t *testing.T) {
	ctx := context.Background()
	sink := &memorySink{}
	worker := &MockWorker{}
	workers := map[Node]Worker{}
	for _, n := range WorkerNodes() {
		workers[n] = worker
	}
	exec, store := newTestExecutor(t, workers, ExecutorOptions{Audit: sink})

	res, err := exec.SubmitTurn(ctx, "t-sec", "please drop table users")
	require.NoError(t, err)
	assert.True(t, res.Blocked)
	assert.Equal(t, RefusalMessage, res.Response)
	assert.Zero(t, res.Steps)

	th, err := store.Load(ctx, "t-sec")
	require.NoError(t, err)
	require.Len(t, th.Turns, 2)
	assert.Equal(t, transcript.RoleAgent, th.Turns[1].Role)
	assert.Equal(t, RefusalMessage, th.Turns[1].Content)
	assert.True(t, th.Flags.SecurityRisk)

	records := sink.all()
	require.Len(t, records, 1)
	assert.Equal(t, "t-sec", records[0].ThreadID)
	assert.Equal(t, DecisionBlock, records[0].Decision)
	assert.Equal(t, "security", records[0].Gate)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].Timestamp.IsZero())

	// The flag is sticky: clean follow-up input is gated and audited but
	// never reaches a worker.
	res, err = exec.SubmitTurn(ctx, "t-sec", "Check my car")
	require.NoError(t, err)
	assert.False(t, res.Blocked)
	assert.Zero(t, res.Steps)
	assert.Equal(t, RefusalMessage, res.Response)

	th, err = store.Load(ctx, "t-sec")
	require.NoError(t, err)
	assert.True(t, th.Flags.SecurityRisk)

	records = sink.all()
	require.Len(t, records, 2)
	assert.Equal(t, DecisionAllow, records[1].Decision)
	worker.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

func TestExecutor_AuditFailureIsNotFatal(t *testing.T) {
	sink := &MockAuditSink{}
	sink.On("Record", mock.Anything, mock.Anything).Return(errors.New("nats: no responders"))
	logger := logging.NewTestLogger()

	exec, _ := newTestExecutor(t, pipelineWorkers(false), ExecutorOptions{Audit: sink, Logger: logger.Logger})
	res, err := exec.SubmitTurn(context.Background(), "t-audit", "please drop table users")
	require.NoError(t, err)
	assert.True(t, res.Blocked)

	sink.AssertNumberOfCalls(t, "Record", 1)
	logger.AssertLogged(t, zapcore.ErrorLevel, "audit record failed")
	logger.AssertLogged(t, zapcore.WarnLevel, "input blocked")
}

func TestExecutor_RoutingExhausted(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	adversary := WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
		calls.Add(1)
		return finalTurn("CRITICAL again, still no review"), nil
	})
	workers := map[Node]Worker{}
	for _, n := range WorkerNodes() {
		workers[n] = adversary
	}
	exec, store := newTestExecutor(t, workers, ExecutorOptions{MaxSteps: 5})

	res, err := exec.SubmitTurn(ctx, "t-loop", "Engine Temp 115 CRITICAL")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRoutingExhausted)
	assert.Equal(t, KindRoutingExhausted, ErrorKind(err))
	require.NotNil(t, res)
	assert.Equal(t, 5, res.Steps)
	assert.EqualValues(t, 5, calls.Load())

	th, err := store.Load(ctx, "t-loop")
	require.NoError(t, err)
	assert.Len(t, th.Turns, 6)
}

func TestExecutor_WorkerUnavailable(t *testing.T) {
	ctx := context.Background()
	worker := &MockWorker{}
	worker.On("Run", mock.Anything, mock.MatchedBy(func(req WorkerRequest) bool {
		return req.Node == NodeIntake && req.ThreadID == "t-down" &&
			req.Profile.Allows("fetch_telematics_data") && len(req.Transcript) == 1
	})).Return(nil, errors.New("dial tcp 127.0.0.1:11434: connection refused"))

	exec, store := newTestExecutor(t, map[Node]Worker{NodeIntake: worker}, ExecutorOptions{})
	_, err := exec.SubmitTurn(ctx, "t-down", "Check my car")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkerUnavailable)
	assert.Equal(t, KindWorkerUnavailable, ErrorKind(err))

	var werr *WorkerError
	require.ErrorAs(t, err, &werr)
	assert.Equal(t, NodeIntake, werr.Node)

	th, err := store.Load(ctx, "t-down")
	require.NoError(t, err)
	assert.Len(t, th.Turns, 1)
	worker.AssertExpectations(t)
}

func TestExecutor_MalformedWorkerOutput(t *testing.T) {
	bad := WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
		return []transcript.Turn{
			transcript.AgentTurn("", transcript.ToolCall{ID: "c1", Name: "fetch_telematics_data"}),
		}, nil
	})
	exec, _ := newTestExecutor(t, map[Node]Worker{NodeIntake: bad}, ExecutorOptions{})

	_, err := exec.SubmitTurn(context.Background(), "t-bad", "Check my car")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedWorkerOutput)
	assert.NotErrorIs(t, err, ErrWorkerUnavailable)
	assert.Equal(t, KindMalformedOutput, ErrorKind(err))
}

func TestExecutor_UnansweredToolCallNotPersisted(t *testing.T) {
	orphan := WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
		return []transcript.Turn{
			transcript.AgentTurn("", transcript.ToolCall{ID: "c1", Name: "fetch_telematics_data"}),
			transcript.AgentTurn("Engine looks fine."),
		}, nil
	})
	exec, store := newTestExecutor(t, map[Node]Worker{NodeIntake: orphan}, ExecutorOptions{})
	ctx := context.Background()

	_, err := exec.SubmitTurn(ctx, "t-orphan", "Check my car")
	require.ErrorIs(t, err, ErrMalformedWorkerOutput)

	th, err := store.Load(ctx, "t-orphan")
	require.NoError(t, err)
	require.Len(t, th.Turns, 1)
	assert.Equal(t, transcript.RoleHuman, th.Turns[0].Role)
}

func TestExecutor_MissingWorker(t *testing.T) {
	exec, _ := newTestExecutor(t, map[Node]Worker{}, ExecutorOptions{})

	_, err := exec.SubmitTurn(context.Background(), "t-none", "Check my car")
	assert.ErrorIs(t, err, ErrNoWorker)
	assert.Equal(t, KindWorkerUnavailable, ErrorKind(err))
}

func TestExecutor_WorkerTimeout(t *testing.T) {
	slow := WorkerFunc(func(ctx context.Context, _ WorkerRequest) ([]transcript.Turn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	exec, _ := newTestExecutor(t, map[Node]Worker{NodeIntake: slow}, ExecutorOptions{WorkerTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := exec.SubmitTurn(context.Background(), "t-slow", "Check my car")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrWorkerUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecutor_InvalidInput(t *testing.T) {
	exec, store := newTestExecutor(t, pipelineWorkers(false), ExecutorOptions{})

	_, err := exec.SubmitTurn(context.Background(), "bad id!", "Check my car")
	assert.ErrorIs(t, err, transcript.ErrInvalidThreadID)
	assert.Equal(t, KindInvalidInput, ErrorKind(err))

	_, err = exec.SubmitTurn(context.Background(), "t-empty", "")
	assert.ErrorIs(t, err, transcript.ErrInvalidTurn)

	assert.Zero(t, store.Len())
}

func TestExecutor_SerializesRunsPerThread(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	worker := WorkerFunc(func(context.Context, WorkerRequest) ([]transcript.Turn, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return finalTurn("no markers"), nil
	})
	exec, store := newTestExecutor(t, map[Node]Worker{NodeIntake: worker}, ExecutorOptions{})

	const runs = 10
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.SubmitTurn(context.Background(), "t-shared", "Check my car")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())
	th, err := store.Load(context.Background(), "t-shared")
	require.NoError(t, err)
	require.Len(t, th.Turns, 2*runs)
	for i := 0; i < len(th.Turns); i += 2 {
		assert.Equal(t, transcript.RoleHuman, th.Turns[i].Role)
		assert.Equal(t, transcript.RoleAgent, th.Turns[i+1].Role)
	}
}

func TestExecutor_Spans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	exec, _ := newTestExecutor(t, pipelineWorkers(false), ExecutorOptions{Tracer: tel.Tracer("test")})

	_, err := exec.SubmitTurn(context.Background(), "t-span", "Check Vehicle-123")
	require.NoError(t, err)

	tel.AssertSpanExists(t, "orchestrator.Run")
	tel.AssertSpanExists(t, "orchestrator.worker")
	tel.AssertSpanAttribute(t, "orchestrator.worker", "node", "intake")
	tel.AssertSpanAttribute(t, "orchestrator.Run", "thread.id", "t-span")
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "", ErrorKind(nil))
	assert.Equal(t, KindPersistence, ErrorKind(errors.Join(transcript.ErrPersistence, errors.New("kv down"))))
	assert.Equal(t, KindCanceled, ErrorKind(context.Canceled))
	assert.Equal(t, KindTimeout, ErrorKind(context.DeadlineExceeded))
	assert.Equal(t, KindInternal, ErrorKind(errors.New("boom")))
}
