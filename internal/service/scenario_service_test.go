package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLedger struct {
	mu        sync.Mutex
	attempts  []model.ScenarioAttempt
	conflicts int // 接下来的 Append 返回冲突的次数
	listErr   error
}

func (l *memoryLedger) NextAttemptNumber(ctx context.Context, teacherID uint, scenarioID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	max := 0
	for _, a := range l.attempts {
		if a.TeacherID == teacherID && a.ScenarioID == scenarioID && a.AttemptNumber > max {
			max = a.AttemptNumber
		}
	}
	return max + 1, nil
}

func (l *memoryLedger) Append(ctx context.Context, attempt *model.ScenarioAttempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conflicts > 0 {
		l.conflicts--
		return util.ErrAttemptConflict
	}
	for _, a := range l.attempts {
		if a.TeacherID == attempt.TeacherID && a.ScenarioID == attempt.ScenarioID && a.AttemptNumber == attempt.AttemptNumber {
			return util.ErrAttemptConflict
		}
	}
	attempt.ID = uint(len(l.attempts) + 1)
	l.attempts = append(l.attempts, *attempt)
	return nil
}

func (l *memoryLedger) ListByTeacher(ctx context.Context, teacherID uint) ([]model.ScenarioAttempt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listErr != nil {
		return nil, l.listErr
	}
	var out []model.ScenarioAttempt
	for _, a := range l.attempts {
		if a.TeacherID == teacherID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScenarioID != out[j].ScenarioID {
			return out[i].ScenarioID < out[j].ScenarioID
		}
		return out[i].AttemptNumber < out[j].AttemptNumber
	})
	return out, nil
}

func (l *memoryLedger) CountCompleted(ctx context.Context, teacherID uint, scenarioID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, a := range l.attempts {
		if a.TeacherID == teacherID && a.ScenarioID == scenarioID && a.IsCompleted() {
			n++
		}
	}
	return n, nil
}

type stubResolver struct {
	snapshot *EvaluationSnapshot
	err      error
	calls    int
}

func (r *stubResolver) Resolve(ctx context.Context, sessionID string) (*EvaluationSnapshot, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	s := *r.snapshot
	s.SessionID = sessionID
	return &s, nil
}

type recordingArchiver struct {
	archived []*model.ScenarioAttempt
	err      error
}

func (a *recordingArchiver) Archive(ctx context.Context, attempt *model.ScenarioAttempt, snapshot *EvaluationSnapshot) error {
	a.archived = append(a.archived, attempt)
	return a.err
}

type recordingPublisher struct {
	events []AttemptRecordedEvent
	err    error
}

func (p *recordingPublisher) PublishAttemptRecorded(ctx context.Context, e AttemptRecordedEvent) error {
	p.events = append(p.events, e)
	return p.err
}

type busyLocker struct{}

func (busyLocker) Acquire(context.Context, uint, string) (func(), error) {
	return nil, util.ErrSubmissionInFlight
}

func evaluated(results map[string]interface{}) *stubResolver {
	return &stubResolver{snapshot: &EvaluationSnapshot{
		Status:        "completed",
		RawEvaluation: results,
		Raw:           []byte(`{"id":"x"}`),
		Confirmed:     true,
		Outcome:       PollDone,
	}}
}

func newTestScenarioService(ledger AttemptLedger, resolver EvaluationResolver, opts ...ScenarioServiceOption) *ScenarioService {
	return NewScenarioService(NewProgressionGate(DefaultScenarioCatalog()), ledger, resolver, opts...)
}

func TestSubmitRecordsEvaluatedAttempt(t *testing.T) {
	ledger := &memoryLedger{}
	archiver := &recordingArchiver{}
	events := &recordingPublisher{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.6, "transcript": "secret"}),
		WithArchiver(archiver), WithEventPublisher(events))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "sess-1", ScenarioID: "1", Score: floatPtr(3)})
	require.NoError(t, err)

	assert.Equal(t, "1", res.ScenarioID)
	assert.Equal(t, 1, res.CurrentAttemptNumber)
	require.NotNil(t, res.Score)
	assert.Equal(t, 8, *res.Score)
	assert.Equal(t, 1, res.CompletedAttempts)
	assert.Equal(t, 2, res.RequiredAttempts)
	assert.Equal(t, ProgressInProgress, res.Status)
	assert.False(t, res.JustCompleted)
	assert.Equal(t, "done", res.EvaluationOutcome)

	require.Len(t, ledger.attempts, 1)
	stored := ledger.attempts[0]
	assert.Equal(t, model.AttemptCompleted, stored.Status)
	require.NotNil(t, stored.SessionID)
	assert.Equal(t, "sess-1", *stored.SessionID)
	assert.NotContains(t, stored.Evaluation, "transcript")

	assert.Len(t, archiver.archived, 1)
	require.Len(t, events.events, 1)
	assert.Equal(t, 1, events.events[0].AttemptNumber)
}

func TestSubmitSessionNotFoundFallsBackToClientScore(t *testing.T) {
	ledger := &memoryLedger{}
	archiver := &recordingArchiver{}
	svc := newTestScenarioService(ledger, &stubResolver{err: ErrSessionNotFound}, WithArchiver(archiver))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "ghost", ScenarioID: "1", Score: floatPtr(6.4)})
	require.NoError(t, err)

	require.NotNil(t, res.Score)
	assert.Equal(t, 6, *res.Score)
	assert.Equal(t, "not_found", res.EvaluationOutcome)

	stored := ledger.attempts[0]
	assert.Nil(t, stored.SessionID)
	assert.Nil(t, stored.Evaluation)
	assert.Empty(t, archiver.archived)
}

func TestSubmitWithoutAnyScoreStoresNull(t *testing.T) {
	ledger := &memoryLedger{}
	resolver := &stubResolver{snapshot: &EvaluationSnapshot{Status: "completed", Confirmed: true, Outcome: PollTimedOut}}
	svc := newTestScenarioService(ledger, resolver)

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	require.NoError(t, err)
	assert.Nil(t, res.Score)
	assert.Nil(t, res.AverageScore)
	// 会话存在但还没有评估结果时仍保存 sessionId
	require.NotNil(t, ledger.attempts[0].SessionID)
}

func TestSubmitClientScoreFallbackDisabled(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, &stubResolver{err: ErrSessionNotFound}, WithClientScoreFallback(false))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1", Score: floatPtr(9)})
	require.NoError(t, err)
	assert.Nil(t, res.Score)
}

func TestSubmitZeroScoreIsKept(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 0.0}))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1", Score: floatPtr(9)})
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	assert.Equal(t, 0, *res.Score)
}

func TestSubmitDeniedByGate(t *testing.T) {
	ledger := &memoryLedger{}
	resolver := evaluated(map[string]interface{}{"final_score": 5.0})
	svc := newTestScenarioService(ledger, resolver)

	_, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "4"})
	var denied *AccessDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Contains(t, denied.Reason, `"1"`)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	assert.Equal(t, 0, resolver.calls, "no evaluator call for a locked scenario")
	assert.Empty(t, ledger.attempts)
}

func TestSubmitUnknownScenario(t *testing.T) {
	resolver := evaluated(nil)
	svc := newTestScenarioService(&memoryLedger{}, resolver)

	_, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "99"})
	assert.ErrorIs(t, err, util.ErrScenarioNotFound)
	assert.Equal(t, 0, resolver.calls)
}

func TestSubmitAttemptNumbersIncrease(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}))
	ctx := context.Background()

	for _, id := range []string{"1", "4", "4"} {
		_, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: id})
		require.NoError(t, err)
	}

	res, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "4"})
	require.Error(t, err, "third attempt of 4 is over the limit")
	assert.Nil(t, res)

	n, err := ledger.CountCompleted(ctx, 1, "4")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	var numbers []int
	for _, a := range ledger.attempts {
		if a.ScenarioID == "4" {
			numbers = append(numbers, a.AttemptNumber)
		}
	}
	assert.Equal(t, []int{1, 2}, numbers)
}

func TestSubmitJustCompleted(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}))
	ctx := context.Background()

	_, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	require.NoError(t, err)
	first, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "4"})
	require.NoError(t, err)
	assert.False(t, first.JustCompleted)

	second, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "4"})
	require.NoError(t, err)
	assert.True(t, second.JustCompleted)
	assert.Equal(t, ProgressCompleted, second.Status)
	assert.Equal(t, 2, second.CurrentAttemptNumber)
}

func TestSubmitRetriesOnceOnConflict(t *testing.T) {
	ledger := &memoryLedger{conflicts: 1}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.CurrentAttemptNumber)

	ledger = &memoryLedger{conflicts: 2}
	svc = newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}))
	_, err = svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	assert.ErrorIs(t, err, util.ErrAttemptConflict)
}

func TestSubmitSideEffectFailuresDoNotFail(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}),
		WithArchiver(&recordingArchiver{err: errors.New("bucket missing")}),
		WithEventPublisher(&recordingPublisher{err: errors.New("broker down")}))

	_, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	require.NoError(t, err)
	assert.Len(t, ledger.attempts, 1)
}

func TestSubmitLockBusy(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 7.0}), WithSubmissionLocker(busyLocker{}))

	_, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	assert.ErrorIs(t, err, util.ErrSubmissionInFlight)
	assert.Empty(t, ledger.attempts)
}

func TestSubmitCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, &stubResolver{err: context.Canceled})

	_, err := svc.Submit(ctx, 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ledger.attempts)
}

func TestReadPaths(t *testing.T) {
	ledger := &memoryLedger{attempts: history("1", "4")}
	resolver := evaluated(nil)
	svc := newTestScenarioService(ledger, resolver)
	ctx := context.Background()

	views, err := svc.ListScenarios(ctx, 1)
	require.NoError(t, err)
	require.Len(t, views, 4)
	assert.Equal(t, "1", views[0].ID)
	assert.True(t, views[0].IsLocked)
	assert.Equal(t, "4", views[1].ID)
	assert.False(t, views[1].IsLocked)
	assert.Equal(t, 1, views[1].CompletedAttempts)

	decision, err := svc.CheckAccess(ctx, 1, "2")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	steps, err := svc.Sequence(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, steps, 8)

	progress, err := svc.Progress(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ProgressNotStarted, progress[0].Status)

	assert.Equal(t, 0, resolver.calls)
}

func TestReadPathLedgerError(t *testing.T) {
	svc := newTestScenarioService(&memoryLedger{listErr: errors.New("db down")}, evaluated(nil))
	_, err := svc.Progress(context.Background(), 1)
	assert.Error(t, err)
}

func TestSubmitRejectsOutOfRangeClientScore(t *testing.T) {
	for _, score := range []float64{-50, 100.5, 1e30} {
		ledger := &memoryLedger{}
		resolver := &stubResolver{err: ErrSessionNotFound}
		svc := newTestScenarioService(ledger, resolver)

		_, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1", Score: floatPtr(score)})
		assert.ErrorIs(t, err, util.ErrInvalidScore, "score %v", score)
		assert.Empty(t, ledger.attempts)
		assert.Zero(t, resolver.calls)
	}
}

func TestSubmitIgnoresOutOfRangeEvaluatorScore(t *testing.T) {
	ledger := &memoryLedger{}
	svc := newTestScenarioService(ledger, evaluated(map[string]interface{}{"final_score": 1e30}))

	res, err := svc.Submit(context.Background(), 1, SubmitScenarioRequest{SessionID: "s", ScenarioID: "1", Score: floatPtr(64)})
	require.NoError(t, err)
	require.NotNil(t, res.Score)
	assert.Equal(t, 64, *res.Score)
}
