package service

import (
	"context"
	"errors"
	"fmt"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"teacher_scenario_backend/pkg/logger"
	"teacher_scenario_backend/pkg/monitoring"
	"teacher_scenario_backend/pkg/tracing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// AttemptLedger 尝试记录的只追加存储
type AttemptLedger interface {
	NextAttemptNumber(ctx context.Context, teacherID uint, scenarioID string) (int, error)
	// Append 编号冲突时返回 util.ErrAttemptConflict
	Append(ctx context.Context, attempt *model.ScenarioAttempt) error
	ListByTeacher(ctx context.Context, teacherID uint) ([]model.ScenarioAttempt, error)
	CountCompleted(ctx context.Context, teacherID uint, scenarioID string) (int, error)
}

type EvaluationResolver interface {
	Resolve(ctx context.Context, sessionID string) (*EvaluationSnapshot, error)
}

type SnapshotArchiver interface {
	Archive(ctx context.Context, attempt *model.ScenarioAttempt, snapshot *EvaluationSnapshot) error
}

type EventPublisher interface {
	PublishAttemptRecorded(ctx context.Context, event AttemptRecordedEvent) error
}

// SubmissionLocker 返回的 release 必须调用
type SubmissionLocker interface {
	Acquire(ctx context.Context, teacherID uint, scenarioID string) (release func(), err error)
}

// AccessDeniedError 进阶规则拒绝访问，Reason 对用户可见
type AccessDeniedError struct {
	ScenarioID string
	Reason     string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access to scenario %q denied: %s", e.ScenarioID, e.Reason)
}

func (e *AccessDeniedError) Unwrap() error { return util.ErrPermissionDenied }

type SubmitScenarioRequest struct {
	SessionID  string   `json:"sessionId" binding:"required"`
	ScenarioID string   `json:"scenarioId" binding:"required"`
	Score      *float64 `json:"score" binding:"omitempty,min=0,max=100"`
}

type SubmissionResult struct {
	ScenarioID           string         `json:"scenarioId"`
	Status               ProgressStatus `json:"status"`
	Score                *int           `json:"score"`
	AverageScore         *int           `json:"averageScore"`
	CompletedAttempts    int            `json:"completedAttempts"`
	RequiredAttempts     int            `json:"requiredAttempts"`
	CurrentAttemptNumber int            `json:"currentAttemptNumber"`
	JustCompleted        bool           `json:"justCompleted"`
	EvaluationOutcome    string         `json:"evaluationOutcome"`
}

// ScenarioView 情景展示数据和当前进度合并
type ScenarioView struct {
	model.ScenarioDefinition
	Status            ProgressStatus `json:"status"`
	Score             *int           `json:"score"`
	CompletedAttempts int            `json:"completedAttempts"`
	IsLocked          bool           `json:"isLocked"`
}

type ScenarioService struct {
	gate      *ProgressionGate
	ledger    AttemptLedger
	resolver  EvaluationResolver
	extractor ScoreExtractor
	archiver  SnapshotArchiver
	events    EventPublisher
	locker    SubmissionLocker

	fallbackToClientScore bool
}

type ScenarioServiceOption func(*ScenarioService)

func WithArchiver(a SnapshotArchiver) ScenarioServiceOption {
	return func(s *ScenarioService) { s.archiver = a }
}

func WithEventPublisher(p EventPublisher) ScenarioServiceOption {
	return func(s *ScenarioService) { s.events = p }
}

func WithSubmissionLocker(l SubmissionLocker) ScenarioServiceOption {
	return func(s *ScenarioService) { s.locker = l }
}

func WithClientScoreFallback(enabled bool) ScenarioServiceOption {
	return func(s *ScenarioService) { s.fallbackToClientScore = enabled }
}

func NewScenarioService(gate *ProgressionGate, ledger AttemptLedger, resolver EvaluationResolver, opts ...ScenarioServiceOption) *ScenarioService {
	s := &ScenarioService{
		gate:                  gate,
		ledger:                ledger,
		resolver:              resolver,
		events:                NopEventPublisher{},
		locker:                NopSubmissionLocker{},
		fallbackToClientScore: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ScenarioService) Catalog() *ScenarioCatalog {
	return s.gate.Catalog()
}

// Progress 按目录顺序返回，不访问评估服务
func (s *ScenarioService) Progress(ctx context.Context, teacherID uint) ([]ScenarioProgress, error) {
	history, err := s.ledger.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return s.gate.OrderedProgress(history), nil
}

func (s *ScenarioService) ListScenarios(ctx context.Context, teacherID uint) ([]ScenarioView, error) {
	progress, err := s.Progress(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]ScenarioProgress, len(progress))
	for _, p := range progress {
		byID[p.ScenarioID] = p
	}

	defs := s.gate.Catalog().Definitions()
	views := make([]ScenarioView, 0, len(defs))
	for _, d := range defs {
		p := byID[d.ID]
		views = append(views, ScenarioView{
			ScenarioDefinition: d,
			Status:             p.Status,
			Score:              p.AverageScore,
			CompletedAttempts:  p.CompletedAttempts,
			IsLocked:           p.IsLocked,
		})
	}
	return views, nil
}

func (s *ScenarioService) Sequence(ctx context.Context, teacherID uint) ([]SequenceStepState, error) {
	history, err := s.ledger.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	return s.gate.SequenceState(history), nil
}

// CheckAccess 未知情景返回 canAccess=false，不报错
func (s *ScenarioService) CheckAccess(ctx context.Context, teacherID uint, scenarioID string) (AccessDecision, error) {
	history, err := s.ledger.ListByTeacher(ctx, teacherID)
	if err != nil {
		return AccessDecision{}, err
	}
	return s.gate.CanAccess(scenarioID, history), nil
}

// Submit 记录一次新的尝试。评估服务的任何失败都不会中断提交，
// 只有访问拒绝、编号冲突和 ctx 取消会返回错误。
func (s *ScenarioService) Submit(ctx context.Context, teacherID uint, req SubmitScenarioRequest) (*SubmissionResult, error) {
	ctx, span := tracing.Tracer.Start(ctx, "scenario.Submit")
	defer span.End()
	span.SetAttributes(
		attribute.Int("teacher.id", int(teacherID)),
		attribute.String("scenario.id", req.ScenarioID),
	)

	result, err := s.submit(ctx, teacherID, req)
	monitoring.SubmissionsTotal.WithLabelValues(submissionLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return result, err
}

func (s *ScenarioService) submit(ctx context.Context, teacherID uint, req SubmitScenarioRequest) (*SubmissionResult, error) {
	if _, ok := s.gate.Catalog().Lookup(req.ScenarioID); !ok {
		return nil, util.ErrScenarioNotFound
	}
	if req.Score != nil && !ValidScore(*req.Score) {
		return nil, util.ErrInvalidScore
	}
	log := logger.Log.With(
		zap.Uint("teacher_id", teacherID),
		zap.String("scenario_id", req.ScenarioID),
		zap.String("session_id", req.SessionID),
	)

	history, err := s.ledger.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if d := s.gate.CanAccess(req.ScenarioID, history); !d.Allowed {
		return nil, &AccessDeniedError{ScenarioID: req.ScenarioID, Reason: d.Reason}
	}
	before := s.gate.ComputeProgress(history)[req.ScenarioID]

	outcome := "unavailable"
	snapshot, err := s.resolver.Resolve(ctx, req.SessionID)
	switch {
	case err == nil:
		outcome = snapshot.Outcome.String()
	case errors.Is(err, ErrSessionNotFound):
		outcome = PollNotFound.String()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// 会话不存在：不保存 sessionId，使用客户端分数
		log.Warn("evaluation unavailable, falling back", zap.Error(err))
		snapshot = nil
	}

	extracted := s.extractor.Extract(snapshot)
	score := extracted.Score
	if score != nil && !ValidScore(*score) {
		log.Warn("evaluator score out of range, ignored", zap.Float64("score", *score))
		score = nil
	}
	if score == nil && s.fallbackToClientScore {
		score = req.Score
	}

	release, err := s.locker.Acquire(ctx, teacherID, req.ScenarioID)
	if err != nil {
		return nil, err
	}
	defer release()

	attempt, err := s.appendAttempt(ctx, teacherID, req.ScenarioID, snapshot, extracted, score)
	if err != nil {
		return nil, err
	}
	log.Info("scenario attempt recorded",
		zap.Int("attempt_number", attempt.AttemptNumber),
		zap.Bool("evaluated", extracted.Score != nil),
	)

	history, err = s.ledger.ListByTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	after := s.gate.ComputeProgress(history)[req.ScenarioID]
	justCompleted := before.Status != ProgressCompleted && after.Status == ProgressCompleted

	s.afterAppend(ctx, log, attempt, snapshot, after, justCompleted)

	return &SubmissionResult{
		ScenarioID:           req.ScenarioID,
		Status:               after.Status,
		Score:                attempt.Score,
		AverageScore:         after.AverageScore,
		CompletedAttempts:    after.CompletedAttempts,
		RequiredAttempts:     after.RequiredAttempts,
		CurrentAttemptNumber: attempt.AttemptNumber,
		JustCompleted:        justCompleted,
		EvaluationOutcome:    outcome,
	}, nil
}

// appendAttempt 锁内重新检查规则；编号冲突时重新取号重试一次
func (s *ScenarioService) appendAttempt(ctx context.Context, teacherID uint, scenarioID string, snapshot *EvaluationSnapshot, extracted ScoreResult, score *float64) (*model.ScenarioAttempt, error) {
	var lastErr error
	for try := 0; try < 2; try++ {
		history, err := s.ledger.ListByTeacher(ctx, teacherID)
		if err != nil {
			return nil, err
		}
		if d := s.gate.CanAccess(scenarioID, history); !d.Allowed {
			return nil, &AccessDeniedError{ScenarioID: scenarioID, Reason: d.Reason}
		}

		next, err := s.ledger.NextAttemptNumber(ctx, teacherID, scenarioID)
		if err != nil {
			return nil, err
		}
		attempt := &model.ScenarioAttempt{
			TeacherID:     teacherID,
			ScenarioID:    scenarioID,
			AttemptNumber: next,
			Status:        model.AttemptCompleted,
			Score:         RoundScore(score),
		}
		if snapshot != nil && snapshot.Confirmed {
			attempt.SessionID = util.StringPtr(snapshot.SessionID)
		}
		if extracted.Evaluation != nil {
			attempt.Evaluation = datatypes.JSONMap(extracted.Evaluation)
		}

		err = s.ledger.Append(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if !errors.Is(err, util.ErrAttemptConflict) {
			return nil, err
		}
		lastErr = err
		logger.Log.Warn("attempt number conflict, retrying",
			zap.Uint("teacher_id", teacherID),
			zap.String("scenario_id", scenarioID),
			zap.Int("attempt_number", next),
		)
	}
	return nil, lastErr
}

// afterAppend 归档和事件都是尽力而为
func (s *ScenarioService) afterAppend(ctx context.Context, log *zap.Logger, attempt *model.ScenarioAttempt, snapshot *EvaluationSnapshot, progress ScenarioProgress, justCompleted bool) {
	if s.archiver != nil && snapshot != nil && snapshot.Confirmed {
		if err := s.archiver.Archive(ctx, attempt, snapshot); err != nil {
			log.Warn("failed to archive evaluation snapshot", zap.Error(err))
		}
	}
	if err := s.events.PublishAttemptRecorded(ctx, NewAttemptRecordedEvent(attempt, progress, justCompleted)); err != nil {
		log.Warn("failed to publish attempt event", zap.Error(err))
	}
}

func submissionLabel(err error) string {
	var denied *AccessDeniedError
	switch {
	case err == nil:
		return "recorded"
	case errors.As(err, &denied):
		return "denied"
	case errors.Is(err, util.ErrAttemptConflict), errors.Is(err, util.ErrSubmissionInFlight):
		return "conflict"
	case errors.Is(err, util.ErrScenarioNotFound):
		return "unknown_scenario"
	case errors.Is(err, util.ErrInvalidScore):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
