package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/pkg/logger"
	"teacher_scenario_backend/pkg/monitoring"
	"teacher_scenario_backend/pkg/tracing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Clock 轮询等待使用的计时器，测试中替换为立即返回的实现
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// PollPolicy 轮询策略，可通过配置热更新
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	TriggerOnce bool
}

func PollPolicyFromConfig(cfg config.PollConfig) PollPolicy {
	return PollPolicy{
		MaxAttempts: cfg.MaxAttempts,
		Interval:    cfg.Interval,
		TriggerOnce: cfg.TriggerOnce,
	}
}

type PollState int

const (
	PollFetching PollState = iota
	PollEvaluating
	PollTriggered
	PollWaiting
	PollDone
	PollTimedOut
	PollNotFound
)

func (s PollState) String() string {
	switch s {
	case PollFetching:
		return "fetching"
	case PollEvaluating:
		return "evaluating"
	case PollTriggered:
		return "triggered"
	case PollWaiting:
		return "waiting"
	case PollDone:
		return "done"
	case PollTimedOut:
		return "timed_out"
	case PollNotFound:
		return "not_found"
	}
	return "unknown"
}

// EvaluationSnapshot 评估服务对某个会话的当前视图
type EvaluationSnapshot struct {
	SessionID       string
	Status          string
	RawEvaluation   map[string]interface{}
	Transcript      string
	CompletedAt     string
	CreatedAt       string
	DurationSeconds float64
	Raw             []byte

	// Confirmed 至少有一次成功获取，说明会话确实存在
	Confirmed bool
	Outcome   PollState
	Fetches   int
	Triggers  int
}

// HasEvaluationSignal 评估结果中出现 overall_score / final_score / detailed_feedback 任意一项
func (s *EvaluationSnapshot) HasEvaluationSignal() bool {
	if s == nil {
		return false
	}
	return hasEvaluationSignal(s.RawEvaluation)
}

func hasEvaluationSignal(results map[string]interface{}) bool {
	if len(results) == 0 {
		return false
	}
	for _, key := range []string{"overall_score", "final_score", "detailed_feedback"} {
		if nonEmpty(results[key]) {
			return true
		}
	}
	return false
}

// nonEmpty 数值 0 视为有效
func nonEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case map[string]interface{}:
		return len(t) > 0
	case []interface{}:
		return len(t) > 0
	case bool:
		return t
	}
	return true
}

func snapshotFrom(sessionID string, s *EvaluationSession) *EvaluationSnapshot {
	return &EvaluationSnapshot{
		SessionID:       sessionID,
		Status:          s.Status,
		RawEvaluation:   s.EvaluationResults,
		Transcript:      s.TranscriptContent,
		CompletedAt:     s.CompletedAt,
		CreatedAt:       s.CreatedAt,
		DurationSeconds: s.Duration,
		Raw:             s.Raw,
		Confirmed:       true,
	}
}

type EvaluationPoller struct {
	client EvaluationClient
	clock  Clock

	mu     sync.RWMutex
	policy PollPolicy
}

type PollerOption func(*EvaluationPoller)

func WithClock(c Clock) PollerOption {
	return func(p *EvaluationPoller) { p.clock = c }
}

func NewEvaluationPoller(client EvaluationClient, policy PollPolicy, opts ...PollerOption) *EvaluationPoller {
	p := &EvaluationPoller{
		client: client,
		clock:  systemClock{},
		policy: normalizePolicy(policy),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func normalizePolicy(p PollPolicy) PollPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Interval < 0 {
		p.Interval = 0
	}
	return p
}

// SetPolicy 配置热更新时调用，只影响之后开始的轮询
func (p *EvaluationPoller) SetPolicy(policy PollPolicy) {
	p.mu.Lock()
	p.policy = normalizePolicy(policy)
	p.mu.Unlock()
}

func (p *EvaluationPoller) Policy() PollPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.policy
}

// pollRun 单次 Resolve 调用的状态
type pollRun struct {
	sessionID string
	policy    PollPolicy
	state     PollState
	fetches   int
	attempts  int
	triggers  int
	last      *EvaluationSnapshot
	lastErr   error
}

// Resolve 轮询直到出现评估结果、会话不存在或预算耗尽。
// 预算耗尽时再获取一次并返回能拿到的快照，不返回错误。
// 只有会话不存在（ErrSessionNotFound）和 ctx 取消会返回错误。
func (p *EvaluationPoller) Resolve(ctx context.Context, sessionID string) (*EvaluationSnapshot, error) {
	ctx, span := tracing.Tracer.Start(ctx, "evaluation.Resolve")
	defer span.End()

	run := &pollRun{sessionID: sessionID, policy: p.Policy(), state: PollFetching}
	log := logger.Log.With(zap.String("session_id", sessionID))

	for {
		switch run.state {
		case PollFetching:
			run.attempts++
			log.Debug("checking evaluation session",
				zap.Int("attempt", run.attempts),
				zap.Int("max_attempts", run.policy.MaxAttempts),
			)
			run.state = p.fetch(ctx, run)
			if err := ctx.Err(); err != nil {
				return nil, err
			}

		case PollEvaluating:
			switch {
			case run.last.HasEvaluationSignal():
				run.state = PollDone
			case p.shouldTrigger(run):
				run.state = PollTriggered
			default:
				run.state = PollWaiting
			}

		case PollTriggered:
			run.triggers++
			if err := p.client.TriggerAnalysis(ctx, sessionID); err != nil {
				log.Warn("failed to trigger analysis, continuing to poll", zap.Error(err))
			} else {
				log.Info("analysis triggered", zap.String("status", run.last.Status))
			}
			run.state = PollWaiting

		case PollWaiting:
			if run.attempts >= run.policy.MaxAttempts {
				run.state = PollTimedOut
				continue
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-p.clock.After(run.policy.Interval):
			}
			run.state = PollFetching

		case PollTimedOut:
			log.Info("max attempts reached, fetching final status", zap.Int("attempts", run.attempts))
			next := p.fetch(ctx, run)
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if next == PollNotFound {
				run.state = PollNotFound
				continue
			}
			return p.finish(span, run, log)

		case PollDone:
			return p.finish(span, run, log)

		case PollNotFound:
			log.Warn("session not found in evaluation service, stopping polling")
			p.record(span, run, PollNotFound)
			return nil, ErrSessionNotFound
		}
	}
}

// fetch 获取一次会话并返回下一状态
func (p *EvaluationPoller) fetch(ctx context.Context, run *pollRun) PollState {
	run.fetches++
	session, err := p.client.GetSession(ctx, run.sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return PollNotFound
		}
		run.lastErr = err
		logger.Log.Warn("evaluation fetch failed",
			zap.String("session_id", run.sessionID),
			zap.Int("attempt", run.attempts),
			zap.Error(err),
		)
		return PollWaiting
	}
	run.last = snapshotFrom(run.sessionID, session)
	return PollEvaluating
}

func (p *EvaluationPoller) shouldTrigger(run *pollRun) bool {
	if run.policy.TriggerOnce && run.triggers > 0 {
		return false
	}
	status := strings.ToLower(run.last.Status)
	return status == "completed" || status == "active"
}

func (p *EvaluationPoller) finish(span trace.Span, run *pollRun, log *zap.Logger) (*EvaluationSnapshot, error) {
	snap := run.last
	if snap == nil {
		// 从未成功获取过：会话是否存在无法确认
		snap = &EvaluationSnapshot{SessionID: run.sessionID}
	}
	if snap.HasEvaluationSignal() {
		snap.Outcome = PollDone
	} else {
		snap.Outcome = PollTimedOut
		log.Warn("no evaluation results after polling budget, returning available data",
			zap.Int("attempts", run.attempts),
			zap.NamedError("last_error", run.lastErr),
		)
	}
	snap.Fetches = run.fetches
	snap.Triggers = run.triggers
	p.record(span, run, snap.Outcome)
	return snap, nil
}

func (p *EvaluationPoller) record(span trace.Span, run *pollRun, outcome PollState) {
	span.SetAttributes(
		attribute.String("evaluation.outcome", outcome.String()),
		attribute.Int("evaluation.fetches", run.fetches),
		attribute.Int("evaluation.triggers", run.triggers),
	)
	monitoring.EvaluationPolls.WithLabelValues(outcome.String()).Inc()
	monitoring.EvaluationPollFetches.Observe(float64(run.fetches))
}
