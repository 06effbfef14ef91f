package service

import (
	"context"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
)

type TeacherStore interface {
	ListWithAttempts(ctx context.Context) ([]model.Teacher, error)
	FindWithAttempts(ctx context.Context, id uint) (*model.Teacher, error)
}

type ScenarioAttemptLister interface {
	ListByTeacherAndScenario(ctx context.Context, teacherID uint, scenarioID string) ([]model.ScenarioAttempt, error)
}

// TeacherOverview 管理端看到的教师及其进度
type TeacherOverview struct {
	model.Teacher
	Progress []ScenarioProgress `json:"progress"`
}

// TeacherService 管理端只读查询
type TeacherService struct {
	teachers TeacherStore
	attempts ScenarioAttemptLister
	gate     *ProgressionGate
}

func NewTeacherService(teachers TeacherStore, attempts ScenarioAttemptLister, gate *ProgressionGate) *TeacherService {
	return &TeacherService{teachers: teachers, attempts: attempts, gate: gate}
}

func (s *TeacherService) overview(t model.Teacher) TeacherOverview {
	return TeacherOverview{
		Teacher:  t,
		Progress: s.gate.OrderedProgress(t.ScenarioAttempts),
	}
}

func (s *TeacherService) ListTeachers(ctx context.Context) ([]TeacherOverview, error) {
	teachers, err := s.teachers.ListWithAttempts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]TeacherOverview, 0, len(teachers))
	for _, t := range teachers {
		out = append(out, s.overview(t))
	}
	return out, nil
}

func (s *TeacherService) GetTeacher(ctx context.Context, id uint) (*TeacherOverview, error) {
	t, err := s.teachers.FindWithAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	o := s.overview(*t)
	return &o, nil
}

func (s *TeacherService) Progress(ctx context.Context, id uint) ([]ScenarioProgress, error) {
	t, err := s.teachers.FindWithAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.gate.OrderedProgress(t.ScenarioAttempts), nil
}

// ScenarioAttempts 最新的尝试在前
func (s *TeacherService) ScenarioAttempts(ctx context.Context, id uint, scenarioID string) ([]model.ScenarioAttempt, error) {
	if _, ok := s.gate.Catalog().Lookup(scenarioID); !ok {
		return nil, util.ErrScenarioNotFound
	}
	if _, err := s.teachers.FindWithAttempts(ctx, id); err != nil {
		return nil, err
	}
	return s.attempts.ListByTeacherAndScenario(ctx, id, scenarioID)
}
