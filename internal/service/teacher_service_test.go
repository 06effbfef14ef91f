package service

import (
	"context"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTeacherStore struct {
	teachers []model.Teacher
}

func (s *fakeTeacherStore) ListWithAttempts(ctx context.Context) ([]model.Teacher, error) {
	return s.teachers, nil
}

func (s *fakeTeacherStore) FindWithAttempts(ctx context.Context, id uint) (*model.Teacher, error) {
	for i := range s.teachers {
		if s.teachers[i].ID == id {
			return &s.teachers[i], nil
		}
	}
	return nil, util.ErrTeacherNotFound
}

type fakeAttemptLister struct {
	calls int
}

func (l *fakeAttemptLister) ListByTeacherAndScenario(ctx context.Context, teacherID uint, scenarioID string) ([]model.ScenarioAttempt, error) {
	l.calls++
	return []model.ScenarioAttempt{completedAttempt(scenarioID, 2, nil), completedAttempt(scenarioID, 1, nil)}, nil
}

func newTeacherServiceForTest() (*TeacherService, *fakeAttemptLister) {
	store := &fakeTeacherStore{teachers: []model.Teacher{
		{ID: 1, Email: "a@school.test", Status: model.TeacherStatusActive, ScenarioAttempts: history("1", "4")},
		{ID: 2, Email: "b@school.test", Status: model.TeacherStatusActive},
	}}
	lister := &fakeAttemptLister{}
	return NewTeacherService(store, lister, NewProgressionGate(DefaultScenarioCatalog())), lister
}

func TestTeacherServiceOverview(t *testing.T) {
	svc, _ := newTeacherServiceForTest()
	ctx := context.Background()

	list, err := svc.ListTeachers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Len(t, list[0].Progress, 4)
	assert.Equal(t, "1", list[0].Progress[0].ScenarioID)
	assert.Equal(t, 1, list[0].Progress[0].CompletedAttempts)
	assert.Equal(t, ProgressInProgress, list[0].Progress[1].Status)
	assert.Equal(t, ProgressNotStarted, list[1].Progress[0].Status)

	one, err := svc.GetTeacher(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "b@school.test", one.Email)

	_, err = svc.GetTeacher(ctx, 99)
	assert.ErrorIs(t, err, util.ErrTeacherNotFound)

	progress, err := svc.Progress(ctx, 1)
	require.NoError(t, err)
	assert.False(t, progress[1].IsLocked)
}

func TestTeacherServiceScenarioAttempts(t *testing.T) {
	svc, lister := newTeacherServiceForTest()
	ctx := context.Background()

	attempts, err := svc.ScenarioAttempts(ctx, 1, "4")
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, 2, attempts[0].AttemptNumber)

	_, err = svc.ScenarioAttempts(ctx, 1, "9")
	assert.ErrorIs(t, err, util.ErrScenarioNotFound)

	_, err = svc.ScenarioAttempts(ctx, 99, "4")
	assert.ErrorIs(t, err, util.ErrTeacherNotFound)
	assert.Equal(t, 1, lister.calls)
}
