package repository

import (
	"context"
	"fmt"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		// 测试数据不预先创建教师
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Teacher{}, &model.ScenarioAttempt{}))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func appendCompleted(t *testing.T, repo *ScenarioAttemptRepository, teacherID uint, scenarioID string) *model.ScenarioAttempt {
	t.Helper()
	ctx := context.Background()
	n, err := repo.NextAttemptNumber(ctx, teacherID, scenarioID)
	require.NoError(t, err)
	a := &model.ScenarioAttempt{
		TeacherID:     teacherID,
		ScenarioID:    scenarioID,
		AttemptNumber: n,
		Status:        model.AttemptCompleted,
		Score:         util.IntPtr(n * 10),
	}
	require.NoError(t, repo.Append(ctx, a))
	return a
}

func TestNextAttemptNumber(t *testing.T) {
	repo := NewScenarioAttemptRepository(newTestDB(t))
	ctx := context.Background()

	n, err := repo.NextAttemptNumber(ctx, 1, "1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	appendCompleted(t, repo, 1, "1")
	appendCompleted(t, repo, 2, "1")

	n, err = repo.NextAttemptNumber(ctx, 1, "1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = repo.NextAttemptNumber(ctx, 1, "4")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAppendDuplicateIsConflict(t *testing.T) {
	repo := NewScenarioAttemptRepository(newTestDB(t))
	ctx := context.Background()

	appendCompleted(t, repo, 1, "4")

	dup := &model.ScenarioAttempt{TeacherID: 1, ScenarioID: "4", AttemptNumber: 1, Status: model.AttemptCompleted}
	err := repo.Append(ctx, dup)
	assert.ErrorIs(t, err, util.ErrAttemptConflict)
}

func TestListByTeacherOrdering(t *testing.T) {
	repo := NewScenarioAttemptRepository(newTestDB(t))
	ctx := context.Background()

	appendCompleted(t, repo, 1, "4")
	appendCompleted(t, repo, 1, "1")
	appendCompleted(t, repo, 1, "4")
	appendCompleted(t, repo, 9, "1")

	list, err := repo.ListByTeacher(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "1", list[0].ScenarioID)
	assert.Equal(t, "4", list[1].ScenarioID)
	assert.Equal(t, 1, list[1].AttemptNumber)
	assert.Equal(t, 2, list[2].AttemptNumber)

	newest, err := repo.ListByTeacherAndScenario(ctx, 1, "4")
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, 2, newest[0].AttemptNumber)
}

func TestCountCompleted(t *testing.T) {
	db := newTestDB(t)
	repo := NewScenarioAttemptRepository(db)
	ctx := context.Background()

	appendCompleted(t, repo, 1, "2")
	require.NoError(t, repo.Append(ctx, &model.ScenarioAttempt{
		TeacherID: 1, ScenarioID: "2", AttemptNumber: 2, Status: model.AttemptNotStarted,
	}))

	n, err := repo.CountCompleted(ctx, 1, "2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEvaluationAndNullableColumnsRoundTrip(t *testing.T) {
	repo := NewScenarioAttemptRepository(newTestDB(t))
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, &model.ScenarioAttempt{
		TeacherID:     1,
		ScenarioID:    "1",
		AttemptNumber: 1,
		Status:        model.AttemptCompleted,
		Score:         util.IntPtr(0),
		SessionID:     util.StringPtr("sess-1"),
		Evaluation:    map[string]interface{}{"final_score": 0.0, "status": "completed"},
	}))
	require.NoError(t, repo.Append(ctx, &model.ScenarioAttempt{
		TeacherID: 1, ScenarioID: "4", AttemptNumber: 1, Status: model.AttemptCompleted,
	}))

	list, err := repo.ListByTeacher(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NotNil(t, list[0].Score)
	assert.Equal(t, 0, *list[0].Score)
	assert.Equal(t, "sess-1", *list[0].SessionID)
	assert.Equal(t, "completed", list[0].Evaluation["status"])

	assert.Nil(t, list[1].Score)
	assert.Nil(t, list[1].SessionID)
}
