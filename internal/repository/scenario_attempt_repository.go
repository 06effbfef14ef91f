package repository

import (
	"context"
	"errors"
	"strings"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// MySQL ER_DUP_ENTRY
const mysqlDuplicateEntry = 1062

type ScenarioAttemptRepository struct {
	DB *gorm.DB
}

func NewScenarioAttemptRepository(db *gorm.DB) *ScenarioAttemptRepository {
	return &ScenarioAttemptRepository{DB: db}
}

// NextAttemptNumber 当前最大编号 + 1，没有记录时为 1
func (r *ScenarioAttemptRepository) NextAttemptNumber(ctx context.Context, teacherID uint, scenarioID string) (int, error) {
	var maxNumber int
	err := r.DB.WithContext(ctx).
		Model(&model.ScenarioAttempt{}).
		Where("teacher_id = ? AND scenario_id = ?", teacherID, scenarioID).
		Select("COALESCE(MAX(attempt_number), 0)").
		Scan(&maxNumber).Error
	if err != nil {
		return 0, err
	}
	return maxNumber + 1, nil
}

func (r *ScenarioAttemptRepository) Append(ctx context.Context, attempt *model.ScenarioAttempt) error {
	if err := r.DB.WithContext(ctx).Create(attempt).Error; err != nil {
		if isDuplicateKey(err) {
			return util.ErrAttemptConflict
		}
		return err
	}
	return nil
}

// ListByTeacher 按 scenario_id、attempt_number 排序
func (r *ScenarioAttemptRepository) ListByTeacher(ctx context.Context, teacherID uint) ([]model.ScenarioAttempt, error) {
	var attempts []model.ScenarioAttempt
	err := r.DB.WithContext(ctx).
		Where("teacher_id = ?", teacherID).
		Order("scenario_id ASC").
		Order("attempt_number ASC").
		Find(&attempts).Error
	return attempts, err
}

// ListByTeacherAndScenario 最新的在前
func (r *ScenarioAttemptRepository) ListByTeacherAndScenario(ctx context.Context, teacherID uint, scenarioID string) ([]model.ScenarioAttempt, error) {
	var attempts []model.ScenarioAttempt
	err := r.DB.WithContext(ctx).
		Where("teacher_id = ? AND scenario_id = ?", teacherID, scenarioID).
		Order("attempt_number DESC").
		Find(&attempts).Error
	return attempts, err
}

func (r *ScenarioAttemptRepository) CountCompleted(ctx context.Context, teacherID uint, scenarioID string) (int, error) {
	var count int64
	err := r.DB.WithContext(ctx).
		Model(&model.ScenarioAttempt{}).
		Where("teacher_id = ? AND scenario_id = ? AND status = ?", teacherID, scenarioID, model.AttemptCompleted).
		Count(&count).Error
	return int(count), err
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	// sqlite 未开启 TranslateError 时
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
