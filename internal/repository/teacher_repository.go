package repository

import (
	"context"
	"errors"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"

	"gorm.io/gorm"
)

type TeacherRepository struct {
	DB *gorm.DB
}

func NewTeacherRepository(db *gorm.DB) *TeacherRepository {
	return &TeacherRepository{DB: db}
}

func (r *TeacherRepository) FindByEmail(ctx context.Context, email string) (*model.Teacher, error) {
	var teacher model.Teacher
	if err := r.DB.WithContext(ctx).Where("email = ?", email).First(&teacher).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTeacherNotFound
		}
		return nil, err
	}
	return &teacher, nil
}

// ListWithAttempts 管理端列表，尝试记录按情景和编号排序
func (r *TeacherRepository) ListWithAttempts(ctx context.Context) ([]model.Teacher, error) {
	var teachers []model.Teacher
	err := r.DB.WithContext(ctx).
		Preload("ScenarioAttempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("scenario_id ASC").Order("attempt_number ASC")
		}).
		Order("created_at DESC").
		Find(&teachers).Error
	return teachers, err
}

func (r *TeacherRepository) FindWithAttempts(ctx context.Context, id uint) (*model.Teacher, error) {
	var teacher model.Teacher
	err := r.DB.WithContext(ctx).
		Preload("ScenarioAttempts", func(db *gorm.DB) *gorm.DB {
			return db.Order("scenario_id ASC").Order("attempt_number ASC")
		}).
		First(&teacher, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, util.ErrTeacherNotFound
		}
		return nil, err
	}
	return &teacher, nil
}
