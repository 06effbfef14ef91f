package model

import (
	"gorm.io/datatypes"
)

type AttemptStatus string

const (
	AttemptNotStarted AttemptStatus = "NOT_STARTED"
	AttemptCompleted  AttemptStatus = "COMPLETED"
)

// ScenarioAttempt 一次情景练习提交。记录只创建不修改，
// (teacher_id, scenario_id, attempt_number) 唯一。
// swagger:model ScenarioAttempt
type ScenarioAttempt struct {
	BaseModel

	TeacherID     uint              `gorm:"not null;uniqueIndex:idx_teacher_scenario_attempt,priority:1" json:"teacherId"`
	ScenarioID    string            `gorm:"size:50;not null;uniqueIndex:idx_teacher_scenario_attempt,priority:2" json:"scenarioId"`
	AttemptNumber int               `gorm:"not null;default:1;uniqueIndex:idx_teacher_scenario_attempt,priority:3" json:"attemptNumber"`
	Status        AttemptStatus     `gorm:"size:20;not null;default:'NOT_STARTED'" json:"status"`
	Score         *int              `json:"score"`
	SessionID     *string           `gorm:"size:255" json:"sessionId"`
	Evaluation    datatypes.JSONMap `json:"evaluation"`
}

func (ScenarioAttempt) TableName() string {
	return "teacher_aiscenario_attempts"
}

func (a *ScenarioAttempt) IsCompleted() bool {
	return a.Status == AttemptCompleted
}
