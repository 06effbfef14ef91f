package model

import "time"

type TeacherRole string

const (
	RoleTeacher TeacherRole = "TEACHER"
	RoleAdmin   TeacherRole = "ADMIN"
)

const TeacherStatusActive = "ACTIVE"

// swagger:model Teacher
type Teacher struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Email     string      `gorm:"size:255;uniqueIndex;not null" json:"email"`
	FullName  string      `gorm:"column:full_name;size:255;not null" json:"fullName"`
	Role      TeacherRole `gorm:"size:20;not null;default:'TEACHER'" json:"role"`
	Status    string      `gorm:"size:20;not null;default:'ACTIVE'" json:"status"`
	CreatedAt time.Time   `json:"createdAt"`

	ScenarioAttempts []ScenarioAttempt `gorm:"foreignKey:TeacherID" json:"scenarioAttempts,omitempty"`
}

func (Teacher) TableName() string {
	return "teachers_hiring"
}

func (t *Teacher) IsActive() bool {
	return t.Status == TeacherStatusActive
}
