package service

import (
	"context"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type teacherMap map[string]*model.Teacher

func (m teacherMap) FindByEmail(ctx context.Context, email string) (*model.Teacher, error) {
	t, ok := m[email]
	if !ok {
		return nil, util.ErrTeacherNotFound
	}
	return t, nil
}

func authConfig(t *testing.T, password string) *config.Config {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return &config.Config{
		JWT:  config.JWTConfig{Secret: "test-secret", ExpireTime: 24 * time.Hour},
		Auth: config.AuthConfig{DefaultPasswordHash: string(hash)},
	}
}

func TestLogin(t *testing.T) {
	teachers := teacherMap{
		"a@school.org": {ID: 3, Email: "a@school.org", Role: model.RoleTeacher, Status: model.TeacherStatusActive},
		"b@school.org": {ID: 4, Email: "b@school.org", Role: model.RoleTeacher, Status: "INACTIVE"},
	}
	cfg := authConfig(t, "welcome123")
	svc := NewAuthService(teachers, cfg)
	ctx := context.Background()

	res, err := svc.Login(ctx, "a@school.org", "welcome123")
	require.NoError(t, err)
	claims, err := util.ParseJWT(res.Token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, uint(3), claims.TeacherID)
	assert.Equal(t, model.RoleTeacher, claims.Role)

	_, err = svc.Login(ctx, "a@school.org", "wrong")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@school.org", "welcome123")
	assert.ErrorIs(t, err, util.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "b@school.org", "welcome123")
	assert.ErrorIs(t, err, util.ErrTeacherInactive)

	cfg.Auth.DefaultPasswordHash = ""
	_, err = svc.Login(ctx, "a@school.org", "welcome123")
	assert.ErrorIs(t, err, util.ErrAuthNotConfigured)
}
