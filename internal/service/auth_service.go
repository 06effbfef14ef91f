package service

import (
	"context"
	"errors"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/internal/util"

	"golang.org/x/crypto/bcrypt"
)

type TeacherFinder interface {
	FindByEmail(ctx context.Context, email string) (*model.Teacher, error)
}

type LoginResult struct {
	Token   string         `json:"token"`
	Teacher *model.Teacher `json:"teacher"`
}

// AuthService 教师账号由招聘系统导入，没有个人密码，统一校验默认密码
type AuthService struct {
	Teachers TeacherFinder
	Cfg      *config.Config
}

func NewAuthService(teachers TeacherFinder, cfg *config.Config) *AuthService {
	return &AuthService{
		Teachers: teachers,
		Cfg:      cfg,
	}
}

func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	if s.Cfg.Auth.DefaultPasswordHash == "" {
		return nil, util.ErrAuthNotConfigured
	}

	teacher, err := s.Teachers.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, util.ErrTeacherNotFound) {
			return nil, util.ErrInvalidCredentials
		}
		return nil, err
	}
	if !teacher.IsActive() {
		return nil, util.ErrTeacherInactive
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.Cfg.Auth.DefaultPasswordHash), []byte(password)); err != nil {
		return nil, util.ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(teacher, s.Cfg.JWT.Secret, s.Cfg.JWT.ExpireTime)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Teacher: teacher}, nil
}
