package controller

import (
	"errors"
	"strconv"
	"teacher_scenario_backend/internal/service"
	"teacher_scenario_backend/internal/util"

	"github.com/gin-gonic/gin"
)

// TeacherController 管理端接口
type TeacherController struct {
	TeacherService *service.TeacherService
}

func NewTeacherController(teacherService *service.TeacherService) *TeacherController {
	return &TeacherController{TeacherService: teacherService}
}

func parseTeacherID(ctx *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil || id == 0 {
		util.BadRequest(ctx, "invalid teacher id")
		return 0, false
	}
	return uint(id), true
}

func (c *TeacherController) writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, util.ErrTeacherNotFound), errors.Is(err, util.ErrScenarioNotFound):
		util.NotFoundWithMessage(ctx, err.Error())
	default:
		util.LogInternalError(ctx, err)
	}
}

// ListTeachers godoc
// @Summary 教师列表
// @Tags 管理
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.TeacherOverview}
// @Failure 403 {object} util.Response
// @Router /api/teachers [get]
func (c *TeacherController) ListTeachers(ctx *gin.Context) {
	teachers, err := c.TeacherService.ListTeachers(ctx.Request.Context())
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	util.Success(ctx, teachers)
}

// GetTeacher godoc
// @Summary 教师详情
// @Tags 管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "教师ID"
// @Success 200 {object} util.Response{data=service.TeacherOverview}
// @Failure 404 {object} util.Response
// @Router /api/teachers/{id} [get]
func (c *TeacherController) GetTeacher(ctx *gin.Context) {
	id, ok := parseTeacherID(ctx)
	if !ok {
		return
	}
	teacher, err := c.TeacherService.GetTeacher(ctx.Request.Context(), id)
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	util.Success(ctx, teacher)
}

// GetTeacherProgress godoc
// @Summary 教师情景进度
// @Tags 管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "教师ID"
// @Success 200 {object} util.Response{data=[]service.ScenarioProgress}
// @Router /api/teachers/{id}/progress [get]
func (c *TeacherController) GetTeacherProgress(ctx *gin.Context) {
	id, ok := parseTeacherID(ctx)
	if !ok {
		return
	}
	progress, err := c.TeacherService.Progress(ctx.Request.Context(), id)
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

// GetScenarioAttempts godoc
// @Summary 教师某个情景的尝试记录
// @Tags 管理
// @Produce json
// @Security ApiKeyAuth
// @Param id path int true "教师ID"
// @Param scenarioId path string true "情景ID"
// @Success 200 {object} util.Response{data=[]model.ScenarioAttempt}
// @Router /api/teachers/{id}/scenarios/{scenarioId} [get]
func (c *TeacherController) GetScenarioAttempts(ctx *gin.Context) {
	id, ok := parseTeacherID(ctx)
	if !ok {
		return
	}
	attempts, err := c.TeacherService.ScenarioAttempts(ctx.Request.Context(), id, ctx.Param("scenarioId"))
	if err != nil {
		c.writeError(ctx, err)
		return
	}
	util.Success(ctx, attempts)
}
