package controller

import (
	"context"
	"errors"
	"teacher_scenario_backend/internal/service"
	"teacher_scenario_backend/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ScenarioController struct {
	ScenarioService *service.ScenarioService
}

func NewScenarioController(scenarioService *service.ScenarioService) *ScenarioController {
	return &ScenarioController{ScenarioService: scenarioService}
}

// ListScenarios godoc
// @Summary 情景列表
// @Description 按进阶链顺序返回情景及当前教师的进度
// @Tags 情景
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.ScenarioView}
// @Failure 401 {object} util.Response
// @Router /api/scenarios [get]
func (c *ScenarioController) ListScenarios(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	views, err := c.ScenarioService.ListScenarios(ctx.Request.Context(), claims.TeacherID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, views)
}

// GetProgress godoc
// @Summary 情景进度
// @Tags 情景
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.ScenarioProgress}
// @Router /api/scenarios/progress [get]
func (c *ScenarioController) GetProgress(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	progress, err := c.ScenarioService.Progress(ctx.Request.Context(), claims.TeacherID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, progress)
}

// GetSequence godoc
// @Summary 展开后的练习顺序
// @Description 8 个步骤，每一步带完成和锁定状态
// @Tags 情景
// @Produce json
// @Security ApiKeyAuth
// @Success 200 {object} util.Response{data=[]service.SequenceStepState}
// @Router /api/scenarios/sequence [get]
func (c *ScenarioController) GetSequence(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	steps, err := c.ScenarioService.Sequence(ctx.Request.Context(), claims.TeacherID)
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, steps)
}

// CheckAccess godoc
// @Summary 检查能否开始某个情景
// @Tags 情景
// @Produce json
// @Security ApiKeyAuth
// @Param scenarioId path string true "情景ID"
// @Success 200 {object} util.Response{data=service.AccessDecision}
// @Router /api/scenarios/{scenarioId}/access [get]
func (c *ScenarioController) CheckAccess(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	decision, err := c.ScenarioService.CheckAccess(ctx.Request.Context(), claims.TeacherID, ctx.Param("scenarioId"))
	if err != nil {
		util.LogInternalError(ctx, err)
		return
	}
	util.Success(ctx, decision)
}

// Submit godoc
// @Summary 提交一次情景练习
// @Description 等待评估服务给出结果后记录新的尝试。评估服务不可用时使用客户端分数。
// @Tags 情景
// @Accept json
// @Produce json
// @Security ApiKeyAuth
// @Param body body service.SubmitScenarioRequest true "提交内容"
// @Success 200 {object} util.Response{data=service.SubmissionResult}
// @Failure 400 {object} util.Response "请求参数错误"
// @Failure 403 {object} util.Response "情景尚未解锁"
// @Failure 404 {object} util.Response "情景不存在"
// @Failure 409 {object} util.Response "并发提交冲突"
// @Failure 429 {object} util.Response "提交过于频繁"
// @Router /api/scenarios/submit [post]
func (c *ScenarioController) Submit(ctx *gin.Context) {
	claims := util.GetUserFromContext(ctx)
	if claims == nil {
		util.Unauthorized(ctx)
		return
	}

	var req service.SubmitScenarioRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		util.BadRequest(ctx, submitBindMessage(err))
		return
	}

	result, err := c.ScenarioService.Submit(ctx.Request.Context(), claims.TeacherID, req)
	if err != nil {
		writeSubmitError(ctx, err)
		return
	}
	util.Success(ctx, result)
}

func submitBindMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "Score" {
				return util.ErrInvalidScore.Error()
			}
		}
	}
	return "sessionId and scenarioId are required"
}

func writeSubmitError(ctx *gin.Context, err error) {
	var denied *service.AccessDeniedError
	switch {
	case errors.As(err, &denied):
		util.AccessDenied(ctx, denied.Reason)
	case errors.Is(err, util.ErrScenarioNotFound):
		util.NotFoundWithMessage(ctx, err.Error())
	case errors.Is(err, util.ErrInvalidScore):
		util.BadRequest(ctx, err.Error())
	case errors.Is(err, util.ErrAttemptConflict), errors.Is(err, util.ErrSubmissionInFlight):
		util.Conflict(ctx, err.Error())
	case errors.Is(err, context.Canceled):
		// 客户端已断开
		ctx.Abort()
	default:
		util.LogInternalError(ctx, err)
	}
}
