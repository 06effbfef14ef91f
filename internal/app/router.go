package app

import (
	"teacher_scenario_backend/docs"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/middleware"
	"teacher_scenario_backend/internal/model"
	"teacher_scenario_backend/pkg/monitoring"
	"teacher_scenario_backend/pkg/security"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/auth/login", c.auth.Login)
	}

	// 2. 教师情景练习
	scenarios := router.Group("/api/scenarios")
	scenarios.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.RoleTeacher))
	{
		scenarios.GET("", c.scenario.ListScenarios)
		scenarios.GET("/progress", c.scenario.GetProgress)
		scenarios.GET("/sequence", c.scenario.GetSequence)
		scenarios.GET("/:scenarioId/access", c.scenario.CheckAccess)
		scenarios.POST("/submit", security.SubmitRateLimiter(cfg.RateLimit), c.scenario.Submit)
	}

	// 3. 管理员接口
	teachers := router.Group("/api/teachers")
	teachers.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.RoleAdmin))
	{
		teachers.GET("", c.teacher.ListTeachers)
		teachers.GET("/:id", c.teacher.GetTeacher)
		teachers.GET("/:id/progress", c.teacher.GetTeacherProgress)
		teachers.GET("/:id/scenarios/:scenarioId", c.teacher.GetScenarioAttempts)
	}
}
