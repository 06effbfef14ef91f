package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"teacher_scenario_backend/internal/config"
	"teacher_scenario_backend/internal/controller"
	"teacher_scenario_backend/internal/repository"
	"teacher_scenario_backend/internal/service"
	"teacher_scenario_backend/pkg/configwatcher"
	"teacher_scenario_backend/pkg/database"
	"teacher_scenario_backend/pkg/logger"
	"teacher_scenario_backend/pkg/monitoring"
	"teacher_scenario_backend/pkg/security"
	"teacher_scenario_backend/pkg/tracing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const configDir = "configs"

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	teacher *repository.TeacherRepository
	attempt *repository.ScenarioAttemptRepository
}

type services struct {
	auth     *service.AuthService
	teacher  *service.TeacherService
	scenario *service.ScenarioService
	poller   *service.EvaluationPoller
	events   *service.RabbitEventPublisher
}

type controllers struct {
	auth     *controller.AuthController
	scenario *controller.ScenarioController
	teacher  *controller.TeacherController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		teacher: repository.NewTeacherRepository(db),
		attempt: repository.NewScenarioAttemptRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}

	client, err := service.NewEvaluationClient(cfg.Evaluator)
	if err != nil {
		logger.Log.Fatal("Failed to initialize evaluation client", zap.Error(err))
	}
	s.poller = service.NewEvaluationPoller(client, service.PollPolicyFromConfig(cfg.Evaluator.Poll))
	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.poller.SetPolicy(service.PollPolicyFromConfig(newCfg.Evaluator.Poll))
	})

	gate := service.NewProgressionGate(service.DefaultScenarioCatalog())

	opts := []service.ScenarioServiceOption{
		service.WithClientScoreFallback(cfg.Submission.FallbackToClientScore),
		service.WithArchiver(service.NewEvaluationArchive(service.NewStorageProvider(&cfg.Storage))),
	}
	if cfg.Submission.Serialize && rdb != nil {
		opts = append(opts, service.WithSubmissionLocker(service.NewRedisSubmissionLocker(rdb, cfg.Submission.LockTTL, cfg.Submission.LockWait)))
	}
	if cfg.Events.Enabled {
		publisher, err := service.NewRabbitEventPublisher(cfg.Events.URL, cfg.Events.Exchange)
		if err != nil {
			logger.Log.Error("Failed to initialize event publisher, events disabled", zap.Error(err))
		} else {
			s.events = publisher
			opts = append(opts, service.WithEventPublisher(publisher))
		}
	}

	s.scenario = service.NewScenarioService(gate, repos.attempt, s.poller, opts...)
	s.auth = service.NewAuthService(repos.teacher, cfg)
	s.teacher = service.NewTeacherService(repos.teacher, repos.attempt, gate)
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB) *controllers {
	return &controllers{
		auth:     controller.NewAuthController(s.auth),
		scenario: controller.NewScenarioController(s.scenario),
		teacher:  controller.NewTeacherController(s.teacher),
		health:   controller.NewHealthController(db),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(security.RateLimiter(cfg.RateLimit))

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.Server.Mode != "release" || cfg.ForceMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Database migration failed", zap.Error(err))
		}
		logger.Log.Info("Database migration completed")
	}

	app := &App{
		Config: cfg,
		DB:     db,
	}
	if cfg.MigrateOnly {
		return app
	}

	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Fatal("Failed to initialize redis", zap.Error(err))
		}
		app.Redis = rdb
	}

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("teacher-scenario-backend", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	repos := app.initRepositories(db)
	app.services = app.initServices(repos, cfg, app.Redis)
	controllers := app.initControllers(app.services, db)

	monitoring.Init()

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, controllers, cfg)

	return app
}

func (a *App) watchConfig(ctx context.Context) {
	err := configwatcher.WatchConfig(ctx, filepath.Join(configDir, "config.yaml"), func(newCfg *config.Config) {
		for _, cb := range a.configCallbacks {
			cb(newCfg)
		}
	})
	if err != nil {
		logger.Log.Warn("Config watcher stopped", zap.Error(err))
	}
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go a.watchConfig(ctx)

	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("listen failed", zap.Error(err))
		}
	}()

	// 等待中断信号优雅地关闭服务器
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// 提交可能正在等待评估结果，给足时间
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close()
	logger.Log.Info("Server exiting")
}

func (a *App) Close() {
	if a.services != nil && a.services.events != nil {
		a.services.events.Close()
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		sqlDB.Close()
	}
}
