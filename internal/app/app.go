package app

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qbank_backend/internal/config"
	"qbank_backend/internal/controller"
	"qbank_backend/internal/repository"
	"qbank_backend/internal/service"
	"qbank_backend/pkg/database"
	"qbank_backend/pkg/logger"
	"qbank_backend/pkg/monitoring"
	"qbank_backend/pkg/security"
	"qbank_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	configCallbacks []func(*config.Config)

	bgCancel context.CancelFunc
}

type repositories struct {
	user        *repository.UserRepository
	question    *repository.QuestionRepository
	course      *repository.CourseRepository
	chunk       *repository.MaterialChunkRepository
	uploadBatch *repository.UploadBatchRepository
}

type services struct {
	auth       *service.AuthService
	storage    *service.StorageService
	ai         *service.AIService
	context    *service.ContextService
	duplicate  *service.DuplicateService
	vetting    *service.VettingService
	generator  *service.GeneratorService
	ingest     *service.IngestService
	enrichment *service.EnrichmentService
}

type controllers struct {
	auth       *controller.AuthController
	question   *controller.QuestionController
	generation *controller.GenerationController
	course     *controller.CourseController
	health     *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// ApplyConfig 配置热更新入口，由configwatcher回调
func (a *App) ApplyConfig(cfg *config.Config) {
	a.services.vetting.SetDailyLimit(cfg.Vetting.DailyLimit)
	a.services.generator.SetMaxAttempts(cfg.Generation.MaxAttempts)
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Info("runtime config applied",
		zap.Int("vetting_daily_limit", cfg.Vetting.DailyLimit),
		zap.Int("generation_max_attempts", cfg.Generation.MaxAttempts))
}

func (a *App) initRepositories(db *gorm.DB, rdb *redis.Client) *repositories {
	return &repositories{
		user:        repository.NewUserRepository(db),
		question:    repository.NewQuestionRepository(db),
		course:      repository.NewCourseRepository(db, rdb),
		chunk:       repository.NewMaterialChunkRepository(db),
		uploadBatch: repository.NewUploadBatchRepository(db),
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, db *gorm.DB) *services {
	s := &services{}

	s.storage = service.NewStorageService(cfg)
	s.ai = service.NewAIService(cfg.AI)
	s.auth = service.NewAuthService(repos.user, cfg)
	s.context = service.NewContextService(repos.chunk, s.ai)
	s.duplicate = service.NewDuplicateService(repos.question, s.ai, cfg.Generation.DuplicateThreshold)
	s.vetting = service.NewVettingService(db, repos.user, repos.question, cfg.Vetting.DailyLimit)
	s.generator = service.NewGeneratorService(repos.question, repos.course, repos.uploadBatch, s.context, s.ai, cfg.Generation)
	s.ingest = service.NewIngestService(repos.question, repos.course, repos.uploadBatch, s.storage)
	s.enrichment = service.NewEnrichmentService(repos.question, repos.chunk, s.ai, s.duplicate,
		cfg.AI.EmbeddingModel, cfg.Generation.EnrichIntervalMin)

	return s
}

func (a *App) initControllers(s *services, repos *repositories, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		auth:       controller.NewAuthController(s.auth),
		question:   controller.NewQuestionController(s.ingest, s.vetting, repos.question),
		generation: controller.NewGenerationController(s.generator),
		course:     controller.NewCourseController(repos.course, repos.chunk),
		health:     controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(security.CORSOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		AllowedHeaders: cfg.CORS.AllowedHeaders,
		AllowedMethods: cfg.CORS.AllowedMethods,
	}))
	router.Use(security.Secure())

	router.Use(security.RateLimiter(security.LimiterOptions{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      time.Duration(cfg.RateLimit.WindowMinutes) * time.Minute,
		Burst:       cfg.RateLimit.Burst,
	}))

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks 启动后台补全worker，Run退出前通过bgCancel停掉
func (a *App) startBackgroundTasks(s *services) {
	ctx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel
	go s.enrichment.Start(ctx)
}

func NewApp(cfg *config.Config) *App {
	logger.InitLogger(cfg)

	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}

	if cfg.ForceMigrate || cfg.MigrateOnly {
		if err := database.Migrate(db); err != nil {
			logger.Log.Fatal("Failed to migrate database", zap.Error(err))
		}
		if cfg.MigrateOnly {
			logger.Log.Info("Migration finished, exiting")
			os.Exit(0)
		}
	}

	// Redis不可用时降级运行，只失去主题缓存
	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Log.Warn("Redis unavailable, topic cache disabled", zap.Error(err))
		rdb = nil
	}

	app := &App{
		Config: cfg,
		DB:     db,
		Redis:  rdb,
	}

	repos := app.initRepositories(db, rdb)
	services := app.initServices(repos, cfg, db)
	app.services = services
	controllers := app.initControllers(services, repos, db, rdb)

	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		if _, err := tracing.InitTracer("qbank-backend", cfg.Tracing.CollectorEndpoint); err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
	}

	app.registerRoutes(router, controllers, cfg)

	if cfg.Storage.Type == "local" {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	app.startBackgroundTasks(services)

	return app
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	if a.bgCancel != nil {
		a.bgCancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	logger.Log.Sync()
	log.Println("Server exiting")
}
