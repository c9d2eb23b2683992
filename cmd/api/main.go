package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lzhao-dev/school-records-api/api/swagger"
	"github.com/lzhao-dev/school-records-api/internal/handler"
	"github.com/lzhao-dev/school-records-api/internal/middleware"
	"github.com/lzhao-dev/school-records-api/internal/models"
	"github.com/lzhao-dev/school-records-api/internal/repository"
	"github.com/lzhao-dev/school-records-api/internal/service"
	"github.com/lzhao-dev/school-records-api/pkg/cache"
	"github.com/lzhao-dev/school-records-api/pkg/config"
	"github.com/lzhao-dev/school-records-api/pkg/database"
	"github.com/lzhao-dev/school-records-api/pkg/export"
	"github.com/lzhao-dev/school-records-api/pkg/logger"
	corsmiddleware "github.com/lzhao-dev/school-records-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lzhao-dev/school-records-api/pkg/middleware/requestid"
)

// @title School Records API
// @version 1.0.0
// @description Role-based school records management: grades, students, teachers, scores.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	credentialRepo := repository.NewCredentialRepository(db)
	gradeRepo := repository.NewGradeRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	scoreRepo := repository.NewScoreRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	linkageService := service.NewLinkageService(credentialRepo, logr)
	authService := service.NewAuthService(credentialRepo, studentRepo, teacherRepo, cacheService, validate, logr, service.AuthConfig{
		Secret:     cfg.JWT.Secret,
		Expiration: cfg.JWT.Expiration,
		Issuer:     cfg.JWT.Issuer,
	})
	gradeService := service.NewGradeService(db, gradeRepo, studentRepo, teacherRepo, scoreRepo, linkageService, cacheService, validate, logr)
	studentService := service.NewStudentService(db, studentRepo, gradeRepo, linkageService, validate, logr)
	teacherService := service.NewTeacherService(db, teacherRepo, gradeRepo, linkageService, validate, logr)
	scoreService := service.NewScoreService(db, scoreRepo, studentRepo, validate, logr)
	transferService := service.NewTransferService(db, gradeRepo, studentRepo, scoreRepo, linkageService, validate, logr)

	authHandler := handler.NewAuthHandler(authService)
	gradeHandler := handler.NewGradeHandler(gradeService)
	studentHandler := handler.NewStudentHandler(studentService, scoreService, export.NewPDFExporter())
	teacherHandler := handler.NewTeacherHandler(teacherService)
	scoreHandler := handler.NewScoreHandler(scoreService)
	transferHandler := handler.NewTransferHandler(transferService, cfg.Import.MaxFileSizeBytes)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsService.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))
	authed.POST("/auth/logout", authHandler.Logout)
	authed.PUT("/auth/password", authHandler.ChangePassword)

	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	admin := middleware.RequireRoles(models.RoleAdmin)
	anyRole := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher, models.RoleStudent)

	grades := authed.Group("/grades")
	grades.GET("", staff, gradeHandler.List)
	grades.GET("/:id", staff, gradeHandler.Get)
	grades.POST("", admin, gradeHandler.Create)
	grades.PUT("/:id", admin, gradeHandler.Update)
	grades.DELETE("/:id", admin, gradeHandler.Delete)

	students := authed.Group("/students")
	students.GET("", staff, studentHandler.List)
	students.GET("/export", admin, transferHandler.ExportStudents)
	students.POST("/import", admin, transferHandler.ImportStudents)
	students.GET("/:id", staff, studentHandler.Get)
	students.GET("/:id/transcript", staff, studentHandler.Transcript)
	students.POST("", admin, studentHandler.Create)
	students.PUT("/:id", admin, studentHandler.Update)
	students.DELETE("/:id", admin, studentHandler.Delete)
	students.DELETE("", admin, studentHandler.BulkDelete)

	teachers := authed.Group("/teachers")
	teachers.GET("", staff, teacherHandler.List)
	teachers.GET("/:id", staff, teacherHandler.Get)
	teachers.POST("", admin, teacherHandler.Create)
	teachers.PUT("/:id", admin, teacherHandler.Update)
	teachers.DELETE("/:id", admin, teacherHandler.Delete)
	teachers.DELETE("", admin, teacherHandler.BulkDelete)

	scores := authed.Group("/scores")
	scores.GET("", anyRole, scoreHandler.List)
	scores.GET("/export", admin, transferHandler.ExportScores)
	scores.POST("/import", admin, transferHandler.ImportScores)
	scores.GET("/:id", anyRole, scoreHandler.Get)
	scores.POST("", admin, scoreHandler.Create)
	scores.PUT("/:id", admin, scoreHandler.Update)
	scores.DELETE("/:id", admin, scoreHandler.Delete)
	scores.DELETE("", admin, scoreHandler.BulkDelete)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
