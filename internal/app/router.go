package app

import (
	"qbank_backend/docs"
	"qbank_backend/internal/config"
	"qbank_backend/internal/middleware"
	"qbank_backend/internal/model"

	"qbank_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 业务路由同时挂载在根路径和 /api 前缀下，保持两种调用方式兼容
	registerAPIRoutes(router.Group(""), c, cfg)
	registerAPIRoutes(router.Group("/api"), c, cfg)
}

func registerAPIRoutes(root *gin.RouterGroup, c *controllers, cfg *config.Config) {
	// 公共路由(无需登录)
	root.GET("/health", c.health.HealthCheck)
	root.POST("/auth/signup", c.auth.Signup)
	root.POST("/auth/signin", c.auth.Signin)

	// 需要授权的路由
	authGroup := root.Group("")
	authGroup.Use(middleware.AuthMiddleware(cfg))
	{
		authGroup.GET("/profile", c.auth.Profile)

		// 题库：查询对所有登录用户开放
		authGroup.GET("/questions", c.question.List)
		authGroup.GET("/questions/vetting", c.question.GetVetting)
		authGroup.GET("/questions/vetting/stats", c.question.VettingStats)
		authGroup.GET("/questions/:id", c.question.Get)
		authGroup.POST("/questions/:id/vet", c.question.Vet)

		// 课程目录
		authGroup.GET("/courses", c.course.List)
		authGroup.GET("/courses/:code/topics", c.course.GetTopics)
	}

	// 教师/管理员接口：上传、出卷、课程维护
	teacherGroup := root.Group("")
	teacherGroup.Use(middleware.AuthMiddleware(cfg), middleware.RoleMiddleware(model.Teacher))
	{
		teacherGroup.POST("/questions/upload", c.question.Upload)
		teacherGroup.POST("/questions/generate", c.generation.Generate)
		teacherGroup.POST("/courses", c.course.Create)
		teacherGroup.POST("/courses/:code/topics", c.course.AddTopics)
		teacherGroup.POST("/courses/:code/materials", c.course.AddMaterialChunks)
	}
}
