package app

import (
	"edupath_backend/docs"
	"edupath_backend/internal/config"
	"edupath_backend/internal/middleware"
	"edupath_backend/internal/model"
	"edupath_backend/pkg/monitoring"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, repos *repositories, cfg *config.Config) {
	docs.SwaggerInfo.BasePath = "/api"
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler, ginSwagger.URL("/swagger/doc.json")))

	router.GET("/metrics", monitoring.PrometheusHandler())

	// 1. 公共路由(无需登录)
	public := router.Group("/api")
	{
		public.GET("/health", c.health.HealthCheck)
		public.POST("/register", c.auth.Register)
		public.POST("/login", c.auth.Login)
	}

	// 2. 需要授权的路由
	authGroup := router.Group("/api")
	authGroup.Use(middleware.AuthMiddleware(cfg), middleware.ActivityMiddleware(repos.user))
	{
		a.registerStudentRoutes(authGroup, c)
		a.registerTeacherRoutes(authGroup, c)
		a.registerAdminRoutes(authGroup, c)
	}
}

func (a *App) registerStudentRoutes(rg *gin.RouterGroup, c *controllers) {
	rg.GET("/profile", c.auth.GetProfile)

	// 内容浏览
	rg.GET("/courses", c.content.ListCourses)
	rg.GET("/courses/:id/lessons", c.content.ListLessons)

	// 进度控制
	rg.POST("/courses/:id/enroll", c.progression.Enroll)
	rg.GET("/courses/:id/progress-overview", c.progression.GetCourseProgress)
	rg.GET("/progression/access", c.progression.CheckAccess)
	rg.POST("/progression/progress", c.progression.UpdateProgress)
	rg.POST("/assessments/:id/attempts", c.progression.SubmitAttempt)

	// 学习路线
	rg.POST("/roadmap/generate", c.roadmap.GenerateRoadmap)
	rg.GET("/roadmap", c.roadmap.GetRoadmap)
	rg.GET("/roadmap/history", c.roadmap.ListHistory)
	rg.POST("/roadmap/assessment-failure", c.progression.TriggerAdaptiveAdjustment)
}

func (a *App) registerTeacherRoutes(rg *gin.RouterGroup, c *controllers) {
	teacher := rg.Group("/teacher")
	teacher.Use(middleware.RoleMiddleware(model.Teacher))
	{
		teacher.POST("/courses", c.content.CreateCourse)
		teacher.PUT("/courses/:id", c.content.UpdateCourse)
		teacher.POST("/lessons", c.content.CreateLesson)
		teacher.PUT("/lessons/:id", c.content.UpdateLesson)
		teacher.POST("/assessments", c.content.CreateAssessment)
		teacher.PUT("/assessments/:id", c.content.UpdateAssessment)
		teacher.POST("/assessments/questions", c.content.CreateQuestion)
		teacher.DELETE("/assessments/questions/:id", c.content.DeleteQuestion)
	}
}

func (a *App) registerAdminRoutes(rg *gin.RouterGroup, c *controllers) {
	admin := rg.Group("/admin")
	admin.Use(middleware.RoleMiddleware(model.Admin))
	{
		admin.POST("/progression/block", c.progression.BlockProgress)
		admin.POST("/progression/unblock", c.progression.UnblockProgress)
	}
}
