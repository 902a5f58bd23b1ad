package router

import (
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/handler"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/metrics"
	"github.com/blues/fundledger/internal/middleware"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Dependencies 路由依赖, 由 main 统一构造
type Dependencies struct {
	Config        *config.Config
	DB            *gorm.DB
	Projects      *logic.ProjectLogic
	Contributions *logic.ContributeRecordLogic
	Funding       *logic.FundingLogic
	Chain         handler.ChainHealth // 未启用链上结算时为 nil
	Limiter       *middleware.RateLimiter
}

func Setup(d Dependencies) *gin.Engine {
	r := gin.New()

	// 中间件
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Metrics())
	r.Use(middleware.AccessLog())
	r.Use(middleware.CORS())
	r.NoRoute(handler.NotFoundResponse)

	// 健康检查
	healthHandler := handler.NewHealthHandler(d.DB, d.Chain)
	r.GET("/health", healthHandler.Health)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	auth := middleware.NewAuth(d.Config.Auth)
	limiter := d.Limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(d.Config.Server.RateLimit, d.Config.Server.RateBurst)
	}

	api := r.Group("/api")
	public := api.Group("", auth.Optional(), limiter.Handler())
	authed := api.Group("", auth.Required(), limiter.Handler())

	// 捐款相关路由
	contributeHandler := handler.NewContributeHandler(d.Funding)
	{
		authed.POST("/donate/:id", contributeHandler.Donate)
		authed.POST("/donate/:id/confirm", contributeHandler.Confirm)
		authed.POST("/contributions/:id/cancel", contributeHandler.Cancel)
	}

	// 项目相关路由
	projectHandler := handler.NewProjectHandler(d.Projects, d.Contributions, d.Funding)
	{
		public.GET("/v1/projects", projectHandler.GetProjects)
		public.GET("/v1/projects/:id", projectHandler.GetProject)
		public.GET("/v1/projects/:id/contributions", projectHandler.GetProjectContributions)
		public.GET("/v1/projects/:id/stats", projectHandler.GetProjectStats)

		authed.POST("/v1/projects", projectHandler.CreateProject)
		authed.PUT("/v1/projects/:id", projectHandler.UpdateProject)
		authed.DELETE("/v1/projects/:id", projectHandler.DeactivateProject)
		authed.POST("/v1/projects/:id/deactivate", projectHandler.DeactivateProject)
		authed.POST("/v1/projects/:id/audit", projectHandler.AuditProject)
	}

	return r
}
