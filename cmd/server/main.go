package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blues/fundledger/internal/app"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/middleware"
	"github.com/blues/fundledger/internal/router"
	"github.com/blues/fundledger/internal/task"
	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	if err := logger.Init(cfg.Log); err != nil {
		logger.Fatal("Failed to initialize logger: %v", err)
	}

	// run 返回后所有资源均已释放
	if err := run(cfg); err != nil {
		logger.Error("Server exited: %v", err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 初始化数据库和链上网关
	a, err := app.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer a.Close()

	// 设置Gin模式
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	limiter.StartCleanup(5*time.Minute, ctx.Done())

	// 初始化路由
	r := router.Setup(router.Dependencies{
		Config:        cfg,
		DB:            a.DB,
		Projects:      a.ProjectLogic,
		Contributions: a.ContributeLogic,
		Funding:       a.FundingLogic,
		Chain:         a.ChainHealth(),
		Limiter:       limiter,
	})

	// 启动定时任务
	tasks, err := task.NewManager(a.TaskDependencies())
	if err != nil {
		return fmt.Errorf("create task manager: %w", err)
	}
	tasks.Start()
	defer tasks.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed: %v", err)
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve: %w", err)
	default:
		return nil
	}
}
