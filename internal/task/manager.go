package task

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/metrics"
	"github.com/blues/fundledger/internal/repository"
	"github.com/go-co-op/gocron/v2"
)

// Job 定时任务
type Job interface {
	GetName() string
	GetSchedule() gocron.JobDefinition
	Execute(ctx context.Context)
}

// Dependencies 任务依赖
type Dependencies struct {
	Config   *config.Config
	Projects *logic.ProjectLogic
	Funding  *logic.FundingLogic
	Ledger   *repository.LedgerRepository
	Gateway  chain.Gateway // 未启用链上结算时为 nil
}

// Manager 任务管理器
type Manager struct {
	scheduler gocron.Scheduler
	deps      Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewManager 创建新的任务管理器
func NewManager(deps Dependencies) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		scheduler: s,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start 注册所有任务并启动调度器
func (m *Manager) Start() {
	m.RegisterJobs()
	m.scheduler.Start()
	logger.Info("Task manager started successfully")
}

// Jobs 按配置启用的任务
func (m *Manager) Jobs() []Job {
	cfg := m.deps.Config
	jobs := []Job{NewPledgeExpiryJob(m.deps.Funding, cfg.Task)}

	if m.deps.Gateway == nil {
		return jobs
	}
	jobs = append(jobs, NewChainRegistrationJob(m.deps.Projects, cfg.Task))
	if cfg.Task.AuditInterval > 0 {
		jobs = append(jobs, NewChainAuditJob(m.deps.Funding, cfg.Task))
	}
	if cfg.Task.MonitorInterval > 0 {
		jobs = append(jobs, NewContributionMonitorJob(m.deps.Funding, m.deps.Gateway, m.deps.Ledger, cfg.Chain, cfg.Task))
	}
	return jobs
}

// RegisterJobs 注册所有任务
func (m *Manager) RegisterJobs() {
	for _, job := range m.Jobs() {
		m.register(job)
	}
}

func (m *Manager) register(job Job) {
	_, err := m.scheduler.NewJob(
		job.GetSchedule(),
		gocron.NewTask(job.Execute, m.ctx),
		gocron.WithName(job.GetName()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		logger.Error("Failed to register job %s: %v", job.GetName(), err)
		return
	}
	logger.Info("Registered job %s", job.GetName())
}

// Stop 停止任务管理器, 正在执行的任务通过 ctx 取消
func (m *Manager) Stop() {
	m.cancel()
	if err := m.scheduler.Shutdown(); err != nil {
		logger.Error("Failed to shutdown scheduler: %v", err)
	}
	logger.Info("Task manager stopped")
}

func seconds(n, fallback int) time.Duration {
	if n <= 0 {
		n = fallback
	}
	return time.Duration(n) * time.Second
}

func recordRun(job string, start time.Time, err error) {
	metrics.RecordJobRun(job, err == nil)
	if err != nil {
		logger.Error("Job %s failed after %s: %v", job, time.Since(start), err)
		return
	}
	logger.Debug("Job %s finished in %s", job, time.Since(start))
}
