package task

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

const registrationBatchSize = 20

// ChainRegistrationJob 重试链上注册失败的项目
type ChainRegistrationJob struct {
	projects *logic.ProjectLogic
	config   config.TaskConfig
}

func NewChainRegistrationJob(projects *logic.ProjectLogic, cfg config.TaskConfig) *ChainRegistrationJob {
	return &ChainRegistrationJob{projects: projects, config: cfg}
}

// GetName 获取任务名称
func (j *ChainRegistrationJob) GetName() string {
	return "chain_registration"
}

// GetSchedule 获取调度配置
func (j *ChainRegistrationJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(seconds(j.config.Interval, 60))
}

// Execute 执行任务
func (j *ChainRegistrationJob) Execute(ctx context.Context) {
	start := time.Now()
	registered, err := j.projects.RetryRegistration(ctx, registrationBatchSize)
	if registered > 0 {
		logger.Info("Registered %d off-chain projects", registered)
	}
	recordRun(j.GetName(), start, err)
}
