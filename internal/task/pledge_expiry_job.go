package task

import (
	"context"
	"time"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/logic"
	"github.com/go-co-op/gocron/v2"
)

// PledgeExpiryJob 释放超时未确认的认捐
type PledgeExpiryJob struct {
	funding *logic.FundingLogic
	config  config.TaskConfig
}

func NewPledgeExpiryJob(funding *logic.FundingLogic, cfg config.TaskConfig) *PledgeExpiryJob {
	return &PledgeExpiryJob{funding: funding, config: cfg}
}

// GetName 获取任务名称
func (j *PledgeExpiryJob) GetName() string {
	return "pledge_expiry"
}

// GetSchedule 获取调度配置
func (j *PledgeExpiryJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(seconds(j.config.Interval, 60))
}

// Execute 执行任务
func (j *PledgeExpiryJob) Execute(ctx context.Context) {
	start := time.Now()
	released, err := j.funding.ExpirePending(ctx)
	if released > 0 {
		logger.Info("Released %d expired pledges", released)
	}
	recordRun(j.GetName(), start, err)
}
