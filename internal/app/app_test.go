package app

import (
	"testing"

	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNewWithoutChain(t *testing.T) {
	cfg := &config.Config{Funding: config.FundingConfig{FeeRateBps: 50, MaxRetries: 3}}
	a := New(cfg, testutil.NewDB(t), nil)

	// 未启用链上结算时接口必须是 nil, 不能是带类型的 nil 指针
	assert.Nil(t, a.ChainHealth())
	assert.Nil(t, a.TaskDependencies().Gateway)
	assert.NotNil(t, a.FundingLogic)
	assert.NotNil(t, a.ProjectLogic)
}
