package logic

import (
	"errors"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/chain"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/money"
	"github.com/blues/fundledger/internal/repository"
)

var (
	errInvalidAmount   = apperr.Validation(apperr.CodeInvalidAmount, "捐款金额必须大于0且最多6位小数")
	errProjectNotFound = apperr.NotFound(apperr.CodeProjectNotFound, "项目不存在")
	errProjectInactive = apperr.BusinessRule(apperr.CodeProjectInactive, "项目已停用，无法接受捐款")
	errSelfFunding     = apperr.BusinessRule(apperr.CodeSelfFundingForbidden, "不能向自己创建的项目捐款")
	errWalletRequired  = apperr.BusinessRule(apperr.CodeWalletRequired, "请先绑定钱包地址")
	errGoalExceeded    = apperr.BusinessRule(apperr.CodeGoalExceeded, "捐款金额超过项目剩余目标金额")
	errNotOwner        = apperr.Forbidden("只有项目创建者可以执行此操作")
	errNotContributor  = apperr.Forbidden("只能操作自己的捐款")
	errNotPending      = apperr.BusinessRule(apperr.CodeContributionNotPending, "捐款已完成或已释放")
	errTxHashInUse     = apperr.BusinessRule(apperr.CodeTxHashInUse, "交易哈希已被其他捐款使用")
	errFeeMismatch     = apperr.Validation(apperr.CodeFeeMismatch, "平台费或总金额与计算结果不一致")
	errPledgeNotFound  = apperr.NotFound(apperr.CodeContributionNotFound, "未找到待确认的捐款")
	errChainDisabled   = apperr.External(apperr.CodeChainUnavailable, "链上结算未启用", nil)
	errNotOnChain      = apperr.BusinessRule(apperr.CodeChainProjectUnavailable, "项目尚未在链上注册")
)

func amountError(err error) error {
	switch {
	case errors.Is(err, money.ErrNonPositive), errors.Is(err, money.ErrPrecision), errors.Is(err, money.ErrOverflow):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeInvalidAmount, errInvalidAmount.Message, err)
	}
	return apperr.Unexpected(err)
}

// projectError 仓储错误转换, 未知错误记录日志后按内部错误返回
func projectError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return errProjectNotFound
	case errors.Is(err, repository.ErrConflict):
		return apperr.Conflict("项目正在被并发修改，请稍后重试", err)
	}
	logger.Error("%s failed: %v", op, err)
	return apperr.Unexpected(err)
}

// chainError 链上错误转换, 不向用户暴露节点原始错误
func chainError(op string, err error) error {
	switch {
	case errors.Is(err, chain.ErrProjectUnavailable):
		return apperr.Wrap(apperr.KindBusinessRule, apperr.CodeChainProjectUnavailable, "链上项目不存在或已筹满", err)
	case errors.Is(err, chain.ErrTxNotFound):
		return apperr.Wrap(apperr.KindBusinessRule, apperr.CodeTxNotConfirmed, "交易尚未确认，请稍后重试", err)
	case errors.Is(err, chain.ErrTxRejected):
		return apperr.Wrap(apperr.KindBusinessRule, apperr.CodeTxNotConfirmed, "交易校验失败", err)
	}
	logger.Warn("%s chain call failed: %v", op, err)
	return apperr.External(apperr.CodeChainUnavailable, "区块链服务暂不可用，请稍后重试", err)
}
