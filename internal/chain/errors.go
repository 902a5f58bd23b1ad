package chain

import (
	"errors"
	"fmt"
)

var (
	// ErrChainUnavailable 网络错误, 超时或 RPC 失败
	ErrChainUnavailable = errors.New("chain unavailable")
	// ErrTxNotFound 交易未上链或确认数不足
	ErrTxNotFound = errors.New("transaction not found")
	// ErrTxRejected 交易失败或与预期不符
	ErrTxRejected = errors.New("transaction rejected")
	// ErrProjectUnavailable 链上项目不存在或已筹满
	ErrProjectUnavailable = errors.New("chain project unavailable")
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrChainUnavailable, op, err)
}
