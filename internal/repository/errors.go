package repository

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("concurrent modification")
	ErrReserveRejected = errors.New("reservation rejected")
	ErrNotPending      = errors.New("contribution is not pending")
	ErrTxHashInUse     = errors.New("transaction hash already used")
	ErrProtectedField  = errors.New("field cannot be updated directly")
)

// 可重试的 postgres 错误码: 序列化失败, 死锁, 锁等待失败
var retryableSQLStates = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
}

// classify 将驱动错误归类为仓储错误
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && retryableSQLStates[pgErr.Code] {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
	}
	// sqlite 锁冲突
	if msg := err.Error(); strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked") {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
