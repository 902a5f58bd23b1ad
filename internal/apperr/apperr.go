// Package apperr 定义对外暴露的错误分类与稳定的错误码
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind string

const (
	KindValidation      Kind = "validation"
	KindBusinessRule    Kind = "business_rule"
	KindNotFound        Kind = "not_found"
	KindUnauthorized    Kind = "unauthorized"
	KindForbidden       Kind = "forbidden"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindExternalService Kind = "external_service"
	KindUnexpected      Kind = "unexpected"
)

// Code 机器可读的错误码
type Code string

const (
	CodeInvalidAmount           Code = "INVALID_AMOUNT"
	CodeInvalidInput            Code = "INVALID_INPUT"
	CodeProjectNotFound         Code = "PROJECT_NOT_FOUND"
	CodeContributionNotFound    Code = "CONTRIBUTION_NOT_FOUND"
	CodeProjectInactive         Code = "PROJECT_INACTIVE"
	CodeSelfFundingForbidden    Code = "SELF_FUNDING_FORBIDDEN"
	CodeGoalExceeded            Code = "GOAL_EXCEEDED"
	CodeGoalBelowRaised         Code = "GOAL_BELOW_RAISED"
	CodeWalletRequired          Code = "WALLET_REQUIRED"
	CodeFeeMismatch             Code = "FEE_MISMATCH"
	CodeContributionNotPending  Code = "CONTRIBUTION_NOT_PENDING"
	CodeTxNotConfirmed          Code = "TRANSACTION_NOT_CONFIRMED"
	CodeTxHashInUse             Code = "TRANSACTION_HASH_IN_USE"
	CodeUnauthorized            Code = "UNAUTHORIZED"
	CodeForbidden               Code = "FORBIDDEN"
	CodeChainUnavailable        Code = "CHAIN_UNAVAILABLE"
	CodeChainProjectUnavailable Code = "CHAIN_PROJECT_UNAVAILABLE"
	CodeStoreConflict           Code = "STORE_CONFLICT"
	CodeRateLimited             Code = "RATE_LIMITED"
	CodeInternal                Code = "INTERNAL_ERROR"
)

// Error 业务错误, Message 面向用户, Err 仅用于日志
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 按错误码比较
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus 错误类别对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindBusinessRule:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable 调用方是否可以原样重试
func (e *Error) Retryable() bool {
	return e.Kind == KindConflict || e.Kind == KindExternalService || e.Kind == KindRateLimited
}

func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code Code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code Code, message string) *Error {
	return New(KindValidation, code, message)
}

func BusinessRule(code Code, message string) *Error {
	return New(KindBusinessRule, code, message)
}

func NotFound(code Code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, CodeForbidden, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, CodeUnauthorized, message)
}

func External(code Code, message string, err error) *Error {
	return Wrap(KindExternalService, code, message, err)
}

func Conflict(message string, err error) *Error {
	return Wrap(KindConflict, CodeStoreConflict, message, err)
}

func Unexpected(err error) *Error {
	return Wrap(KindUnexpected, CodeInternal, "服务内部错误", err)
}

// From 将任意错误转换为 *Error, 未分类的错误视为内部错误
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unexpected(err)
}

// CodeOf 返回错误码, 非 *Error 返回 INTERNAL_ERROR
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	return From(err).Code
}
