package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// AppError 应用错误类型
// 统一承载错误码与展示给界面的错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 界面可见的错误消息
	Err     error  // 原始错误（可选）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// WithMessage 复制错误并替换消息
func (e *AppError) WithMessage(message string) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，不是 AppError 时返回 CodeUnknown
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknown
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Unknown error"
}

// Classify 将任意错误归类为 AppError
// 依次匹配：已有错误码、超时、网络错误、消息关键字
func Classify(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout.Wrap(err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout.Wrap(err)
		}
		return ErrNetworkUnreachable.Wrap(err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return ErrTimeout.Wrap(err)
	case strings.Contains(msg, "not found"):
		return ErrNotFound.Wrap(err)
	case strings.Contains(msg, "network"), strings.Contains(msg, "connection refused"):
		return ErrNetworkUnreachable.Wrap(err)
	case IsInsufficientFunds(err):
		return ErrInsufficientFunds.Wrap(err)
	}

	return ErrUnknown.Wrap(err)
}

// IsInsufficientFunds 判断远端返回的错误是否为余额不足
func IsInsufficientFunds(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrInsufficientFunds) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "insufficient") ||
		strings.Contains(msg, "funds") ||
		strings.Contains(msg, "balance")
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 状态同步相关 20000-20999
	CodeTimeout            = 20001
	CodeNotFound           = 20002
	CodeNetworkUnreachable = 20003
	CodeDecodeError        = 20004

	// 出牌合法性相关 21000-21999
	CodeInsufficientFunds = 21001
	CodeIllegalAction     = 21002
	CodeCardNotInHand     = 21003

	// 链上提交相关 22000-22999
	CodeSubmitFailed  = 22001
	CodeInvalidParams = 22002

	// 系统错误 50000-50999
	CodeUnknown = 50001
)

// ============== 预定义错误 ==============

// 状态同步相关
var (
	ErrTimeout            = NewError(CodeTimeout, "Timed out loading game from the ledger")
	ErrNotFound           = NewError(CodeNotFound, "Game not found")
	ErrNetworkUnreachable = NewError(CodeNetworkUnreachable, "Cannot reach the ledger")
	ErrDecode             = NewError(CodeDecodeError, "Unexpected game record layout")
)

// 出牌合法性相关
var (
	ErrInsufficientFunds = NewError(CodeInsufficientFunds, "Insufficient ETH")
	ErrIllegalAction     = NewError(CodeIllegalAction, "Action not allowed right now")
	ErrCardNotInHand     = NewError(CodeCardNotInHand, "Card is no longer in hand")
)

// 提交相关
var (
	ErrSubmitFailed  = NewError(CodeSubmitFailed, "Transaction failed")
	ErrInvalidParams = NewError(CodeInvalidParams, "Invalid parameters")
)

// 系统相关
var (
	ErrUnknown = NewError(CodeUnknown, "Unknown error")
)
