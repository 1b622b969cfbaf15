package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"milestonehub/pkg/circuitbreaker"
)

// Retryable is implemented by errors that know whether a retry can succeed.
type Retryable interface {
	Retryable() bool
}

// ErrorClass 是一次错误分类的结果，Kind 用作日志字段和指标标签
type ErrorClass struct {
	Retryable bool
	Kind      string
}

// rule 命中时返回分类；规则按顺序匹配，先命中者生效
type rule func(err error) (ErrorClass, bool)

var rules = []rule{
	// 取消不可重试，超时可重试
	func(err error) (ErrorClass, bool) {
		switch {
		case errors.Is(err, context.Canceled):
			return ErrorClass{false, "context_canceled"}, true
		case errors.Is(err, context.DeadlineExceeded):
			return ErrorClass{true, "timeout"}, true
		}
		return ErrorClass{}, false
	},
	// 自描述错误（传输层等）
	func(err error) (ErrorClass, bool) {
		var r Retryable
		if !errors.As(err, &r) {
			return ErrorClass{}, false
		}
		if r.Retryable() {
			return ErrorClass{true, "transient_error"}, true
		}
		return ErrorClass{false, "permanent_error"}, true
	},
	func(err error) (ErrorClass, bool) {
		return ErrorClass{true, "circuit_open"}, errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen)
	},
	// 数据格式错误，重试无意义
	func(err error) (ErrorClass, bool) {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		matched := errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || strings.Contains(err.Error(), "json:")
		return ErrorClass{false, "json_decode_error"}, matched
	},
	classifyPgError,
	func(err error) (ErrorClass, bool) {
		return ErrorClass{false, "not_found"}, errors.Is(err, pgx.ErrNoRows)
	},
	// 驱动未返回 PgError 时按错误文本兜底
	func(err error) (ErrorClass, bool) {
		msg := err.Error()
		switch {
		case strings.Contains(msg, "duplicate key"), strings.Contains(msg, "UNIQUE constraint"):
			return ErrorClass{false, "duplicate_key"}, true
		case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"):
			return ErrorClass{true, "db_connection_error"}, true
		}
		return ErrorClass{}, false
	},
	func(err error) (ErrorClass, bool) {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return networkClass(urlErr.Timeout()), true
		}
		var netErr net.Error
		if errors.As(err, &netErr) {
			return networkClass(netErr.Timeout()), true
		}
		return ErrorClass{}, false
	},
}

// classifyPgError 序列化冲突和死锁可重试，约束冲突不可重试
func classifyPgError(err error) (ErrorClass, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ErrorClass{}, false
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return ErrorClass{true, "db_conflict"}, true
	case "23505":
		return ErrorClass{false, "duplicate_key"}, true
	case "23503", "23514", "22P02":
		return ErrorClass{false, "constraint_violation"}, true
	}
	return ErrorClass{}, false
}

func networkClass(timeout bool) ErrorClass {
	if timeout {
		return ErrorClass{true, "network_timeout"}
	}
	return ErrorClass{true, "network_error"}
}

// Classify 未命中任何规则的错误视为不可重试
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorClass{}
	}
	for _, match := range rules {
		if c, ok := match(err); ok {
			return c
		}
	}
	return ErrorClass{false, "unknown_error"}
}

// IsRetryableError returns whether err is worth retrying and its kind label.
func IsRetryableError(err error) (bool, string) {
	c := Classify(err)
	return c.Retryable, c.Kind
}

// ShouldRetry reports whether attempt retryCount (1-based) may be retried.
func ShouldRetry(retryCount int64, maxRetries int64, isRetryable bool) bool {
	return isRetryable && retryCount <= maxRetries
}
