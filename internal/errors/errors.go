package errors

import (
	"context"
	stdErrors "errors"
	"fmt"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	// Fatal 表示该错误会直接终止一次对话轮次，而不是交给模型解释。
	Fatal bool
}

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
	CodeUnavailable           Code = "UNAVAILABLE"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeMalformed             Code = "MALFORMED"
	CodeUnknownTool           Code = "UNKNOWN_TOOL"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeProviderFailure       Code = "PROVIDER_FAILURE"
	CodeUpstreamFailure       Code = "UPSTREAM_FAILURE"
)

var registry = map[Code]Attributes{
	CodeUnknown: {
		Message:  "unknown error",
		Severity: SeverityCritical,
		Alert:    true,
	},
	CodeInvalidArgument: {
		Message:  "invalid argument",
		Severity: SeverityInfo,
	},
	CodeNotFound: {
		Message:  "resource not found",
		Severity: SeverityInfo,
	},
	CodeConflict: {
		Message:  "resource conflict",
		Severity: SeverityWarning,
	},
	CodeRetriesExhausted: {
		Message:  "retries exhausted",
		Severity: SeverityWarning,
		Alert:    true,
	},
	CodeInitializationFailure: {
		Message:   "service not initialized",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeStorageFailure: {
		Message:   "storage failure",
		Severity:  SeverityCritical,
		Retryable: true,
		Alert:     true,
	},
	CodeTimeout: {
		Message:   "operation timed out",
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeUnavailable: {
		Message:   "no data source available",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeRateLimited: {
		Message:   "rate limited by provider",
		Severity:  SeverityWarning,
		Retryable: false,
		Alert:     true,
		Fatal:     true,
	},
	CodeMalformed: {
		Message:   "malformed response",
		Severity:  SeverityWarning,
		Retryable: true,
	},
	CodeUnknownTool: {
		Message:  "unknown tool",
		Severity: SeverityInfo,
	},
	CodeUnauthenticated: {
		Message:  "missing or invalid provider credentials",
		Severity: SeverityCritical,
		Alert:    true,
		Fatal:    true,
	},
	CodeProviderFailure: {
		Message:   "language model provider failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeUpstreamFailure: {
		Message:   "upstream api failure",
		Severity:  SeverityWarning,
		Retryable: true,
	},
}

// AttributesOf 返回错误码对应的属性，未知错误码返回 UNKNOWN 的属性。
func AttributesOf(code Code) Attributes {
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code      Code
	message   string
	cause     error
	metadata  map[string]string
	retryable *bool
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithRetryable 指定错误是否可重试。
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// New 创建一个新的错误实例。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。超时类的标准库错误映射为 TIMEOUT。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	return AttributesOf(CodeOf(err)).Alert
}

// IsFatal 判断错误是否需要终止当前对话轮次。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	return AttributesOf(CodeOf(err)).Fatal
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return AttributesOf(CodeOf(err)).Severity
}

// MessageOf 返回适合展示给调用方的错误描述。
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.Message()
	}
	return err.Error()
}
