package errors

import (
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Code 表示系统内的统一错误码。
type Code string

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStartupFailure        Code = "STARTUP_FAILURE"
	CodeSignalFailure         Code = "SIGNAL_FAILURE"
	CodeOracleFailure         Code = "ORACLE_FAILURE"
	CodeDispatchFailure       Code = "DISPATCH_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Severity 描述错误的严重程度，用于周期事件与审计日志。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes 为错误码提供默认行为。Retryable 只表示下一个周期可能恢复，
// 循环从不在周期内重试；Fatal 的错误会终止进程。
type Attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
	Fatal     bool
}

var attributes = map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeInitializationFailure: {Message: "component not initialized", Severity: SeverityCritical, Alert: true, Fatal: true},
	CodeStartupFailure:        {Message: "startup failed", Severity: SeverityCritical, Alert: true, Fatal: true},
	CodeSignalFailure:         {Message: "signal unavailable", Severity: SeverityWarning, Retryable: true},
	CodeOracleFailure:         {Message: "oracle decision unavailable", Severity: SeverityWarning, Retryable: true},
	CodeDispatchFailure:       {Message: "action dispatch failed", Severity: SeverityCritical, Alert: true},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true},
}

// AttributesOf 返回错误码对应的属性，未知错误码按 UNKNOWN 处理。
func AttributesOf(code Code) Attributes {
	if attr, ok := attributes[code]; ok {
		return attr
	}
	return attributes[CodeUnknown]
}

// Error 是系统内统一的错误类型。属性在创建时从错误码继承，可被选项覆盖。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	attr     Attributes
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

// WithRetryable 覆盖是否可在下个周期恢复。
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.attr.Retryable = retryable }
}

// WithAlert 覆盖是否需要在事件中标记告警。
func WithAlert(alert bool) Option {
	return func(e *Error) { e.attr.Alert = alert }
}

// WithSeverity 覆盖默认严重程度。
func WithSeverity(sev Severity) Option {
	return func(e *Error) { e.attr.Severity = sev }
}

// New 创建错误，message 为空时使用错误码的默认描述。
func New(code Code, message string, opts ...Option) *Error {
	attr := AttributesOf(code)
	if message == "" {
		message = attr.Message
	}
	e := &Error{code: code, message: message, attr: attr}
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

// Error 实现 error 接口，附加信息按键排序输出。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.code, e.message)
	if len(e.metadata) > 0 {
		keys := make([]string, 0, len(e.metadata))
		for k := range e.metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, e.metadata[k])
		}
	}
	if e.cause != nil {
		fmt.Fprintf(&b, ": %v", e.cause)
	}
	return b.String()
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 让 errors.Is 按错误码比较。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
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

// Metadata 返回附加信息的副本。
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

// Attributes 返回生效的属性。
func (e *Error) Attributes() Attributes {
	if e == nil {
		return attributes[CodeUnknown]
	}
	return e.attr
}

// Retryable 判断下个周期是否可能恢复。
func (e *Error) Retryable() bool { return e.Attributes().Retryable }

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool { return e.Attributes().Alert }

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity { return e.Attributes().Severity }

// From 尝试从 error 链中取出统一错误类型。
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

func attributesOf(err error) Attributes {
	if e, ok := From(err); ok {
		return e.Attributes()
	}
	return attributes[CodeUnknown]
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// RetryableError 判断任意 error 是否可在下个周期恢复。
func RetryableError(err error) bool {
	return err != nil && attributesOf(err).Retryable
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	return err != nil && attributesOf(err).Alert
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	return attributesOf(err).Severity
}

// IsFatal 判断错误是否应终止进程。
func IsFatal(err error) bool {
	return err != nil && attributesOf(err).Fatal
}
