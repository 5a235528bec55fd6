package errs

import (
	"fmt"
	"strings"

	cr "github.com/cockroachdb/errors"
)

// CodeUnknown 无法识别来源的错误码
const CodeUnknown = "unknown"

type codedError struct {
	code string
	msg  string
}

func (e *codedError) Error() string { return e.msg }

// Coded 创建带业务错误码与调用栈的错误
func Coded(code, msg string) error {
	return cr.WithStackDepth(&codedError{code: code, msg: msg}, 1)
}

// Codedf 同 Coded，支持格式化
func Codedf(code, format string, args ...any) error {
	return cr.WithStackDepth(&codedError{code: code, msg: fmt.Sprintf(format, args...)}, 1)
}

// CodeOf 提取错误链上的业务码，没有则返回 CodeUnknown
func CodeOf(err error) string {
	var ce *codedError
	if cr.As(err, &ce) {
		return ce.code
	}
	return CodeUnknown
}

// HasCode 判断错误链上是否带有指定业务码
func HasCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

// StackLines 以 %+v 渲染错误（含栈），按行截断
func StackLines(err error, maxLines int) []string {
	if err == nil {
		return nil
	}
	s := fmt.Sprintf("%+v", err)
	lines := strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
