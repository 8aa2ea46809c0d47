package auth

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type subjectKey struct{}

// WithSubject 将已认证的主体写入上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 返回中间件写入的主体，不存在时返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	if subject, ok := ctx.Value(subjectKey{}).(*Subject); ok {
		return subject
	}
	return nil
}

// CallerFromContext 返回已认证的调用方地址。
func CallerFromContext(ctx context.Context) (common.Address, bool) {
	subject := SubjectFromContext(ctx)
	if subject == nil {
		return common.Address{}, false
	}
	return subject.Address, true
}
