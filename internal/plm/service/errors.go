package service

import (
	"errors"
	"fmt"

	"github.com/bitfantasy/nimo-change/internal/plm/authz"
	"github.com/bitfantasy/nimo-change/internal/plm/repository"
)

// Kind 业务错误类别
type Kind string

const (
	KindAuthorization      Kind = "authorization"
	KindOwnership          Kind = "ownership"
	KindState              Kind = "state"
	KindConflict           Kind = "conflict"
	KindPrecondition       Kind = "precondition"
	KindExhaustion         Kind = "exhaustion"
	KindApprovalIncomplete Kind = "approval_incomplete"
	KindNotFound           Kind = "not_found"
	KindInvalid            Kind = "invalid"
)

// Error 业务错误，Message 面向调用方
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind 判断错误链中是否含指定类别的业务错误
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf 返回错误类别，非业务错误返回空
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func authorizationError(err error) error {
	var missing *authz.MissingPermissionError
	if errors.As(err, &missing) {
		return &Error{Kind: KindAuthorization, Message: fmt.Sprintf("missing permission %q", missing.Permission), Err: err}
	}
	return &Error{Kind: KindAuthorization, Message: "not authorized", Err: err}
}

func ownershipError(who, action string) error {
	return newError(KindOwnership, "user %s is not allowed to %s", who, action)
}

func stateError(current interface{}, action string) error {
	return newError(KindState, "cannot %s in state %s", action, current)
}

func conflictError(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

func preconditionError(format string, args ...interface{}) error {
	return newError(KindPrecondition, format, args...)
}

func invalidError(format string, args ...interface{}) error {
	return newError(KindInvalid, format, args...)
}

func notFoundError(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", what, id), Err: repository.ErrNotFound}
}

// lookupError 仓储的 ErrNotFound 转为 NotFound 业务错误，其余包装返回
func lookupError(err error, what, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFoundError(what, id)
	}
	return fmt.Errorf("find %s: %w", what, err)
}
