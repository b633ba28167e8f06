package changelog

import (
	"errors"
	"fmt"

	domain "releasedock/backend/internal/domain/changelog"
)

var (
	// ErrEntryNotFound 表示指定日志不存在。
	ErrEntryNotFound = errors.New("changelog entry not found")
	// ErrForbidden 表示调用者不属于该项目或权限不足。
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState 表示当前状态下不允许执行该迁移。
	ErrInvalidState = errors.New("invalid state transition")
	// ErrInvalidInput 表示请求参数不合法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrConcurrentModification 表示多次重试后仍与其他写入冲突。
	ErrConcurrentModification = errors.New("entry modified concurrently")
)

// InvalidStateError 携带迁移名称与当前状态，errors.Is(err, ErrInvalidState) 成立。
type InvalidStateError struct {
	Transition string
	Current    domain.Status
	Required   domain.Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s requires status %s, entry is %s", e.Transition, e.Required, e.Current)
}

// Unwrap 让 errors.Is 可以匹配 ErrInvalidState。
func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
