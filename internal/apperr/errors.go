// Package apperr defines the error taxonomy shared by the store, the job
// tracker and the transport layers.
package apperr

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrInvalidPath      = errors.New("invalid path")
	ErrNotFound         = errors.New("not found")
	ErrRejected         = errors.New("rejected")
	ErrStoreWriteFailed = errors.New("store write failed")
	ErrDispatchFailed   = errors.New("dispatch failed")
)

// Business-rule refusals. Each one also matches ErrRejected.
var (
	ErrWrongAssignee   = reject("only agent actions can be run")
	ErrCooldown        = reject("action is on cooldown")
	ErrProtectedFolder = reject("folder is protected")
	ErrJobIDMismatch   = reject("job id mismatch")
	ErrNoAssociatedJob = reject("no job is associated with this action")
	ErrActionIndex     = reject("action index out of range")
	ErrFolderNotEmpty  = reject("folder still contains notes")
)

type rejection struct {
	msg string
}

func reject(msg string) error { return &rejection{msg: msg} }

func (r *rejection) Error() string { return r.msg }

func (r *rejection) Is(target error) bool { return target == ErrRejected }

// CooldownError reports how long a caller must wait before re-dispatching.
type CooldownError struct {
	Remaining time.Duration
}

// Seconds returns the remaining wait rounded up to whole seconds.
func (e *CooldownError) Seconds() int {
	return int(math.Ceil(e.Remaining.Seconds()))
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("action already ran recently, wait %ds before retrying", e.Seconds())
}

func (e *CooldownError) Unwrap() error { return ErrCooldown }

// WriteFailed wraps an I/O error so it matches ErrStoreWriteFailed while
// keeping the underlying cause.
func WriteFailed(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreWriteFailed, err)
}
