// Package acserr classifies the error taxonomy used across the daemon core.
//
// Each exported sentinel corresponds to one row of spec.md §7. Callers build
// errors with the NotFoundf/Storagef/... constructors, whose Unwrap yields the
// sentinel, and check them with errors.Is/KindOf.
package acserr

import (
	"errors"
	"fmt"
)

// Kind identifies which row of the error taxonomy an error belongs to.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindStorage
	KindCron
	KindSpawn
	KindTimeout
	KindLag
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindCron:
		return "cron"
	case KindSpawn:
		return "spawn"
	case KindTimeout:
		return "timeout"
	case KindLag:
		return "lag"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrValidation = errors.New("validation")
	ErrStorage    = errors.New("storage")
	ErrCron       = errors.New("cron")
	ErrSpawn      = errors.New("spawn")
	ErrTimeout    = errors.New("timeout")
	ErrLag        = errors.New("lag")
)

var sentinelKind = map[error]Kind{
	ErrNotFound:   KindNotFound,
	ErrConflict:   KindConflict,
	ErrValidation: KindValidation,
	ErrStorage:    KindStorage,
	ErrCron:       KindCron,
	ErrSpawn:      KindSpawn,
	ErrTimeout:    KindTimeout,
	ErrLag:        KindLag,
}

// KindOf classifies err against the known sentinels, walking the wrap chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for sentinel, kind := range sentinelKind {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// NotFoundf wraps ErrNotFound with a formatted message.
func NotFoundf(format string, args ...any) error { return wrapf(ErrNotFound, format, args...) }

// Conflictf wraps ErrConflict with a formatted message.
func Conflictf(format string, args ...any) error { return wrapf(ErrConflict, format, args...) }

// Validationf wraps ErrValidation with a formatted message.
func Validationf(format string, args ...any) error { return wrapf(ErrValidation, format, args...) }

// Storagef wraps ErrStorage with a formatted message.
func Storagef(format string, args ...any) error { return wrapf(ErrStorage, format, args...) }

// Spawnf wraps ErrSpawn with a formatted message.
func Spawnf(format string, args ...any) error { return wrapf(ErrSpawn, format, args...) }

// Timeoutf wraps ErrTimeout with a formatted message.
func Timeoutf(format string, args ...any) error { return wrapf(ErrTimeout, format, args...) }

func wrapf(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.sentinel }
