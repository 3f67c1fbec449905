package messaging

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/lib/pq"
	redis "github.com/redis/go-redis/v9"

	"messaging-service/internal/identity"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// Error taxonomy. Every error returned by this package wraps exactly one of these.
var (
	ErrUnauthenticated = identity.ErrUnauthenticated
	ErrPermission      = errors.New("permission denied")
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrTimeout         = errors.New("timeout")
	ErrUnavailable     = errors.New("unavailable")
)

var taxonomy = []error{ErrUnauthenticated, ErrPermission, ErrValidation, ErrNotFound, ErrConflict, ErrTimeout, ErrUnavailable}

// Retryable reports whether the caller may retry the same request.
func Retryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrUnavailable)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func permissionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPermission, fmt.Sprintf(format, args...))
}

// classify maps a store error onto the taxonomy and counts it.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range taxonomy {
		if errors.Is(err, kind) {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	kind := storeErrorKind(err)
	observability.IncStoreError(op, errorClass(kind))
	if kind == nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

func storeErrorKind(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	case errors.Is(err, repositories.ErrConversationNotFound),
		errors.Is(err, repositories.ErrMessageNotFound),
		errors.Is(err, repositories.ErrParticipantNotFound),
		errors.Is(err, repositories.ErrPresenceNotFound):
		return ErrNotFound
	case errors.Is(err, repositories.ErrNotParticipant), errors.Is(err, repositories.ErrNotSender):
		return ErrPermission
	case errors.Is(err, repositories.ErrMessageDeleted):
		return ErrValidation
	case errors.Is(err, repositories.ErrDirectConflict):
		return ErrConflict
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, redis.ErrClosed):
		return ErrUnavailable
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505", pqErr.Code == "40001", pqErr.Code == "40P01":
			return ErrConflict
		case pqErr.Code == "23503":
			return ErrNotFound
		case pqErr.Code == "23514", pqErr.Code == "22P02", pqErr.Code == "23502":
			return ErrValidation
		case pqErr.Code == "57014":
			return ErrTimeout
		case pqErr.Code.Class() == "08", pqErr.Code.Class() == "53", pqErr.Code == "57P01", pqErr.Code == "57P03":
			return ErrUnavailable
		}
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrTimeout
		}
		return ErrUnavailable
	}
	return nil
}

func errorClass(kind error) string {
	switch kind {
	case nil:
		return "internal"
	case ErrTimeout:
		return "timeout"
	case ErrUnavailable:
		return "unavailable"
	case ErrNotFound:
		return "not_found"
	case ErrConflict:
		return "conflict"
	case ErrPermission:
		return "permission"
	case ErrValidation:
		return "validation"
	}
	return "other"
}
