package common

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound           = errors.New("requested resource not found")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrForbidden          = errors.New("forbidden access")
	ErrBadRequest         = errors.New("bad request")
	ErrConflict           = errors.New("resource conflict") // e.g., username already exists
	ErrInternalServer     = errors.New("internal server error")
	ErrValidation         = errors.New("validation failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrJobLockFailed      = errors.New("failed to acquire job lock")

	ErrTransientBackend    = errors.New("transient backend error")
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomAlreadyFull     = errors.New("room already full")
	ErrSelfJoinRejected    = errors.New("cannot join your own room")
	ErrInvalidRoomCode     = errors.New("invalid room code")
	ErrStaleMatchAction    = errors.New("match already resolved")
	ErrMatchNotActive      = errors.New("match is not active")
	ErrMatchNotResolved    = errors.New("match is not resolved")
	ErrQueueEntryGone      = errors.New("queue entry no longer waiting")
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrSandboxUnavailable  = errors.New("judge sandbox unavailable")
)

// HTTPStatusFromError maps domain errors to HTTP status codes.
func HTTPStatusFromError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidRoomCode), errors.Is(err, ErrUnsupportedLanguage):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict), errors.Is(err, ErrRoomAlreadyFull), errors.Is(err, ErrSelfJoinRejected),
		errors.Is(err, ErrMatchNotActive), errors.Is(err, ErrMatchNotResolved), errors.Is(err, ErrQueueEntryGone),
		errors.Is(err, ErrStaleMatchAction), errors.Is(err, ErrJobLockFailed):
		return http.StatusConflict
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrTransientBackend),
		errors.Is(err, ErrSandboxUnavailable):
		return http.StatusServiceUnavailable
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // Unique violation
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ErrorCode returns the stable machine-readable code clients switch on.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotAuthenticated):
		return "NotAuthenticated"
	case errors.Is(err, ErrRoomNotFound):
		return "RoomNotFound"
	case errors.Is(err, ErrRoomAlreadyFull):
		return "RoomAlreadyFull"
	case errors.Is(err, ErrSelfJoinRejected):
		return "SelfJoinRejected"
	case errors.Is(err, ErrInvalidRoomCode):
		return "InvalidRoomCode"
	case errors.Is(err, ErrStaleMatchAction):
		return "StaleMatchAction"
	case errors.Is(err, ErrMatchNotActive):
		return "MatchNotActive"
	case errors.Is(err, ErrMatchNotResolved):
		return "MatchNotResolved"
	case errors.Is(err, ErrQueueEntryGone):
		return "QueueEntryGone"
	case errors.Is(err, ErrUnsupportedLanguage):
		return "UnsupportedLanguage"
	case errors.Is(err, ErrSandboxUnavailable):
		return "SandboxUnavailable"
	case errors.Is(err, ErrTransientBackend), errors.Is(err, ErrServiceUnavailable):
		return "TransientBackendError"
	case errors.Is(err, ErrNotFound):
		return "NotFound"
	case errors.Is(err, ErrForbidden):
		return "Forbidden"
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrValidation):
		return "Validation"
	case errors.Is(err, ErrConflict):
		return "Conflict"
	}
	return "Internal"
}

// IsTransient reports whether err is worth retrying: connection loss, timeouts and
// errors already classified as ErrTransientBackend.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransientBackend) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// WrapStoreError annotates err with the failing operation and tags driver level
// connection failures as ErrTransientBackend.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) && !errors.Is(err, ErrTransientBackend) {
		return fmt.Errorf("%s: %w: %w", op, ErrTransientBackend, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Errorf creates a new error with formatting, useful for wrapping.
func Errorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
