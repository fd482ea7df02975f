package common_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"duel_arena/internal/common"
)

func TestHTTPStatusFromError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{common.ErrNotAuthenticated, http.StatusUnauthorized, "NotAuthenticated"},
		{fmt.Errorf("join: %w", common.ErrRoomNotFound), http.StatusNotFound, "RoomNotFound"},
		{common.ErrRoomAlreadyFull, http.StatusConflict, "RoomAlreadyFull"},
		{common.ErrSelfJoinRejected, http.StatusConflict, "SelfJoinRejected"},
		{common.ErrInvalidRoomCode, http.StatusBadRequest, "InvalidRoomCode"},
		{common.ErrStaleMatchAction, http.StatusConflict, "StaleMatchAction"},
		{common.WrapStoreError("op", common.ErrTransientBackend), http.StatusServiceUnavailable, "TransientBackendError"},
		{fmt.Errorf("judge: %w", common.ErrSandboxUnavailable), http.StatusServiceUnavailable, "SandboxUnavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "Internal"},
	}
	for _, tc := range cases {
		if got := common.HTTPStatusFromError(tc.err); got != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, got)
		}
		if got := common.ErrorCode(tc.err); got != tc.code {
			t.Fatalf("%v: expected code %s, got %s", tc.err, tc.code, got)
		}
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := common.Retry(context.Background(), common.RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond}, func() error {
		calls++
		return common.ErrValidation
	})
	if !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRetryRetriesTransientErrors(t *testing.T) {
	calls := 0
	err := common.Retry(context.Background(), common.RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("dial: %w", common.ErrTransientBackend)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryGivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := common.Retry(context.Background(), common.RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}, func() error {
		calls++
		return common.ErrTransientBackend
	})
	if !errors.Is(err, common.ErrTransientBackend) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected initial call plus 2 retries, got %d", calls)
	}
}
