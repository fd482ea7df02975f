package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"duel_arena/internal/api/middleware"
	"duel_arena/internal/app/service"
	"duel_arena/internal/common"
	"duel_arena/internal/platform/logger"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads r's body into dst, answering 400 itself on failure. An empty body
// leaves dst untouched when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || (allowEmpty && errors.Is(err, io.EOF)) {
		return true
	}
	common.RespondWithJSON(w, http.StatusBadRequest, common.ErrorResponse{
		Error: "Invalid request payload: " + err.Error(),
		Code:  common.ErrorCode(common.ErrBadRequest),
	})
	return false
}

func callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := middleware.GetParticipantIDFromContext(r.Context())
	if !ok {
		common.RespondWithDomainError(w, common.ErrNotAuthenticated)
	}
	return id, ok
}

type discardedResponse struct {
	Status string `json:"status"`
	Code   string `json:"code"`
}

// respondMatchError answers stale match actions with 202 so that clients drop them
// quietly. Everything else goes through the normal error mapping.
func respondMatchError(w http.ResponseWriter, r *http.Request, action string, err error) {
	if service.IsDiscarded(err) {
		logger.Info(r.Context(), "discarded stale match action", zap.String("action", action), zap.Error(err))
		common.RespondWithJSON(w, http.StatusAccepted, discardedResponse{Status: "discarded", Code: common.ErrorCode(err)})
		return
	}
	if common.HTTPStatusFromError(err) >= http.StatusInternalServerError {
		logger.Error(r.Context(), "match action failed", zap.String("action", action), zap.Error(err))
	}
	common.RespondWithDomainError(w, err)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}
