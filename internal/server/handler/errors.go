package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triforce-app/triforce/internal/fault"
	"github.com/triforce-app/triforce/internal/logx"
)

// respondError maps a classified error to a JSON status and stable
// error code. Unclassified errors are logged and reported as internal.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logx.Errorf("request failed: path=%s err=%v", c.FullPath(), err)
	}
	c.JSON(status, gin.H{"error": code})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, fault.ErrValidation):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, fault.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, fault.ErrChallengeExpired):
		return http.StatusBadRequest, "challenge_expired"
	case errors.Is(err, fault.ErrVerificationFailed):
		return http.StatusBadRequest, "verification_failed"
	case errors.Is(err, fault.ErrInvalidState):
		return http.StatusBadRequest, "invalid_state"
	case errors.Is(err, fault.ErrExchangeFailed):
		return http.StatusBadGateway, "token_exchange_failed"
	case errors.Is(err, fault.ErrNotConnected):
		return http.StatusBadRequest, "not_connected"
	case errors.Is(err, fault.ErrNoRefreshToken):
		return http.StatusBadRequest, "no_refresh_token"
	case errors.Is(err, fault.ErrRefreshFailed):
		return http.StatusBadGateway, "refresh_failed"
	case errors.Is(err, fault.ErrTokenExpired):
		return http.StatusUnauthorized, "token_expired"
	case errors.Is(err, fault.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// callbackErrorCode maps a callback failure to the error code the
// frontend reads from the redirect query string.
func callbackErrorCode(err error) string {
	switch {
	case errors.Is(err, fault.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, fault.ErrChallengeExpired):
		return "expired_state"
	case errors.Is(err, fault.ErrValidation):
		return "missing_code"
	case errors.Is(err, fault.ErrExchangeFailed):
		return "token_exchange_failed"
	case errors.Is(err, fault.ErrNotFound):
		return "user_not_found"
	default:
		return "server_error"
	}
}
