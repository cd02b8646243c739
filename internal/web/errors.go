// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/account"
	"github.com/flowscripts/flow/internal/egress"
	"github.com/flowscripts/flow/internal/telemetry"
	"github.com/flowscripts/flow/pkg/errutil"
)

// Client-facing messages owned by the HTTP layer.
const (
	MsgInternal        = "Internal server error."
	MsgNotFound        = "API endpoint not found."
	MsgOriginBlocked   = "Request origin is blocked."
	MsgTooManyRequests = "Too many requests, please try again later."
	MsgBodyTooLarge    = "Request body is too large."
	MsgMalformedBody   = "Request body must be valid JSON."
)

// statusMap maps error codes to HTTP status codes.
type statusMap map[string]int

var defaultStatus = statusMap{
	account.CodeValidation:         http.StatusBadRequest,
	account.CodeConflict:           http.StatusBadRequest,
	account.CodeInvalidCredentials: http.StatusBadRequest,
	account.CodeUpstreamRejected:   http.StatusBadRequest,
	account.CodeCooldownActive:     http.StatusBadRequest,
	account.CodeNotFound:           http.StatusNotFound,
	account.CodeTokenMissing:       http.StatusUnauthorized,
	account.CodeTokenInvalid:       http.StatusForbidden,
	account.CodeAuthNotConfigured:  http.StatusInternalServerError,
	account.CodeUpstreamBlocked:    http.StatusInternalServerError,
	account.CodeUpstreamNetwork:    http.StatusBadGateway,
	account.CodeStorage:            http.StatusInternalServerError,
	telemetry.CodeNotConfigured:    http.StatusInternalServerError,
	telemetry.CodeUpstreamFailed:   http.StatusBadGateway,
	egress.CodeLookupFailed:        http.StatusBadGateway,
}

// registerStatus keeps the registration contract: an unreachable license
// service is reported as a server error, not a gateway error.
var registerStatus = statusMap{
	account.CodeUpstreamNetwork: http.StatusInternalServerError,
}

// failure is the JSON body of every error response.
type failure struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	UpstreamStatus *int   `json:"upstream_status,omitempty"`
}

func fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, failure{Success: false, Message: message})
}

// statusFor resolves the HTTP status and public message of err. oops
// reports the innermost code of a chain, so storage codes from the store
// layer fall through to the internal error default.
func statusFor(err error, overrides statusMap) (int, string) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return http.StatusInternalServerError, MsgInternal
	}
	code := errutil.Code(err)

	status, known := overrides[code]
	if !known {
		status, known = defaultStatus[code]
	}
	if !known {
		return http.StatusInternalServerError, MsgInternal
	}

	msg := oopsErr.Public()
	if msg == "" {
		msg = MsgInternal
	}
	return status, msg
}

// respondError writes the failure body for err, logging server-side
// failures with their full context.
func respondError(c *gin.Context, err error, overrides statusMap) {
	status, msg := statusFor(err, overrides)
	body := failure{Success: false, Message: msg}

	if errutil.Code(err) == telemetry.CodeUpstreamFailed {
		if upstream := telemetry.UpstreamStatus(err); upstream != 0 {
			body.UpstreamStatus = &upstream
		}
	}

	if status >= http.StatusInternalServerError {
		errutil.LogError(c.Request.Context(), loggerFrom(c), "request failed", err)
	}
	_ = c.Error(err) //nolint:errcheck // attaches err for the access log
	c.AbortWithStatusJSON(status, body)
}

func isMaxBytes(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
