// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package account

import (
	"github.com/samber/oops"

	"github.com/flowscripts/flow/internal/luarmor"
)

// Error codes. The web layer maps each code to an HTTP status.
const (
	CodeValidation         = "ACCOUNT_VALIDATION"
	CodeConflict           = "ACCOUNT_CONFLICT"
	CodeNotFound           = "ACCOUNT_NOT_FOUND"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeCooldownActive     = "HWID_COOLDOWN_ACTIVE"
	CodeTokenMissing       = "AUTH_TOKEN_MISSING"
	CodeTokenInvalid       = "AUTH_TOKEN_INVALID"
	CodeAuthNotConfigured  = "AUTH_NOT_CONFIGURED"
	CodeUpstreamBlocked    = "UPSTREAM_AUTH_BLOCKED"
	CodeUpstreamNetwork    = "UPSTREAM_NETWORK"
	CodeUpstreamRejected   = "UPSTREAM_REJECTED"
	CodeStorage            = "STORAGE_FAILED"
)

// Client-facing messages shared by several operations.
const (
	MsgAuthNotConfigured  = "Server auth is not configured."
	MsgInvalidCredentials = "Invalid credentials"
	MsgUserNotFound       = "User not found in local DB"
	MsgUpstreamBlocked    = "Luarmor firewall blocked the API request! You must whitelist this server IP address in your Luarmor Dashboard."
	MsgTokenMissing       = "No authentication token provided"
	MsgTokenInvalid       = "Invalid or expired token"
	MsgInternal           = "Internal server error."
)

func validationError(field, msg string) error {
	return oops.Code(CodeValidation).With("field", field).Public(msg).Errorf("invalid %s", field)
}

func storageError(op string, err error) error {
	return oops.Code(CodeStorage).With("operation", op).Public(MsgInternal).Wrap(err)
}

// upstreamError maps a gateway failure onto an account error. Messages for
// rejected and network failures are supplied per operation.
func upstreamError(op string, err error, rejectedMsg, networkMsg string) error {
	kind, ok := luarmor.KindOf(err)
	if !ok {
		return oops.Code(CodeUpstreamNetwork).With("operation", op).Public(networkMsg).Wrap(err)
	}

	errb := oops.With("operation", op, "upstream_status", luarmor.StatusOf(err))
	switch kind {
	case luarmor.KindAuthBlocked:
		return errb.Code(CodeUpstreamBlocked).Public(MsgUpstreamBlocked).Wrap(err)
	case luarmor.KindNetwork:
		return errb.Code(CodeUpstreamNetwork).Public(networkMsg).Wrap(err)
	case luarmor.KindNotFound, luarmor.KindRejected:
		return errb.Code(CodeUpstreamRejected).Public(rejectedMsg).Wrap(err)
	default:
		return errb.Code(CodeUpstreamNetwork).Public(networkMsg).Wrap(err)
	}
}
