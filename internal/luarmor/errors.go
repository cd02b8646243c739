// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package luarmor

import (
	"errors"
	"fmt"
)

// Kind classifies a failed upstream call.
type Kind int

// Failure kinds. Callers switch over every kind.
const (
	// KindAuthBlocked means the upstream refused this server's credentials,
	// usually because the server IP is not whitelisted.
	KindAuthBlocked Kind = iota + 1
	// KindNetwork means the request never produced a usable response.
	KindNetwork
	// KindNotFound means the upstream answered successfully with no matching key.
	KindNotFound
	// KindRejected means the upstream answered but declined the operation.
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindAuthBlocked:
		return "auth_blocked"
	case KindNetwork:
		return "network"
	case KindNotFound:
		return "not_found"
	case KindRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Error is the failure result of a gateway call.
type Error struct {
	Kind   Kind
	Status int    // HTTP status, 0 when no response was received
	Detail string // upstream message or transport error text
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("luarmor %s (status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("luarmor %s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind, true
	}
	return 0, false
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Status
	}
	return 0
}
