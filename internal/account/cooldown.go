// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package account

import "fmt"

// HWIDCooldownSeconds is the minimum time between two HWID resets.
const HWIDCooldownSeconds int64 = 86400

// CooldownDecision is the outcome of a cooldown check.
type CooldownDecision struct {
	Allowed          bool
	RemainingSeconds int64
}

// CheckCooldown decides whether a reset is permitted at now given the last
// reset time. Both are unix seconds; a nil lastReset has never been reset.
func CheckCooldown(lastReset *int64, now int64) CooldownDecision {
	if lastReset == nil {
		return CooldownDecision{Allowed: true}
	}
	elapsed := now - *lastReset
	if elapsed >= HWIDCooldownSeconds {
		return CooldownDecision{Allowed: true}
	}
	return CooldownDecision{RemainingSeconds: HWIDCooldownSeconds - elapsed}
}

// Remaining renders the time left as "{hours}h {minutes}m".
func (d CooldownDecision) Remaining() string {
	return FormatRemaining(d.RemainingSeconds)
}

// FormatRemaining renders seconds as "{hours}h {minutes}m", flooring both.
func FormatRemaining(seconds int64) string {
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// HWIDStatus is the dashboard label for the reset button.
func HWIDStatus(lastReset *int64, now int64) string {
	d := CheckCooldown(lastReset, now)
	if d.Allowed {
		return "Ready"
	}
	return d.Remaining() + " remaining"
}
