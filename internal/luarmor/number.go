// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

package luarmor

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a numeric field that upstream sometimes sends as a string.
// Anything that does not parse as a finite number decodes to zero.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = 0
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	var raw string
	switch data[0] {
	case '"':
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil //nolint:nilerr // malformed values count as zero
		}
		raw = strings.TrimSpace(raw)
	case 't':
		if string(data) == "true" {
			*n = 1
		}
		return nil
	default:
		raw = string(data)
	}

	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return nil //nolint:nilerr // malformed values count as zero
	}
	*n = Number(v)
	return nil
}

// Int64 returns the value truncated to an integer.
func (n Number) Int64() int64 {
	return int64(n)
}

// Float64 returns the value as a float64.
func (n Number) Float64() float64 {
	return float64(n)
}
