// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package egress

import (
	"time"

	"golang.org/x/time/rate"
)

// RateGate bounds the outbound request rate with a token bucket.
//
// Description:
//
//	Wraps a rate.Limiter configured in requests per minute. When a request
//	would exceed the rate, Allow reports how long the caller would have to
//	wait, without consuming a slot.
//
// Thread Safety: Safe for concurrent use (rate.Limiter is concurrent-safe).
type RateGate struct {
	limiter *rate.Limiter
}

// NewRateGate creates a gate allowing perMinute sustained requests with the
// given burst. perMinute <= 0 disables limiting.
func NewRateGate(perMinute, burst int) *RateGate {
	if perMinute <= 0 {
		return &RateGate{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &RateGate{
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
	}
}

// Allow reports whether a request may proceed now.
//
// Outputs:
//   - bool: True if the request is within the rate.
//   - time.Duration: If rate-limited, how long to wait before retrying.
//     Zero if allowed.
func (g *RateGate) Allow() (bool, time.Duration) {
	res := g.limiter.Reserve()
	if !res.OK() {
		return false, time.Minute
	}
	if d := res.Delay(); d > 0 {
		res.Cancel()
		return false, d
	}
	return true, 0
}
