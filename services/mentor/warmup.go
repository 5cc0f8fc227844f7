// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package mentor

import (
	"sync/atomic"
)

// warmupStatus tracks whether startup warmup has completed.
// 0 = not complete, 1 = complete.
// Set from cmd/mentor/main.go and checked by the /ready handler.
var warmupStatus atomic.Int32

// IsWarmupComplete returns true if startup warmup has finished.
//
// Description:
//
//	Checks the global warmup status. This is used by the /ready endpoint
//	to return 503 Service Unavailable until warmup completes.
//
// Thread Safety: This function is safe for concurrent use.
func IsWarmupComplete() bool {
	return warmupStatus.Load() == 1
}

// MarkWarmupComplete marks the warmup as complete.
//
// Description:
//
//	Called from cmd/mentor/main.go once the reasoning client probe has
//	finished (success or failure). After this is called, the /ready
//	endpoint will return 200 OK.
//
// Thread Safety: This function is safe for concurrent use.
func MarkWarmupComplete() {
	warmupStatus.Store(1)
}

// ResetWarmupStatus resets the warmup status to incomplete.
//
// Description:
//
//	Used for testing to reset the warmup state between tests.
//
// Thread Safety: This function is safe for concurrent use.
func ResetWarmupStatus() {
	warmupStatus.Store(0)
}
