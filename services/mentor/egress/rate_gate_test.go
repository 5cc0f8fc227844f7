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
	"testing"
)

func TestRateGate_AllowsWithinBurst(t *testing.T) {
	gate := NewRateGate(60, 10)

	for i := 0; i < 10; i++ {
		ok, wait := gate.Allow()
		if !ok {
			t.Fatalf("request %d blocked within burst, wait %v", i, wait)
		}
	}
}

func TestRateGate_BlocksBeyondBurst(t *testing.T) {
	gate := NewRateGate(60, 2)

	for i := 0; i < 2; i++ {
		if ok, _ := gate.Allow(); !ok {
			t.Fatalf("request %d blocked within burst", i)
		}
	}

	ok, wait := gate.Allow()
	if ok {
		t.Fatal("request beyond burst should be blocked")
	}
	if wait <= 0 {
		t.Errorf("blocked request should report a positive wait, got %v", wait)
	}
}

func TestRateGate_UnlimitedWhenDisabled(t *testing.T) {
	gate := NewRateGate(0, 0)

	for i := 0; i < 1000; i++ {
		if ok, _ := gate.Allow(); !ok {
			t.Fatalf("disabled gate blocked request %d", i)
		}
	}
}

func TestRateGate_BurstFloor(t *testing.T) {
	// A zero burst with a positive rate would deadlock every request.
	gate := NewRateGate(60, 0)

	if ok, _ := gate.Allow(); !ok {
		t.Fatal("first request should pass with the floored burst")
	}
}
