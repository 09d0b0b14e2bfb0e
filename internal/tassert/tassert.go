// Package tassert is a minimal test-assertion helper in the call shape
// of the teacher's tools/tassert (unavailable in the retrieval pack, but
// visible at every one of its call sites as CheckFatal(t, err) /
// Fatal(t, cond, args...)).
/*
 * Copyright (c) 2024-2025, Tempo RPC Contributors. All rights reserved.
 */
package tassert

import "testing"

// CheckFatal fails and stops the test immediately if err is non-nil.
func CheckFatal(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Fatal fails and stops the test immediately unless cond holds.
func Fatal(t *testing.T, cond bool, args ...any) {
	t.Helper()
	if !cond {
		t.Fatal(args...)
	}
}

// Errorf fails the test (without stopping it) if cond does not hold.
func Errorf(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Errorf(format, args...)
	}
}
