// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultChildrenMax_ClampedToMemory(t *testing.T) {
	// 256 MiB of physical memory clamps the memory ceiling to 2, which is
	// then raised to the floor of 10.
	assert.Equal(t, 10, DefaultChildrenMax(256*1024*1024))
}

func TestDefaultChildrenMax_ClampedToMemoryCeilingAboveFloor(t *testing.T) {
	// 1920 MiB allows a ceiling of 15, below the cpu-derived count on any
	// machine with more than ~1 core, so the ceiling wins.
	got := DefaultChildrenMax(1920 * 1024 * 1024)
	assert.LessOrEqual(t, got, 15)
	assert.GreaterOrEqual(t, got, 10)
}

func TestDefaultChildrenMax_GenerousMemoryUsesCPUFormula(t *testing.T) {
	got := DefaultChildrenMax(64 << 30) // 64 GiB, nowhere near the ceiling
	assert.GreaterOrEqual(t, got, 10)
}

func TestSyslogPriorityToLevel(t *testing.T) {
	cases := map[int]string{
		0: "error", 1: "error", 2: "error", 3: "error",
		4: "warn", 5: "warn",
		6: "info",
		7: "debug",
	}
	for priority, want := range cases {
		assert.Equal(t, want, syslogPriorityToLevel(priority), "priority %d", priority)
	}
}
