// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWatchdogC_NilWhenTickerUnset(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	assert.Nil(t, m.watchdogC())
}

func TestWatchdogC_NonNilWhenTickerArmed(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.watchdog = time.NewTicker(time.Minute)
	defer m.watchdog.Stop()

	assert.NotNil(t, m.watchdogC())
}

func TestOnWatchdog_NotifiesWithWatchdogKeepalive(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	var got string
	m.notifyFunc = func(status string) error {
		got = status
		return nil
	}

	m.onWatchdog()

	assert.Equal(t, "WATCHDOG=1", got)
}

func TestOnWatchdog_NilNotifyFuncIsSafe(t *testing.T) {
	m, _, _, _, _, _, _, _ := testManager()
	m.notifyFunc = nil

	assert.NotPanics(t, func() { m.onWatchdog() })
}
