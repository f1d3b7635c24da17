// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWireDevice_RoundTripsOverGob(t *testing.T) {
	d := &fakeDevice{
		seqNum: 42, devPath: "/devices/a", devPathOld: "/devices/old",
		devNum: DevNum{Major: 8, Minor: 1}, isBlock: true, ifIndex: 3,
		action: "add", subsystem: "block", devType: "disk",
		sysName: "sda", sysPath: "/sys/devices/a", devName: "/dev/sda",
	}

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(NewWireDevice(d)))

	var out WireDevice
	require.NoError(t, gob.NewDecoder(&buf).Decode(&out))

	assert.Equal(t, d.SeqNum(), out.SeqNum())
	assert.Equal(t, d.DevPath(), out.DevPath())
	assert.Equal(t, d.DevPathOld(), out.DevPathOld())
	assert.Equal(t, d.DevNum(), out.DevNum())
	assert.Equal(t, d.IsBlock(), out.IsBlock())
	assert.Equal(t, d.IfIndex(), out.IfIndex())
	assert.Equal(t, d.Action(), out.Action())
	assert.Equal(t, d.Subsystem(), out.Subsystem())
	assert.Equal(t, d.DevType(), out.DevType())
	assert.Equal(t, d.SysName(), out.SysName())
	assert.Equal(t, d.SysPath(), out.SysPath())
	assert.Equal(t, d.DevName(), out.DevName())
}

func TestAckFrame_IsExactlyAckFrameSizeBytes(t *testing.T) {
	f := AckFrame()
	assert.Len(t, f[:], ackFrameSize)
	assert.Equal(t, ackStatusProcessed, f[0])
}
