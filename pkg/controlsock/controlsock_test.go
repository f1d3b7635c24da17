// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

package controlsock

import (
	"testing"

	"github.com/stratastor/logger"
	"github.com/stratastor/udevd/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) logger.Logger {
	l, err := logger.NewTag(logger.Config{LogLevel: "debug"}, "test.controlsock")
	require.NoError(t, err)
	return l
}

func TestDecodeLine_SetLogLevel(t *testing.T) {
	msg, ok := decodeLine("SET_LOG_LEVEL 7", testLogger(t))
	require.True(t, ok)
	assert.Equal(t, engine.OpSetLogLevel, msg.Op)
	assert.Equal(t, 7, msg.LogLevel)
}

func TestDecodeLine_SetLogLevelMalformed(t *testing.T) {
	_, ok := decodeLine("SET_LOG_LEVEL notanumber", testLogger(t))
	assert.False(t, ok)

	_, ok = decodeLine("SET_LOG_LEVEL", testLogger(t))
	assert.False(t, ok)
}

func TestDecodeLine_EnvWithValue(t *testing.T) {
	msg, ok := decodeLine("ENV ID_FOO=bar", testLogger(t))
	require.True(t, ok)
	assert.Equal(t, engine.OpSetEnv, msg.Op)
	assert.Equal(t, "ID_FOO", msg.EnvKey)
	assert.Equal(t, "bar", msg.EnvValue)
	assert.True(t, msg.EnvHasValue)
}

func TestDecodeLine_EnvUnset(t *testing.T) {
	msg, ok := decodeLine("ENV ID_FOO=", testLogger(t))
	require.True(t, ok)
	assert.Equal(t, "ID_FOO", msg.EnvKey)
	assert.False(t, msg.EnvHasValue)
}

func TestDecodeLine_EnvMissingEquals(t *testing.T) {
	_, ok := decodeLine("ENV ID_FOO", testLogger(t))
	assert.False(t, ok)
}

func TestDecodeLine_ChildrenMax(t *testing.T) {
	msg, ok := decodeLine("CHILDREN_MAX 16", testLogger(t))
	require.True(t, ok)
	assert.Equal(t, engine.OpSetChildrenMax, msg.Op)
	assert.Equal(t, 16, msg.ChildrenMax)
}

func TestDecodeLine_SimpleVerbs(t *testing.T) {
	cases := map[string]engine.ControlOp{
		"STOP_EXEC_QUEUE":  engine.OpStopExecQueue,
		"START_EXEC_QUEUE": engine.OpStartExecQueue,
		"RELOAD":           engine.OpReload,
		"PING":             engine.OpPing,
		"EXIT":             engine.OpExit,
		"exit":             engine.OpExit, // verbs are case-insensitive
	}
	for verb, op := range cases {
		msg, ok := decodeLine(verb, testLogger(t))
		require.True(t, ok, verb)
		assert.Equal(t, op, msg.Op, verb)
	}
}

func TestDecodeLine_UnknownVerb(t *testing.T) {
	_, ok := decodeLine("FROB_THE_WIDGET", testLogger(t))
	assert.False(t, ok)
}

func TestDecodeLine_BlankLine(t *testing.T) {
	_, ok := decodeLine("", testLogger(t))
	assert.False(t, ok)
}
