// Copyright 2025 Raamsri Kumar <raam@tinkershack.in>
// Copyright 2025 The StrataSTOR Authors and Contributors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildChildEnv_OverrideReplacesInheritedKey(t *testing.T) {
	v := "bar"
	env := buildChildEnv([]string{"ID_FOO=old", "PATH=/bin"}, map[string]*string{"ID_FOO": &v})

	assert.Contains(t, env, "ID_FOO=bar")
	assert.Contains(t, env, "PATH=/bin")
	assert.NotContains(t, env, "ID_FOO=old")
}

func TestBuildChildEnv_NilOverrideUnsetsInheritedKey(t *testing.T) {
	env := buildChildEnv([]string{"ID_FOO=old", "PATH=/bin"}, map[string]*string{"ID_FOO": nil})

	for _, kv := range env {
		assert.NotContains(t, kv, "ID_FOO=", "an unset override must drop the key entirely")
	}
	assert.Contains(t, env, "PATH=/bin")
}

func TestBuildChildEnv_OverrideOfAbsentKeyIsAppended(t *testing.T) {
	v := "bar"
	env := buildChildEnv([]string{"PATH=/bin"}, map[string]*string{"ID_FOO": &v})

	assert.Contains(t, env, "ID_FOO=bar")
	assert.Contains(t, env, "PATH=/bin")
}

func TestBuildChildEnv_NoOverridesPassesBaseThrough(t *testing.T) {
	env := buildChildEnv([]string{"PATH=/bin"}, nil)
	assert.Equal(t, []string{"PATH=/bin"}, env)
}
