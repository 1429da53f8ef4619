package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOr_PrefersEnvWhenSet(t *testing.T) {
	t.Setenv("MMPROXY_LOG_LEVEL", "debug")
	assert.Equal(t, "debug", envOr("MMPROXY_LOG_LEVEL", "info"))
}

func TestEnvOr_FallsBackWhenUnset(t *testing.T) {
	t.Setenv("MMPROXY_LOG_LEVEL", "")
	assert.Equal(t, "info", envOr("MMPROXY_LOG_LEVEL", "info"))
}

func TestRootCmd_RequiresMark(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"--ipv4-fwd=127.0.0.1:9000", "--ipv6-fwd=[::1]:9000"})
	cmd.SilenceErrors = true
	err := cmd.Execute()
	assert.Error(t, err)
}
