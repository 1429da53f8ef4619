package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		ListenAddr:  "0.0.0.0:8443",
		IPv4Forward: "127.0.0.1:443",
		IPv6Forward: "[::1]:443",
		CloseAfter:  60,
		Mark:        123,
		Listeners:   1,
		Protocol:    ProtocolTCP,
		LogLevel:    "info",
	}
}

func TestConfig_Validate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestConfig_Validate_MissingListenAddr(t *testing.T) {
	c := validConfig()
	c.ListenAddr = ""
	assert.Error(t, c.Validate())
}

func TestConfig_Validate_BadProtocol(t *testing.T) {
	c := validConfig()
	c.Protocol = "sctp"
	assert.Error(t, c.Validate())
}

func TestConfig_Validate_ZeroListeners(t *testing.T) {
	c := validConfig()
	c.Listeners = 0
	assert.Error(t, c.Validate())
}

func TestLoadAllowedSubnets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnets.txt")
	content := "# comment\n\n10.0.0.0/8\n2001:db8::/32\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	nets, err := LoadAllowedSubnets(path)
	require.NoError(t, err)
	require.Len(t, nets, 2)
	assert.Equal(t, "10.0.0.0/8", nets[0].String())
	assert.Equal(t, "2001:db8::/32", nets[1].String())
}

func TestLoadAllowedSubnets_BadLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnets.txt")
	require.NoError(t, os.WriteFile(path, []byte("not-a-cidr\n"), 0o644))

	_, err := LoadAllowedSubnets(path)
	assert.Error(t, err)
}
