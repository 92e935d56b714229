package cli

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetwatch/internal/config"
	"fleetwatch/internal/errors"
)

// chdir mirrors testing.T.Chdir, which is unavailable before Go 1.24.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "dev", formatVersion("dev"))
	assert.Equal(t, "", formatVersion(""))
	assert.Equal(t, "v1.2.3", formatVersion("1.2.3"))
	assert.Equal(t, "v1.2.3", formatVersion("v1.2.3"))
}

func TestInitWritesLoadableConfig(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, initCommand(false))

	cfg, err := config.Load(config.ConfigFileName)
	require.NoError(t, err)
	assert.Equal(t, config.CurrentConfigVersion, cfg.Version)
	assert.Len(t, cfg.Hosts, 2)
	assert.Equal(t, "workstation", cfg.Hosts[0].Name)
	assert.True(t, cfg.Hosts[0].HasGPU)
}

func TestInitRefusesOverwrite(t *testing.T) {
	chdir(t, t.TempDir())

	require.NoError(t, os.WriteFile(config.ConfigFileName, []byte("version: 1\n"), 0o644))

	err := initCommand(false)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))

	// --force replaces it.
	require.NoError(t, initCommand(true))
	_, err = config.Load(config.ConfigFileName)
	assert.NoError(t, err)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["poll"])
	assert.True(t, names["init"])
	assert.True(t, names["version"])
}
