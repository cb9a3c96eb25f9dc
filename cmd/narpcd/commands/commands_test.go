package commands

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionCommandRunsWithoutPanicking(t *testing.T) {
	versionShort = true
	defer func() { versionShort = false }()

	assert.NotPanics(t, func() { versionCmd.Run(versionCmd, nil) })
}

func TestRegistryCommandListsBuiltinRPCs(t *testing.T) {
	require.NoError(t, registryCmd.RunE(registryCmd, nil))
}

func TestInitCommandWritesConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgFile = dir + "/config.yaml"
	defer func() { cfgFile = "" }()

	initForce = false
	defer func() { initForce = false }()

	require.NoError(t, initCmd.RunE(initCmd, nil))
	assert.Error(t, initCmd.RunE(initCmd, nil))

	initForce = true
	assert.NoError(t, initCmd.RunE(initCmd, nil))
}

func TestRootCommandHasExpectedSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[strings.Fields(c.Use)[0]] = true
	}
	assert.True(t, names["version"])
	assert.True(t, names["serve"])
	assert.True(t, names["init"])
	assert.True(t, names["registry"])
}
