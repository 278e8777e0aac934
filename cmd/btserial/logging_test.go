package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogger_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		cfgLevel string
		expected logrus.Level
	}{
		{name: "config level by default", cfgLevel: "warn", expected: logrus.WarnLevel},
		{name: "verbose beats config", args: []string{"--verbose"}, cfgLevel: "warn", expected: logrus.DebugLevel},
		{name: "log-level beats verbose", args: []string{"--verbose", "--log-level", "error"}, cfgLevel: "info", expected: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.LogLevel = tt.cfgLevel

			logger, err := configureLogger(newTestCommand(tt.args...), cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, logger.GetLevel())
		})
	}
}

func TestConfigureLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := configureLogger(newTestCommand("--log-level", "loud"), config.DefaultConfig())
	assert.ErrorContains(t, err, "invalid log level")
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	// GOAL: Verify --transport and --prefix override values read from --config
	//
	// TEST SCENARIO: file sets transport=rfcomm prefix=OLD -> flags set nus/BMX -> flags win, other file values kept
	path := filepath.Join(t.TempDir(), "btserial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("transport: rfcomm\nprefix: OLD\nmax_attempts: 5\n"), 0o600))

	cfg, err := loadConfig(newTestCommand("--config", path, "--transport", "nus", "--prefix", "BMX"))
	require.NoError(t, err)

	assert.Equal(t, config.TransportNUS, cfg.Transport)
	assert.Equal(t, "BMX", cfg.Prefix)
	assert.Equal(t, 5, cfg.MaxAttempts, "values without a flag MUST come from the file")
}

func TestLoadConfig_InvalidTransportFlag(t *testing.T) {
	_, err := loadConfig(newTestCommand("--transport", "serial"))
	assert.ErrorContains(t, err, "unknown transport")
}
