package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Class.Name = "some-name"
	assert.NoError(t, Validate(cfg))
}

func TestValidateRejectsMissingClassName(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Class.Name = ""
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsZeroShutdownTimeout(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Class.Name = "x"
	cfg.ShutdownTimeout = 0
	assert.Error(t, Validate(cfg))
}

func TestValidateRejectsOutOfRangeMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Class.Name = "x"
	cfg.Metrics.Port = 70000
	assert.Error(t, Validate(cfg))
}

func TestValidateNilConfig(t *testing.T) {
	assert.Error(t, Validate(nil))
}
