package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, 10*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 3*time.Minute, cfg.CurrentTimeout)
	assert.Equal(t, 5, cfg.WaitUnitMinutes)
	assert.Equal(t, []string{"Gate A", "Gate B", "Gate C", "Gate D"}, cfg.DefaultGates)
	assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("GATE_PENDING_TIMEOUT", "15m")
	t.Setenv("GATE_CURRENT_TIMEOUT", "90s")
	t.Setenv("GATE_WAIT_UNIT_MINUTES", "2")
	t.Setenv("DEFAULT_GATES", " North , ,South")
	t.Setenv("QUEUE_STORE", "memory")

	cfg := LoadConfig()

	assert.Equal(t, 15*time.Minute, cfg.PendingTimeout)
	assert.Equal(t, 90*time.Second, cfg.CurrentTimeout)
	assert.Equal(t, 2, cfg.WaitUnitMinutes)
	assert.Equal(t, []string{"North", "South"}, cfg.DefaultGates)
	assert.Equal(t, "memory", cfg.QueueStore)
}

func TestGetEnvAsDuration_InvalidFallsBack(t *testing.T) {
	t.Setenv("SOME_TIMEOUT", "not-a-duration")

	assert.Equal(t, 3*time.Minute, getEnvAsDuration("SOME_TIMEOUT", "3m"))
}

func TestGetEnvAsInt_Invalid(t *testing.T) {
	t.Setenv("SOME_INT", "abc")

	assert.Equal(t, 7, getEnvAsInt("SOME_INT", 7))
}
