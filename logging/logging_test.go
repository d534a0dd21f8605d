package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func envOf(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestDefaultConfig(t *testing.T) {
	rt := DefaultConfig(ProfileRuntime)
	assert.Equal(t, zerolog.InfoLevel, rt.Level)
	assert.True(t, rt.Timestamp)

	tc := DefaultConfig(ProfileTest)
	assert.Equal(t, zerolog.DebugLevel, tc.Level)
	assert.False(t, tc.Timestamp)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig(ProfileRuntime)
	ApplyEnvOverrides(&cfg, envOf(map[string]string{
		EnvLogLevel:     " WARNING ",
		EnvLogTimestamp: "false",
		EnvLogNoColor:   "1",
	}))
	assert.Equal(t, zerolog.WarnLevel, cfg.Level)
	assert.False(t, cfg.Timestamp)
	assert.True(t, cfg.NoColor)

	// Unparseable values leave the defaults alone
	cfg = DefaultConfig(ProfileTest)
	ApplyEnvOverrides(&cfg, envOf(map[string]string{
		EnvLogLevel:   "loud",
		EnvLogNoColor: "maybe",
	}))
	assert.Equal(t, zerolog.DebugLevel, cfg.Level)
	assert.False(t, cfg.NoColor)
}

func TestInstall(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Install(Config{Level: zerolog.InfoLevel, NoColor: true, Out: &buf})
	logger := New("msgrpcd")
	logger.Debug().Msg("hidden")
	logger.Info().Str("procedure", "double").Msg("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "app=msgrpcd")
	assert.Contains(t, out, "procedure=double")
}
