package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4096, cfg.Pool.SlotSize)
	assert.Equal(t, uint32(48000), cfg.Sink.Rate)
	assert.Equal(t, "linear", cfg.Resampler.Method)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audiocore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink:\n  rate: 44100\n  channels: 1\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(44100), cfg.Sink.Rate)
	assert.Equal(t, uint8(1), cfg.Sink.Channels)
	assert.Equal(t, 4096, cfg.Pool.SlotSize)
}

func TestValidateRejectsUnknownSampleFormat(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Sink.Format = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroRate(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Source.Rate = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresBrokerWhenMQTTEnabled(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Broker = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadAutoloadKind(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Autoload = []AutoloadBinding{{Name: "module-echo-cancel", Kind: "bogus", Args: ""}}
	assert.Error(t, cfg.Validate())
}

func TestLoadAppliesLogRotationDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB)
	assert.Equal(t, 3, cfg.Log.MaxBackups)
	assert.Equal(t, 28, cfg.Log.MaxAgeDays)
}

func TestValidateRejectsNonPositiveLogMaxSize(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	cfg.Log.MaxSizeMB = 0
	assert.Error(t, cfg.Validate())
}

func TestSampleFormatParsesKnownCode(t *testing.T) {
	f, err := SampleFormat("s32le")
	require.NoError(t, err)
	assert.Equal(t, 4, f.BytesPerSample())
}

func TestRegistryKindRoundTripsStringForm(t *testing.T) {
	k, err := RegistryKind("sink-input")
	require.NoError(t, err)
	assert.Equal(t, "sink-input", k.String())
}
