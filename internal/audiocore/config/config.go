// Package config loads the routing engine's settings the way the
// teacher's internal/conf package loads Settings: a plain nested struct
// populated by viper, with a Validate method checked once at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/audiocore/internal/audiocore/cache"
	"github.com/tphakala/audiocore/internal/audiocore/format"
	"github.com/tphakala/audiocore/internal/audiocore/registry"
)

// Config describes one routing engine instance: its memory pool sizing,
// default sink/source sample specs, resampler choice, sample-cache
// eviction timing, and name-registry autoload bindings.
type Config struct {
	Pool struct {
		SlotSize  int // bytes per pooled slot
		SlotCount int // number of slots in the free list
	}

	Sink struct {
		Name           string
		Format         string // "u8", "s16le", "s32le", "float32le"
		Rate           uint32
		Channels       uint8
		QueueMaxLength int
	}

	Source struct {
		Name           string
		Format         string
		Rate           uint32
		Channels       uint8
		QueueMaxLength int
	}

	Resampler struct {
		Method  string // "linear", "trivial", "ffmpeg"
		Quality int
	}

	Cache struct {
		IdleInterval time.Duration
		IdleTimeout  time.Duration
	}

	Autoload []AutoloadBinding

	MQTT struct {
		Enabled     bool
		Broker      string
		ClientID    string
		TopicPrefix string
	}

	Log struct {
		MaxSizeMB  int // lumberjack rotation threshold
		MaxBackups int
		MaxAgeDays int
	}
}

// AutoloadBinding mirrors one registry.NameRegistry.AddAutoload call.
type AutoloadBinding struct {
	Name string
	Kind string // matches registry.Kind's String() form, e.g. "sink"
	Args string
}

// Load reads path (or the working directory's audiocore.yaml if path is
// empty) into a Config, applying defaults first so a missing or partial
// file still yields a usable configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	applyDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("audiocore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", describePath(path), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func describePath(path string) string {
	if path == "" {
		return filepath.Join(".", "audiocore.yaml")
	}
	return path
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("pool.slotsize", 4096)
	v.SetDefault("pool.slotcount", 64)

	v.SetDefault("sink.name", "default")
	v.SetDefault("sink.format", "s16le")
	v.SetDefault("sink.rate", 48000)
	v.SetDefault("sink.channels", 2)
	v.SetDefault("sink.queuemaxlength", 65536)

	v.SetDefault("source.name", "default")
	v.SetDefault("source.format", "s16le")
	v.SetDefault("source.rate", 48000)
	v.SetDefault("source.channels", 2)
	v.SetDefault("source.queuemaxlength", 65536)

	v.SetDefault("resampler.method", "linear")
	v.SetDefault("resampler.quality", 5)

	v.SetDefault("cache.idleinterval", cache.DefaultIdleInterval)
	v.SetDefault("cache.idletimeout", cache.DefaultIdleTimeout)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.clientid", "audiocore")
	v.SetDefault("mqtt.topicprefix", "audiocore/events")

	v.SetDefault("log.maxsizemb", 100)
	v.SetDefault("log.maxbackups", 3)
	v.SetDefault("log.maxagedays", 28)
}

// SampleFormat parses s (case-sensitive, the lowercase forms the defaults
// and yaml use) into a format.SampleFormat.
func SampleFormat(s string) (format.SampleFormat, error) {
	switch s {
	case "u8":
		return format.U8, nil
	case "s16le":
		return format.S16LE, nil
	case "s16be":
		return format.S16BE, nil
	case "s32le":
		return format.S32LE, nil
	case "s32be":
		return format.S32BE, nil
	case "float32le":
		return format.Float32LE, nil
	case "float32be":
		return format.Float32BE, nil
	default:
		return 0, fmt.Errorf("config: unknown sample format %q", s)
	}
}

// RegistryKind parses s into a registry.Kind by its String() spelling.
func RegistryKind(s string) (registry.Kind, error) {
	for k := registry.KindSink; k <= registry.KindAutoload; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("config: unknown registry kind %q", s)
}

// Validate checks every field for a value the rest of the engine can act
// on: one guard per field, plain fmt.Errorf messages.
func (c *Config) Validate() error {
	if c.Pool.SlotSize <= 0 {
		return fmt.Errorf("config: pool.slotsize must be positive")
	}
	if c.Pool.SlotCount <= 0 {
		return fmt.Errorf("config: pool.slotcount must be positive")
	}

	if _, err := SampleFormat(c.Sink.Format); err != nil {
		return fmt.Errorf("config: sink.format: %w", err)
	}
	if c.Sink.Rate == 0 || c.Sink.Rate > format.MaxRate {
		return fmt.Errorf("config: sink.rate must be in (0, %d]", format.MaxRate)
	}
	if c.Sink.Channels == 0 || int(c.Sink.Channels) > format.MaxChannels {
		return fmt.Errorf("config: sink.channels must be in (0, %d]", format.MaxChannels)
	}
	if c.Sink.QueueMaxLength <= 0 {
		return fmt.Errorf("config: sink.queuemaxlength must be positive")
	}

	if _, err := SampleFormat(c.Source.Format); err != nil {
		return fmt.Errorf("config: source.format: %w", err)
	}
	if c.Source.Rate == 0 || c.Source.Rate > format.MaxRate {
		return fmt.Errorf("config: source.rate must be in (0, %d]", format.MaxRate)
	}
	if c.Source.Channels == 0 || int(c.Source.Channels) > format.MaxChannels {
		return fmt.Errorf("config: source.channels must be in (0, %d]", format.MaxChannels)
	}
	if c.Source.QueueMaxLength <= 0 {
		return fmt.Errorf("config: source.queuemaxlength must be positive")
	}

	switch c.Resampler.Method {
	case "linear", "trivial", "ffmpeg":
	default:
		return fmt.Errorf("config: resampler.method must be one of linear, trivial, ffmpeg")
	}

	if c.Cache.IdleInterval <= 0 {
		return fmt.Errorf("config: cache.idleinterval must be positive")
	}
	if c.Cache.IdleTimeout <= 0 {
		return fmt.Errorf("config: cache.idletimeout must be positive")
	}

	for i, b := range c.Autoload {
		if b.Name == "" {
			return fmt.Errorf("config: autoload[%d].name is required", i)
		}
		if _, err := RegistryKind(b.Kind); err != nil {
			return fmt.Errorf("config: autoload[%d].kind: %w", i, err)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("config: mqtt.broker is required when mqtt.enabled is true")
	}

	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("config: log.maxsizemb must be positive")
	}
	if c.Log.MaxBackups < 0 {
		return fmt.Errorf("config: log.maxbackups must not be negative")
	}
	if c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("config: log.maxagedays must not be negative")
	}

	return nil
}

// EnsureDir makes sure dir exists, used by the demo CLI before writing any
// output file path.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
