// Package config loads tiercache settings from the environment or a viper
// instance and turns them into cache.Options.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"
	"github.com/spf13/viper"

	"github.com/IvanBrykalov/tiercache/cache"
)

// EnvPrefix prefixes every environment variable read by FromEnv.
const EnvPrefix = "TIERCACHE_"

// Config is the flat, serializable form of cache.Options.
// Byte sizes accept human-readable values such as "64MiB" or "1.5GB".
type Config struct {
	DiskRoot              string        `env:"DISK_ROOT" mapstructure:"disk_root"`
	MaxMemory             string        `env:"MAX_MEMORY" envDefault:"100MiB" mapstructure:"max_memory"`
	MaxDisk               string        `env:"MAX_DISK" envDefault:"0" mapstructure:"max_disk"`
	DefaultTTL            time.Duration `env:"DEFAULT_TTL" envDefault:"1h" mapstructure:"default_ttl"`
	LargeItemFraction     float64       `env:"LARGE_ITEM_FRACTION" envDefault:"0.3" mapstructure:"large_item_fraction"`
	DemoteAccessThreshold int           `env:"DEMOTE_ACCESS_THRESHOLD" envDefault:"3" mapstructure:"demote_access_threshold"`
	DiskFanout            int           `env:"DISK_FANOUT" envDefault:"16" mapstructure:"disk_fanout"`
	Compression           bool          `env:"COMPRESSION" mapstructure:"compression"`
	CompressionLevel      int           `env:"COMPRESSION_LEVEL" envDefault:"3" mapstructure:"compression_level"`
	CompressMinBytes      int           `env:"COMPRESS_MIN_BYTES" envDefault:"1024" mapstructure:"compress_min_bytes"`
	CoalesceWrap          bool          `env:"COALESCE_WRAP" mapstructure:"coalesce_wrap"`
	LogLevel              string        `env:"LOG_LEVEL" envDefault:"info" mapstructure:"log_level"`
}

// Default returns the configuration described by the envDefault tags,
// ignoring the process environment.
func Default() Config {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Environment: map[string]string{}})
	if err != nil {
		// Tag defaults are static; a failure here is a programming error.
		panic(err)
	}
	return cfg
}

// FromEnv reads TIERCACHE_* variables on top of the defaults.
func FromEnv() (Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: EnvPrefix})
	if err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to parse environment")
	}
	return cfg, cfg.Validate()
}

// SetDefaults registers every key with v so that Unmarshal also sees values
// that only exist in the environment.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("disk_root", d.DiskRoot)
	v.SetDefault("max_memory", d.MaxMemory)
	v.SetDefault("max_disk", d.MaxDisk)
	v.SetDefault("default_ttl", d.DefaultTTL)
	v.SetDefault("large_item_fraction", d.LargeItemFraction)
	v.SetDefault("demote_access_threshold", d.DemoteAccessThreshold)
	v.SetDefault("disk_fanout", d.DiskFanout)
	v.SetDefault("compression", d.Compression)
	v.SetDefault("compression_level", d.CompressionLevel)
	v.SetDefault("compress_min_bytes", d.CompressMinBytes)
	v.SetDefault("coalesce_wrap", d.CoalesceWrap)
	v.SetDefault("log_level", d.LogLevel)
}

// FromViper decodes the tiercache keys of v over the defaults.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "failed to decode configuration")
	}
	return cfg, cfg.Validate()
}

// Validate checks ranges and parses byte sizes and the log level.
func (c Config) Validate() error {
	if _, err := c.maxMemoryBytes(); err != nil {
		return err
	}
	if _, err := c.maxDiskBytes(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch {
	case c.DefaultTTL < 0:
		return errors.New(errors.CodeInvalidConfig, "default_ttl must not be negative")
	case c.LargeItemFraction < 0 || c.LargeItemFraction > 1:
		return errors.Newf(errors.CodeInvalidConfig, "large_item_fraction %v out of range [0,1]", c.LargeItemFraction)
	case c.DemoteAccessThreshold < 0:
		return errors.New(errors.CodeInvalidConfig, "demote_access_threshold must not be negative")
	case c.DiskFanout < 0 || c.DiskFanout > 256:
		return errors.Newf(errors.CodeInvalidConfig, "disk_fanout %d out of range [0,256]", c.DiskFanout)
	case c.CompressionLevel < 0 || c.CompressionLevel > 22:
		return errors.Newf(errors.CodeInvalidConfig, "compression_level %d out of range [0,22]", c.CompressionLevel)
	case c.CompressMinBytes < 0:
		return errors.New(errors.CodeInvalidConfig, "compress_min_bytes must not be negative")
	}
	return nil
}

// Level parses LogLevel ("" means info).
func (c Config) Level() (log.Level, error) {
	if c.LogLevel == "" {
		return log.InfoLevel, nil
	}
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid log_level %q", c.LogLevel)
	}
	return lvl, nil
}

// Options converts c into cache.Options. logger may be nil.
func (c Config) Options(logger *log.Logger) (cache.Options, error) {
	if err := c.Validate(); err != nil {
		return cache.Options{}, err
	}
	mem, _ := c.maxMemoryBytes()
	disk, _ := c.maxDiskBytes()
	return cache.Options{
		MaxMemoryBytes:        mem,
		LargeItemFraction:     c.LargeItemFraction,
		DefaultTTL:            c.DefaultTTL,
		DiskRoot:              c.DiskRoot,
		MaxDiskBytes:          disk,
		DiskFanout:            c.DiskFanout,
		Compression:           c.Compression,
		CompressionLevel:      c.CompressionLevel,
		CompressMinBytes:      c.CompressMinBytes,
		DemoteAccessThreshold: c.DemoteAccessThreshold,
		CoalesceWrap:          c.CoalesceWrap,
		Logger:                logger,
	}, nil
}

func (c Config) maxMemoryBytes() (int64, error) { return parseBytes("max_memory", c.MaxMemory) }
func (c Config) maxDiskBytes() (int64, error)   { return parseBytes("max_disk", c.MaxDisk) }

// parseBytes accepts humanize sizes; "" is zero.
func parseBytes(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid %s %q", field, s)
	}
	if n > 1<<62 {
		return 0, errors.Newf(errors.CodeInvalidConfig, "%s %q too large", field, s)
	}
	return int64(n), nil
}
