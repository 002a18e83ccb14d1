// Package config loads server settings from an optional YAML file and
// IMAGE_MCP_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, so magick.path is
// read from IMAGE_MCP_MAGICK_PATH.
const EnvPrefix = "IMAGE_MCP"

// Config is the complete server configuration.
type Config struct {
	Magick  MagickConfig  `mapstructure:"magick"`
	Scratch ScratchConfig `mapstructure:"scratch"`
	Log     LogConfig     `mapstructure:"log"`
	Batch   BatchConfig   `mapstructure:"batch"`
}

// MagickConfig locates the ImageMagick binaries.
type MagickConfig struct {
	// Path is the directory holding convert and composite.
	Path      string        `mapstructure:"path" default:"/usr/bin" validate:"required"`
	Convert   string        `mapstructure:"convert" default:"convert" validate:"required,excludesall=/\\"`
	Composite string        `mapstructure:"composite" default:"composite" validate:"required,excludesall=/\\"`
	Timeout   time.Duration `mapstructure:"timeout" default:"60s" validate:"gte=0"`
}

// ScratchConfig holds intermediate files. An empty Dir means a subdirectory
// of the OS temp dir.
type ScratchConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level      string `mapstructure:"level" default:"info" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" default:"console" validate:"oneof=console json"`
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max-size" default:"100" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max-backups" default:"5" validate:"gte=0"`
	MaxAge     int    `mapstructure:"max-age" default:"28" validate:"gte=0"`
	Compress   bool   `mapstructure:"compress"`
}

// BatchConfig bounds image_batch parallelism.
type BatchConfig struct {
	Workers int `mapstructure:"workers" default:"4" validate:"min=1,max=64"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	var cfg Config
	_ = defaults.Set(&cfg)
	cfg.Scratch.Dir = defaultScratchDir()
	return cfg
}

func defaultScratchDir() string {
	return filepath.Join(os.TempDir(), "image-magick-mcp")
}

// Load reads file (when non-empty), applies environment overrides and
// validates the result.
func Load(file string) (Config, error) {
	cfg := Default()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Scratch.Dir == "" {
		cfg.Scratch.Dir = defaultScratchDir()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so AutomaticEnv can see it
// during Unmarshal.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("magick.path", cfg.Magick.Path)
	v.SetDefault("magick.convert", cfg.Magick.Convert)
	v.SetDefault("magick.composite", cfg.Magick.Composite)
	v.SetDefault("magick.timeout", cfg.Magick.Timeout)
	v.SetDefault("scratch.dir", cfg.Scratch.Dir)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max-size", cfg.Log.MaxSize)
	v.SetDefault("log.max-backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max-age", cfg.Log.MaxAge)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("batch.workers", cfg.Batch.Workers)
}

// Validate checks field constraints.
func (c Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}
