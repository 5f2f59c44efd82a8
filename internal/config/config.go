// Package config loads build settings from vsbundle.yaml, .env and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/videostream/vsbundle/internal/shim"
)

type Config struct {
	Entry      string       `mapstructure:"entry"`
	Output     string       `mapstructure:"output"`
	Name       string       `mapstructure:"name"`
	Version    string       `mapstructure:"version"`
	Builder    string       `mapstructure:"builder"`
	External   []string     `mapstructure:"external"`
	Transpiler string       `mapstructure:"transpiler"`
	Minifier   string       `mapstructure:"minifier"`
	ChunkSize  int          `mapstructure:"chunk_size"`
	Debug      bool         `mapstructure:"debug"`
	Shim       ShimConfig   `mapstructure:"shim"`
	Babel      BabelConfig  `mapstructure:"babel"`
	Uglify     UglifyConfig `mapstructure:"uglify"`
}

type ShimConfig struct {
	Global         string `mapstructure:"global"`
	DebugVar       string `mapstructure:"debug_var"`
	DebugLevel     int    `mapstructure:"debug_level"`
	LoggerRegistry string `mapstructure:"logger_registry"`
}

type BabelConfig struct {
	Command []string `mapstructure:"command"`
}

type UglifyConfig struct {
	Command []string `mapstructure:"command"`
}

func (s ShimConfig) Options() shim.Options {
	return shim.Options{
		Global:         s.Global,
		DebugVar:       s.DebugVar,
		DebugLevel:     s.DebugLevel,
		LoggerRegistry: s.LoggerRegistry,
	}
}

// Load reads configuration rooted at dir. Missing files are not errors.
func Load(dir string) (*Config, error) {
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("vsbundle")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading vsbundle.yaml: %w", err)
		}
	}

	v.SetEnvPrefix("VSBUNDLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The build identity falls back to the invoking account.
	_ = v.BindEnv("builder", "VSBUNDLE_BUILDER", "USERNAME", "USER")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if cfg.Version == "" {
		version, err := PackageVersion(filepath.Join(dir, "package.json"))
		if err != nil {
			return nil, err
		}
		cfg.Version = version
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := shim.DefaultOptions()
	v.SetDefault("entry", "./bundle/main.js")
	v.SetDefault("output", "-")
	v.SetDefault("name", "videostream")
	v.SetDefault("version", "")
	v.SetDefault("builder", "")
	v.SetDefault("external", []string{})
	v.SetDefault("transpiler", "babel")
	v.SetDefault("minifier", "uglify")
	v.SetDefault("chunk_size", 64<<10)
	v.SetDefault("debug", false)
	v.SetDefault("shim.global", defaults.Global)
	v.SetDefault("shim.debug_var", defaults.DebugVar)
	v.SetDefault("shim.debug_level", defaults.DebugLevel)
	v.SetDefault("shim.logger_registry", defaults.LoggerRegistry)
	v.SetDefault("babel.command", []string{"npx", "babel"})
	v.SetDefault("uglify.command", []string{"npx", "uglifyjs"})
}

// PackageVersion reads the version field of a package.json. A missing file
// yields "0.0.0".
func PackageVersion(path string) (string, error) {
	pkg := viper.New()
	pkg.SetConfigFile(path)
	pkg.SetConfigType("json")
	if err := pkg.ReadInConfig(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "0.0.0", nil
		}
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	if v := pkg.GetString("version"); v != "" {
		return v, nil
	}
	return "0.0.0", nil
}

func (c *Config) Validate() error {
	switch c.Transpiler {
	case "esbuild", "babel":
	default:
		return fmt.Errorf("transpiler must be esbuild or babel, got %q", c.Transpiler)
	}
	switch c.Minifier {
	case "esbuild", "uglify":
	default:
		return fmt.Errorf("minifier must be esbuild or uglify, got %q", c.Minifier)
	}
	if c.Entry == "" {
		return errors.New("entry must be set")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Transpiler == "babel" && len(c.Babel.Command) == 0 {
		return errors.New("babel.command must be set when transpiler is babel")
	}
	if c.Minifier == "uglify" && len(c.Uglify.Command) == 0 {
		return errors.New("uglify.command must be set when minifier is uglify")
	}
	return nil
}
