package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port             int               `toml:"port"`
	DataDir          string            `toml:"data_dir"`
	DefaultOutputDir string            `toml:"default_output_dir"`
	DefaultFormat    string            `toml:"default_format"`
	APIKey           string            `toml:"api_key"`
	YtDlpPath        string            `toml:"ytdlp_path"`
	Headers          map[string]string `toml:"headers"`
	ProbeTimeout     Duration          `toml:"probe_timeout"`
	ShutdownTimeout  Duration          `toml:"shutdown_timeout"`
}

// Duration accepts "30s"-style strings in the config file.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func Default() Config {
	return Config{
		Port:             8000,
		DataDir:          ".",
		DefaultOutputDir: "./downloads",
		DefaultFormat:    "bestvideo+bestaudio/best",
		Headers: map[string]string{
			"User-Agent": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		ProbeTimeout:    Duration{30 * time.Second},
		ShutdownTimeout: Duration{15 * time.Second},
	}
}

// Load overlays the TOML file at path (if any) and the environment on top of
// the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("decode %s: %w", path, err)
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("YTDLP_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("YTDLP_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	return cfg, nil
}

func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
