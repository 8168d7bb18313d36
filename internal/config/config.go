package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	API struct {
		BaseURL string `yaml:"base_url"`
		Token   string `yaml:"token"`
		Timeout string `yaml:"timeout"`
	} `yaml:"api"`
	Timer struct {
		Interval string `yaml:"interval"`
		// ConfirmUnanswered asks before a manual submit with blank questions.
		ConfirmUnanswered bool `yaml:"confirm_unanswered"`
	} `yaml:"timer"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	APIServer struct {
		Port        string   `yaml:"port"`
		JWTSecret   string   `yaml:"jwt_secret"`
		LegacyShape bool     `yaml:"legacy_shape"`
		BlobPath    string   `yaml:"blob_path"`
		SubmitGrace string   `yaml:"submit_grace"`
		Origins     []string `yaml:"allowed_origins"`
	} `yaml:"apiserver"`
}

// Load reads YAML config from path. A missing file yields the zero config
// so every section falls back to its defaults.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
