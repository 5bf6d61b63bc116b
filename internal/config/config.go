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
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Session struct {
		IdleCheckInterval string `yaml:"idleCheckInterval"`
		CountdownInterval string `yaml:"countdownInterval"`
		ProbeTimeout      string `yaml:"probeTimeout"`
	} `yaml:"session"`
	Probe struct {
		Protocol string `yaml:"protocol"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		VHost    string `yaml:"vhost"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
	} `yaml:"probe"`
	Leaderboard struct {
		Algorithm string `yaml:"algorithm"`
		CacheTTL  string `yaml:"cacheTTL"`
		TimeBased struct {
			BasePoints float64 `yaml:"basePoints"`
			HalfLife   string  `yaml:"halfLife"`
		} `yaml:"timeBased"`
		PointBased struct {
			Correct float64 `yaml:"correct"`
			Partial float64 `yaml:"partial"`
		} `yaml:"pointBased"`
	} `yaml:"leaderboard"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
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
