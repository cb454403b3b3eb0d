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
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Bank struct {
		TTL string `yaml:"ttl"`
	} `yaml:"bank"`
	Exam struct {
		DefaultTimeLimit string `yaml:"defaultTimeLimit"`
	} `yaml:"exam"`
	Dispatch struct {
		Workers     int    `yaml:"workers"`
		Queue       int    `yaml:"queue"`
		MaxOverflow int    `yaml:"maxOverflow"`
		TaskTimeout string `yaml:"taskTimeout"`
		EventTTL    string `yaml:"eventTtl"`
	} `yaml:"dispatch"`
	Achievements struct {
		VideoLessonHours float64 `yaml:"videoLessonHours"`
	} `yaml:"achievements"`
	Certificates struct {
		PassScore float64 `yaml:"passScore"`
	} `yaml:"certificates"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
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

// Duration parses a duration string or returns the fallback if empty or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// IntOr returns v when positive, fallback otherwise.
func IntOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// FloatOr returns v when positive, fallback otherwise.
func FloatOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
