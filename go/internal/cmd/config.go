package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the headless client configuration.
type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
	Realtime struct {
		ParticipantsURL   string        `yaml:"participants_url"`
		ActiveSessionURL  string        `yaml:"active_session_url"`
		LifecycleURL      string        `yaml:"lifecycle_url"`
		MinReconnectDelay time.Duration `yaml:"min_reconnect_delay"`
		MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	} `yaml:"realtime"`
	StatePath string `yaml:"state_path"`
	SessionID int    `yaml:"session_id"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.StatePath == "" {
		config.StatePath = "queststate.json"
	}
	return &config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
