// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Log struct {
		// Page size used when the client does not request one.
		PageSize int `json:"page_size"`
	} `json:"log"`

	Diff struct {
		// Context lines around each hunk.
		ContextLines int `json:"context_lines"`
	} `json:"diff"`

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

func getConfigPath() string {
	env := os.Getenv("KEEL_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = getConfigPath()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	if config.Log.PageSize <= 0 {
		config.Log.PageSize = 100
	}
	if config.Diff.ContextLines <= 0 {
		config.Diff.ContextLines = 3
	}

	return &config, nil
}
