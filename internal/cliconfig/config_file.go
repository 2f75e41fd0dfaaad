package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	StateFile       string   `toml:"state_file"`
	Directories     []string `toml:"directories"`
	FilePattern     string   `toml:"file_pattern"`
	ChunkSize       int      `toml:"chunk_size"`
	ShutdownTimeout int      `toml:"shutdown_timeout"`
	Queue           string   `toml:"queue"`
	AMQPURL         string   `toml:"amqp_url"`
	QueueName       string   `toml:"queue_name"`
	Prefetch        int      `toml:"prefetch"`
	Workers         int      `toml:"workers"`
	IndexURL        string   `toml:"index_url"`
	IndexName       string   `toml:"index_name"`
	IndexAPIKey     string   `toml:"index_api_key"`
	HTTPTimeout     string   `toml:"http_timeout"`
	MetricsAddr     string   `toml:"metrics_addr"`
	LogLevel        string   `toml:"log_level"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.logship/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".logship", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("state-file", fc.StateFile, &cfg.StateFile)
	s.setStrings("dir", fc.Directories, &cfg.Directories)
	s.setString("pattern", fc.FilePattern, &cfg.FilePattern)
	s.setString("queue", fc.Queue, &cfg.Queue)
	s.setString("amqp-url", fc.AMQPURL, &cfg.AMQPURL)
	s.setString("queue-name", fc.QueueName, &cfg.QueueName)
	s.setString("index-url", fc.IndexURL, &cfg.IndexURL)
	s.setString("index-name", fc.IndexName, &cfg.IndexName)
	s.setString("index-api-key", fc.IndexAPIKey, &cfg.IndexAPIKey)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)

	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}

	s.setInt("chunk-size", fc.ChunkSize, &cfg.ChunkSize)
	s.setInt("shutdown-timeout", fc.ShutdownTimeout, &cfg.ShutdownTimeout)
	s.setInt("prefetch", fc.Prefetch, &cfg.Prefetch)
	s.setInt("workers", fc.Workers, &cfg.Workers)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
