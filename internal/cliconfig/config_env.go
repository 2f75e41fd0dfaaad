package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (LOGSHIP_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("state-file", os.Getenv("LOGSHIP_STATE_FILE"), &cfg.StateFile)
	s.setStrings("dir", splitList(os.Getenv("LOGSHIP_DIRECTORIES")), &cfg.Directories)
	s.setString("pattern", os.Getenv("LOGSHIP_FILE_PATTERN"), &cfg.FilePattern)
	s.setString("queue", os.Getenv("LOGSHIP_QUEUE"), &cfg.Queue)
	s.setString("amqp-url", os.Getenv("LOGSHIP_AMQP_URL"), &cfg.AMQPURL)
	s.setString("queue-name", os.Getenv("LOGSHIP_QUEUE_NAME"), &cfg.QueueName)
	s.setString("index-url", os.Getenv("LOGSHIP_INDEX_URL"), &cfg.IndexURL)
	s.setString("index-name", os.Getenv("LOGSHIP_INDEX_NAME"), &cfg.IndexName)
	s.setString("index-api-key", os.Getenv("LOGSHIP_INDEX_API_KEY"), &cfg.IndexAPIKey)
	s.setString("metrics-addr", os.Getenv("LOGSHIP_METRICS_ADDR"), &cfg.MetricsAddr)
	s.setString("log-level", os.Getenv("LOGSHIP_LOG_LEVEL"), &cfg.LogLevel)

	if err := s.setDuration("http-timeout", os.Getenv("LOGSHIP_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}

	if err := s.setIntFromString("chunk-size", os.Getenv("LOGSHIP_CHUNK_SIZE"), &cfg.ChunkSize); err != nil {
		return err
	}
	if err := s.setIntFromString("shutdown-timeout", os.Getenv("LOGSHIP_SHUTDOWN_TIMEOUT"), &cfg.ShutdownTimeout); err != nil {
		return err
	}
	if err := s.setIntFromString("prefetch", os.Getenv("LOGSHIP_PREFETCH"), &cfg.Prefetch); err != nil {
		return err
	}
	if err := s.setIntFromString("workers", os.Getenv("LOGSHIP_WORKERS"), &cfg.Workers); err != nil {
		return err
	}

	return nil
}
