package ports

import "time"

// Policy bounds the archive path between the observation buffer and the sinks.
type Policy struct {
	MaxWALSizeBytes int64         `yaml:"max_wal_size_bytes"`
	MaxQueueLen     int           `yaml:"max_queue_len"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
	IdleSleep       time.Duration `yaml:"idle_sleep"`
	// MaxSinkRetries bounds write attempts per batch; 0 retries until shutdown.
	MaxSinkRetries int `yaml:"max_sink_retries"`

	OnWALFull   string `yaml:"on_wal_full"`   // "block", "drop"
	OnQueueFull string `yaml:"on_queue_full"` // "block", "drop", "reject"
}
