package ports

import "time"

// RetentionPolicy bounds how long local history is kept on the edge.
type RetentionPolicy struct {
	SensorLogs time.Duration `yaml:"sensor_logs"`
	Runs       time.Duration `yaml:"runs"`
}

// RetryPolicy bounds a job's delivery attempts.
type RetryPolicy struct {
	Attempts int           `yaml:"attempts"`
	Delay    time.Duration `yaml:"delay"`
	Timeout  time.Duration `yaml:"timeout"`
}
