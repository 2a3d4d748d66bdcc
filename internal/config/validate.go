package config

import (
	"errors"
	"fmt"
	"os"
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}

	if err := c.Listen.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("listen: %w", err))
	}

	if err := c.Queue.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("queue: %w", err))
	}

	if err := c.Batch.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("batch: %w", err))
	}

	if err := c.Receiver.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("receiver: %w", err))
	}

	if err := c.Shutdown.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("shutdown: %w", err))
	}

	if c.StatsInterval <= 0 {
		errs = append(errs, errors.New("stats_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the listen configuration.
func (l *ListenConfig) Validate() error {
	var errs []error

	if l.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if l.Port <= 0 || l.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", l.Port))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the queue configuration.
func (q *QueueConfig) Validate() error {
	var errs []error

	if q.Capacity <= 0 {
		errs = append(errs, errors.New("capacity must be positive"))
	}

	if q.PopTimeout <= 0 {
		errs = append(errs, errors.New("pop_timeout must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the batch configuration.
func (b *BatchConfig) Validate() error {
	var errs []error

	if b.Size <= 0 {
		errs = append(errs, errors.New("size must be positive"))
	}

	if b.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the receiver configuration.
func (r *ReceiverConfig) Validate() error {
	var errs []error

	if r.ReadBufferSize <= 0 {
		errs = append(errs, errors.New("read_buffer_size must be positive"))
	}

	if r.SocketTimeout <= 0 {
		errs = append(errs, errors.New("socket_timeout must be positive"))
	}

	if r.IdleTimeout < 0 {
		errs = append(errs, errors.New("idle_timeout must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Validate checks the shutdown configuration.
func (s *ShutdownConfig) Validate() error {
	var errs []error

	if s.ReceiverJoin <= 0 {
		errs = append(errs, errors.New("receiver_join must be positive"))
	}

	if s.DrainBudget <= 0 {
		errs = append(errs, errors.New("drain_budget must be positive"))
	}

	if s.WriterJoin <= 0 {
		errs = append(errs, errors.New("writer_join must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsureDataDir creates the shard directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir %s: %w", c.DataDir, err)
	}
	return nil
}
