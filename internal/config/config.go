// Package config holds the recorder configuration.
//
// Configuration is loaded from a YAML file and validated before use.
// Every field has a working default so the daemon can run with no
// config file at all.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete recorder configuration.
type Config struct {
	// Listen is the UDP address to receive market data on.
	Listen ListenConfig `yaml:"listen"`

	// DataDir is the directory holding the per-day shard files.
	DataDir string `yaml:"data_dir"`

	// Queue configures the bounded hand-off queue between the
	// receiver and the writer.
	Queue QueueConfig `yaml:"queue"`

	// Batch configures flush thresholds for the writer.
	Batch BatchConfig `yaml:"batch"`

	// Receiver configures the UDP receive loop.
	Receiver ReceiverConfig `yaml:"receiver"`

	// Shutdown configures the bounded waits of the stop sequence.
	Shutdown ShutdownConfig `yaml:"shutdown"`

	// StatsInterval is the period between status report lines.
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// ListenConfig is the UDP bind address.
type ListenConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`

	// Port is the UDP port.
	Port int `yaml:"port"`
}

// Addr returns the host:port string for net.ResolveUDPAddr.
func (l ListenConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// SplitListenAddr parses a host:port string into its parts.
func SplitListenAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	return host, port, nil
}

// QueueConfig configures the bounded hand-off queue.
type QueueConfig struct {
	// Capacity is the maximum number of queued messages. A full
	// queue blocks the receiver (backpressure) rather than dropping.
	Capacity int `yaml:"capacity"`

	// PopTimeout is how long the writer waits for a message before
	// re-checking its time-based flush trigger.
	PopTimeout time.Duration `yaml:"pop_timeout"`
}

// BatchConfig configures writer flush thresholds.
type BatchConfig struct {
	// Size triggers a flush when the accumulation buffer reaches it.
	Size int `yaml:"size"`

	// FlushInterval triggers a flush when this much time elapsed
	// since the last one. Halved while draining during shutdown.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// ReceiverConfig configures the UDP receive loop.
type ReceiverConfig struct {
	// ReadBufferSize is the requested OS receive buffer, in bytes.
	// Large bursts from replay sources need tens of megabytes.
	ReadBufferSize int `yaml:"read_buffer_size"`

	// SocketTimeout is the per-read deadline. It bounds how stale
	// the idle check can be.
	SocketTimeout time.Duration `yaml:"socket_timeout"`

	// IdleTimeout is how long the receiver waits without data before
	// stopping itself. Zero disables idle auto-stop.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// ShutdownConfig configures bounded waits during the stop sequence.
type ShutdownConfig struct {
	// ReceiverJoin is the wait for the receiver loop to end.
	ReceiverJoin time.Duration `yaml:"receiver_join"`

	// DrainBudget is the overall wait for queue and buffer to empty.
	DrainBudget time.Duration `yaml:"drain_budget"`

	// WriterJoin is the final wait for the writer loop to end.
	WriterJoin time.Duration `yaml:"writer_join"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Host: "127.0.0.1",
			Port: 5555,
		},
		DataDir: "market_data_db",
		Queue: QueueConfig{
			Capacity:   2_000_000,
			PopTimeout: time.Second,
		},
		Batch: BatchConfig{
			Size:          100_000,
			FlushInterval: 300 * time.Millisecond,
		},
		Receiver: ReceiverConfig{
			ReadBufferSize: 32 * 1024 * 1024, // 32MB
			SocketTimeout:  2 * time.Second,
			IdleTimeout:    30 * time.Second,
		},
		Shutdown: ShutdownConfig{
			ReceiverJoin: 5 * time.Second,
			DrainBudget:  120 * time.Second,
			WriterJoin:   30 * time.Second,
		},
		StatsInterval: 5 * time.Second,
	}
}
