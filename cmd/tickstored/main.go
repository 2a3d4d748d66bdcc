// tickstored is the market-data recording daemon. It listens for UDP
// tick and depth lines and persists them into per-day DuckDB shards.
package main

import (
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtxerr/tickstore/internal/config"
	"github.com/xtxerr/tickstore/internal/logging"
	"github.com/xtxerr/tickstore/internal/pipeline"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	listen := flag.String("listen", "", "listen address host:port (overrides config)")
	dataDir := flag.String("data-dir", "", "shard data directory (overrides config)")
	idle := flag.Duration("idle", 0, "idle auto-stop timeout (overrides config, 0 = keep config)")
	jsonLogs := flag.Bool("json-logs", false, "emit JSON logs")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Printf("tickstored %s starting...", Version)

	// Load config
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("No config file found, using defaults")
			cfg = config.DefaultConfig()
		} else {
			log.Fatalf("Load config: %v", err)
		}
	}

	// CLI overrides
	if *listen != "" {
		host, port, err := config.SplitListenAddr(*listen)
		if err != nil {
			log.Fatalf("Parse -listen: %v", err)
		}
		cfg.Listen.Host = host
		cfg.Listen.Port = port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *idle > 0 {
		cfg.Receiver.IdleTimeout = *idle
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLogs)

	if err := cfg.EnsureDataDir(); err != nil {
		log.Fatalf("Create data dir: %v", err)
	}

	log.Printf("Listening on %s, data dir %s", cfg.Listen.Addr(), cfg.DataDir)

	p, err := pipeline.New(cfg)
	if err != nil {
		log.Fatalf("Create pipeline: %v", err)
	}
	p.Start()

	// Signal handling and graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("Shutting down...")
		p.Stop()
	}()

	p.Wait()
	log.Println("Shutdown complete")
}
