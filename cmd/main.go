package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/reflex/internal/config"
	"github.com/victornm/reflex/internal/server"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	if err := setupLogger(c.Log.Level); err != nil {
		log.Fatalf("Setup logger failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	<-shutdown
	s.Shutdown()
}

// loadConfig reads the file named by CONFIG_PATH, if set, on top of the defaults.
func loadConfig() (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(os.Getenv("CONFIG_PATH"), &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}

func setupLogger(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	return nil
}
