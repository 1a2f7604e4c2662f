package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/victornm/coursequiz/internal/config"
	"github.com/victornm/coursequiz/internal/server"
)

func main() {
	path := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the config file, defaults to $CONFIG_PATH")
	flag.Parse()

	c, err := loadConfig(*path)
	if err != nil {
		log.Fatalf("Load config failed: %v", err)
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGTERM, os.Interrupt)

	s, err := server.Init(c)
	if err != nil {
		log.Fatalf("Init server failed: %v", err)
	}

	go s.Start()

	sig := <-shutdown
	log.Printf("Received %s, shutting down", sig)
	s.Shutdown()
}

// loadConfig layers the file, if any, and COURSEQUIZ_* environment variables over the defaults.
func loadConfig(path string) (server.Config, error) {
	c := server.DefaultConfig()

	if err := config.Load(path, &c); err != nil {
		return c, fmt.Errorf("load config: %w", err)
	}

	return c, nil
}
