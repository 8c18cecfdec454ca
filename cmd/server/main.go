package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/plastr/extrasolar/internal/config"
	"github.com/plastr/extrasolar/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", os.Getenv("EXTRASOLAR_CONFIG"), "deployment config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}

	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}
}
