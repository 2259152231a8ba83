package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"carmover/pkg/app"
	"carmover/pkg/config"
	"carmover/pkg/logging"
	"carmover/pkg/server"

	"github.com/spf13/viper"
)

func main() {
	// 1. Load Config
	cfgFile := flag.String("config", "", "config file (default is ./carmover.yaml)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if err := config.Load(*cfgFile); err != nil {
		log.Fatalf("❌ Config error: %v", err)
	}

	logger, err := logging.New(*debug)
	if err != nil {
		log.Fatalf("❌ Logger error: %v", err)
	}
	defer logger.Sync()

	// 2. Init Core Application
	application, err := app.NewApp(context.Background(), logger)
	if err != nil {
		log.Fatalf("❌ Failed to initialize app: %v", err)
	}
	fmt.Println("✅ Carmover workers initialized.")

	// 3. Start Server
	port := viper.GetInt("server.port")
	fmt.Printf("🚀 HTTP server listening on :%d...\n", port)
	if err := server.New(application).Run(port); err != nil {
		log.Fatalf("❌ Failed to serve: %v", err)
	}
}
