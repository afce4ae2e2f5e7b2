package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"tunelink/internal/app"
)

func main() {
	cfg, err := app.LoadClientConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	serverSocketURL := flag.String("server", cfg.ServerURL, "WebSocket URL (e.g., ws://localhost:8080/socket)")
	username := flag.String("user", cfg.Username, "default username for login prompts")
	flag.Parse()

	cfg.ServerURL = *serverSocketURL
	cfg.Username = *username

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
