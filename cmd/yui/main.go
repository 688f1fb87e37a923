package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/gungold-XwX/yui-telegram-bot/common/version"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/app"
	"github.com/gungold-XwX/yui-telegram-bot/internal/yui/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("YUI_CONFIG"), "path to the YAML config file")
	flag.Parse()

	fmt.Printf("Yui\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	// A local .env is a convenience for development; absence is fine.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	yui, err := app.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer yui.Stop()

	if err := yui.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running yui: %v\n", err)
		os.Exit(1)
	}
}
