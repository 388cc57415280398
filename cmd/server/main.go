package main

import (
	"flag"
	"fmt"
	"os"

	"hexascan/config"
	"hexascan/core/appbootstrap"
	"hexascan/core/utils"
)

func main() {
	configPath := flag.String("config", os.Getenv("HEXASCAN_CONFIG"), "path to yaml config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Escalation.SigningSecret == "" {
		fmt.Fprintln(os.Stderr, "HEXASCAN_ESCALATION_SIGNING_SECRET is required")
		os.Exit(1)
	}

	logger := utils.NewLogger()
	defer logger.Sync()

	if err := appbootstrap.Run(cfg, logger); err != nil {
		logger.Errorf("server exited: %v", err)
		os.Exit(1)
	}
}
