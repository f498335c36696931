package main

import (
	"os"

	"infra-monitor/pkg/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("Command failed", logger.Err(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
