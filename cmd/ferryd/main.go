package main

import (
	"context"
	"log"
	"os"

	"ferry/internal/config"
	"ferry/internal/daemonrun"
)

func main() {
	cfg, _, _, err := config.Load(os.Getenv("FERRY_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{}); err != nil {
		log.Fatalf("ferryd: %v", err)
	}
}
